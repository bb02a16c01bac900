// Package observation carries content change events from the storage
// layer to whoever subscribed: search managers indexing their workspace
// and the repository keeping its running statistics. Listeners are
// narrow on purpose; a subscriber only ever receives event batches.
package observation

import "github.com/google/uuid"

// EventType is a bitmask of content change kinds.
type EventType uint8

const (
	NodeAdded EventType = 1 << iota
	NodeRemoved
	PropertyAdded
	PropertyRemoved
	PropertyChanged
)

func (t EventType) String() string {
	switch t {
	case NodeAdded:
		return "node-added"
	case NodeRemoved:
		return "node-removed"
	case PropertyAdded:
		return "property-added"
	case PropertyRemoved:
		return "property-removed"
	case PropertyChanged:
		return "property-changed"
	}
	return "unknown"
}

// Event is one observed change. Name is the child or property name the
// change is about, Parent the owning node for node events.
type Event struct {
	Type      EventType
	ID        uuid.UUID
	Parent    uuid.UUID
	Name      string
	Workspace string
}

// Listener receives event batches. A batch belongs to one committed
// change set of one workspace.
type Listener interface {
	OnEvents(events []Event)
}
