// Package storage persists and caches the item states of one workspace.
// A Manager is the raw bundle store (pebble on disk, or memory-backed
// for tests); SharedISM sits on top with a cache, virtual overlay
// providers and event emission. All mutation travels in ChangeLogs that
// apply atomically: a reader either sees none of a change set or all of
// it.
package storage

import (
	"github.com/google/uuid"
)

// ChildEntry is one named child of a node. Order is preserved for
// orderable node types.
type ChildEntry struct {
	Name string    `cbor:"n"`
	ID   uuid.UUID `cbor:"i"`
}

// NodeState is the persisted state of one node: its place in the tree,
// its type, and its properties.
type NodeState struct {
	ID       uuid.UUID         `cbor:"i"`
	Parent   uuid.UUID         `cbor:"p"`
	Type     string            `cbor:"t"`
	Mixins   []string          `cbor:"m,omitempty"`
	Children []ChildEntry      `cbor:"c,omitempty"`
	Props    map[string]string `cbor:"v,omitempty"`
}

// Clone returns a deep copy, so cached states stay immutable while
// callers edit their copies.
func (s *NodeState) Clone() *NodeState {
	c := &NodeState{
		ID:     s.ID,
		Parent: s.Parent,
		Type:   s.Type,
	}
	if len(s.Mixins) > 0 {
		c.Mixins = append([]string(nil), s.Mixins...)
	}
	if len(s.Children) > 0 {
		c.Children = append([]ChildEntry(nil), s.Children...)
	}
	if len(s.Props) > 0 {
		c.Props = make(map[string]string, len(s.Props))
		for k, v := range s.Props {
			c.Props[k] = v
		}
	}
	return c
}

// Child resolves a child by name.
func (s *NodeState) Child(name string) (uuid.UUID, bool) {
	for _, ce := range s.Children {
		if ce.Name == name {
			return ce.ID, true
		}
	}
	return uuid.Nil, false
}

// AddChild appends a child entry; duplicate names are the caller's
// problem to check first.
func (s *NodeState) AddChild(name string, id uuid.UUID) {
	s.Children = append(s.Children, ChildEntry{Name: name, ID: id})
}

// RemoveChild drops the entry for the given id, keeping order.
func (s *NodeState) RemoveChild(id uuid.UUID) bool {
	for i, ce := range s.Children {
		if ce.ID == id {
			s.Children = append(s.Children[:i], s.Children[i+1:]...)
			return true
		}
	}
	return false
}

// ChangeLog is one atomic change set: states to write and ids to drop.
// Added and Modified are distinguished only for event derivation; the
// store treats both as upserts.
type ChangeLog struct {
	Added    []*NodeState
	Modified []*NodeState
	Deleted  []uuid.UUID
}

// Empty reports whether applying the log would be a no-op.
func (cl *ChangeLog) Empty() bool {
	return len(cl.Added) == 0 && len(cl.Modified) == 0 && len(cl.Deleted) == 0
}

// AddNode records a brand new state.
func (cl *ChangeLog) AddNode(s *NodeState) *ChangeLog {
	cl.Added = append(cl.Added, s)
	return cl
}

// ModifyNode records a changed state.
func (cl *ChangeLog) ModifyNode(s *NodeState) *ChangeLog {
	cl.Modified = append(cl.Modified, s)
	return cl
}

// DeleteNode records a removal.
func (cl *ChangeLog) DeleteNode(id uuid.UUID) *ChangeLog {
	cl.Deleted = append(cl.Deleted, id)
	return cl
}
