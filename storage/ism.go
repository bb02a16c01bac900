package storage

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hboutemy/jackrabbit/observation"
	"github.com/hboutemy/jackrabbit/registry"
	"github.com/hboutemy/jackrabbit/utils"
)

const itemCacheSize = 1024

var ErrBadNodeType = errors.New("storage: unregistered node type")

// VirtualProvider overlays externally-owned states (version storage,
// the node type subtree) onto a workspace's item space. Providers are
// consulted before the durable store and their states are never cached.
type VirtualProvider interface {
	HasState(id uuid.UUID) bool
	State(id uuid.UUID) (*NodeState, bool)
}

// SharedISM is the shared item state manager of one workspace: an lru
// cache over the persistence manager, with virtual overlays and event
// emission. Writes are serialized; reads run concurrently.
type SharedISM struct {
	mgr        Manager
	rootID     uuid.UUID
	types      *registry.NodeTypes
	dispatcher *observation.Dispatcher
	cache      *lru.Cache[uuid.UUID, *NodeState]
	log        utils.Logger

	provMu    sync.RWMutex
	providers []VirtualProvider

	writeMu  sync.Mutex
	disposed atomic.Bool
}

// NewShared builds the ISM over an opened manager. The root bundle must
// already exist (the driver creates it on first open). The dispatcher
// may be nil when nobody observes.
func NewShared(mgr Manager, rootID uuid.UUID, types *registry.NodeTypes, dispatcher *observation.Dispatcher, log utils.Logger) (*SharedISM, error) {
	cache, err := lru.New[uuid.UUID, *NodeState](itemCacheSize)
	if err != nil {
		return nil, err
	}
	ok, err := mgr.Exists(rootID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: root bundle %s", ErrNotFound, rootID)
	}
	return &SharedISM{
		mgr:        mgr,
		rootID:     rootID,
		types:      types,
		dispatcher: dispatcher,
		cache:      cache,
		log:        log,
	}, nil
}

func (s *SharedISM) RootID() uuid.UUID { return s.rootID }

// AddVirtualProvider attaches an overlay. Called after construction,
// before the workspace is handed out.
func (s *SharedISM) AddVirtualProvider(p VirtualProvider) {
	s.provMu.Lock()
	s.providers = append(s.providers, p)
	s.provMu.Unlock()
}

func (s *SharedISM) virtualState(id uuid.UUID) (*NodeState, bool) {
	s.provMu.RLock()
	defer s.provMu.RUnlock()
	for _, p := range s.providers {
		if st, ok := p.State(id); ok {
			return st, true
		}
	}
	return nil, false
}

// Get returns a private copy of the state; callers may edit it freely
// and submit the result in a ChangeLog.
func (s *SharedISM) Get(id uuid.UUID) (*NodeState, error) {
	if s.disposed.Load() {
		return nil, ErrClosed
	}
	if st, ok := s.cache.Get(id); ok {
		return st.Clone(), nil
	}
	if st, ok := s.virtualState(id); ok {
		return st, nil
	}
	st, err := s.mgr.Load(id)
	if err != nil {
		return nil, err
	}
	s.cache.Add(id, st)
	return st.Clone(), nil
}

// Has reports whether the item exists in the cache, an overlay, or the
// store.
func (s *SharedISM) Has(id uuid.UUID) bool {
	if s.disposed.Load() {
		return false
	}
	if s.cache.Contains(id) {
		return true
	}
	s.provMu.RLock()
	for _, p := range s.providers {
		if p.HasState(id) {
			s.provMu.RUnlock()
			return true
		}
	}
	s.provMu.RUnlock()
	ok, err := s.mgr.Exists(id)
	return err == nil && ok
}

// lookup fetches the current persisted state without cloning, for event
// derivation. Returns nil when absent.
func (s *SharedISM) lookup(id uuid.UUID) *NodeState {
	if st, ok := s.cache.Get(id); ok {
		return st
	}
	st, err := s.mgr.Load(id)
	if err != nil {
		return nil
	}
	return st
}

// Apply commits one change set: validate, derive events against the
// pre-change states, store atomically, refresh the cache, dispatch.
func (s *SharedISM) Apply(cl *ChangeLog) error {
	if s.disposed.Load() {
		return ErrClosed
	}
	if cl.Empty() {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for _, st := range cl.Added {
		if !s.types.Has(st.Type) {
			return fmt.Errorf("%w: %q", ErrBadNodeType, st.Type)
		}
	}
	for _, st := range cl.Modified {
		if !s.types.Has(st.Type) {
			return fmt.Errorf("%w: %q", ErrBadNodeType, st.Type)
		}
	}

	events := s.deriveEvents(cl)

	if err := s.mgr.Apply(cl); err != nil {
		return err
	}
	for _, st := range cl.Added {
		s.cache.Add(st.ID, st.Clone())
	}
	for _, st := range cl.Modified {
		s.cache.Add(st.ID, st.Clone())
	}
	for _, id := range cl.Deleted {
		s.cache.Remove(id)
	}
	if s.dispatcher != nil {
		s.dispatcher.Dispatch(events)
	}
	return nil
}

// deriveEvents turns a change set into the observation batch. Must run
// before the log is applied, while the old states are still loadable.
func (s *SharedISM) deriveEvents(cl *ChangeLog) []observation.Event {
	var events []observation.Event

	childName := func(parentID, childID uuid.UUID) string {
		// the updated parent usually travels in the same change set
		for _, st := range cl.Modified {
			if st.ID == parentID {
				for _, ce := range st.Children {
					if ce.ID == childID {
						return ce.Name
					}
				}
			}
		}
		for _, st := range cl.Added {
			if st.ID == parentID {
				for _, ce := range st.Children {
					if ce.ID == childID {
						return ce.Name
					}
				}
			}
		}
		return ""
	}

	for _, st := range cl.Added {
		events = append(events, observation.Event{
			Type:   observation.NodeAdded,
			ID:     st.ID,
			Parent: st.Parent,
			Name:   childName(st.Parent, st.ID),
		})
		for name := range st.Props {
			events = append(events, observation.Event{
				Type: observation.PropertyAdded,
				ID:   st.ID,
				Name: name,
			})
		}
	}
	for _, st := range cl.Modified {
		old := s.lookup(st.ID)
		if old == nil {
			continue
		}
		for name := range st.Props {
			if _, had := old.Props[name]; !had {
				events = append(events, observation.Event{
					Type: observation.PropertyAdded, ID: st.ID, Name: name,
				})
			} else if old.Props[name] != st.Props[name] {
				events = append(events, observation.Event{
					Type: observation.PropertyChanged, ID: st.ID, Name: name,
				})
			}
		}
		for name := range old.Props {
			if _, has := st.Props[name]; !has {
				events = append(events, observation.Event{
					Type: observation.PropertyRemoved, ID: st.ID, Name: name,
				})
			}
		}
	}
	for _, id := range cl.Deleted {
		old := s.lookup(id)
		if old == nil {
			continue
		}
		ev := observation.Event{
			Type:   observation.NodeRemoved,
			ID:     id,
			Parent: old.Parent,
		}
		if parent := s.lookup(old.Parent); parent != nil {
			for _, ce := range parent.Children {
				if ce.ID == id {
					ev.Name = ce.Name
					break
				}
			}
		}
		events = append(events, ev)
		for name := range old.Props {
			events = append(events, observation.Event{
				Type: observation.PropertyRemoved, ID: id, Name: name,
			})
		}
	}
	return events
}

// Dispose drops the cache and refuses further use. The persistence
// manager stays open; its owner closes it separately.
func (s *SharedISM) Dispose() {
	if !s.disposed.CompareAndSwap(false, true) {
		return
	}
	s.cache.Purge()
}
