// Package locking keeps the open-scoped lock table of one workspace. A
// lock belongs to a session owner until released; a deep lock covers
// the whole subtree under the locked node. The table persists to the
// workspace file area so locks survive a workspace bounce.
package locking

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/hboutemy/jackrabbit/fsys"
	"github.com/hboutemy/jackrabbit/storage"
	"github.com/hboutemy/jackrabbit/utils"
)

var (
	ErrLocked    = errors.New("locking: node is locked")
	ErrNotLocked = errors.New("locking: node is not locked")
	ErrNotOwner  = errors.New("locking: lock held by another owner")
	ErrClosed    = errors.New("locking: manager is closed")
)

const lockResource = "locks.yaml"

// maxDepth caps the ancestor walk for deep lock checks, in case a
// corrupted store produces a parent cycle.
const maxDepth = 64

// Entry is one held lock. Session-scoped locks die with their session
// and are never persisted; open-scoped ones survive a workspace bounce.
type Entry struct {
	Owner   string `yaml:"owner"`
	Deep    bool   `yaml:"deep,omitempty"`
	Session bool   `yaml:"-"`
}

// Manager is the lock table of one workspace.
type Manager struct {
	mu     sync.Mutex
	locks  map[uuid.UUID]Entry
	ism    *storage.SharedISM
	area   *fsys.Area
	log    utils.Logger
	closed bool
}

// Open loads the persisted table, if any.
func Open(ism *storage.SharedISM, area *fsys.Area, log utils.Logger) (*Manager, error) {
	m := &Manager{
		locks: make(map[uuid.UUID]Entry),
		ism:   ism,
		area:  area,
		log:   log,
	}
	data, err := area.ReadResource(lockResource)
	if errors.Is(err, fsys.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, err
	}
	var raw map[string]Entry
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	for k, e := range raw {
		id, err := uuid.Parse(k)
		if err != nil {
			log.Warn("skipping unparseable lock entry", "key", k)
			continue
		}
		m.locks[id] = e
	}
	return m, nil
}

// Lock takes a lock for owner. Refused when the node itself is locked
// or any ancestor holds a deep lock.
func (m *Manager) Lock(id uuid.UUID, owner string, deep, sessionScoped bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, _, ok := m.holderLocked(id); ok {
		return ErrLocked
	}
	m.locks[id] = Entry{Owner: owner, Deep: deep, Session: sessionScoped}
	return m.storeLocked()
}

// Unlock releases a lock held directly on the node by this owner.
func (m *Manager) Unlock(id uuid.UUID, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	e, ok := m.locks[id]
	if !ok {
		return ErrNotLocked
	}
	if e.Owner != owner {
		return ErrNotOwner
	}
	delete(m.locks, id)
	return m.storeLocked()
}

// ReleaseSessionLocks drops the owner's session-scoped locks, for
// logout. Open-scoped locks stay.
func (m *Manager) ReleaseSessionLocks(owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for id, e := range m.locks {
		if e.Owner == owner && e.Session {
			delete(m.locks, id)
		}
	}
	return nil
}

// Holder resolves the lock covering the node: the node's own lock, or
// the nearest ancestor's deep lock. The second result is the node the
// lock actually sits on.
func (m *Manager) Holder(id uuid.UUID) (Entry, uuid.UUID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holderLocked(id)
}

func (m *Manager) holderLocked(id uuid.UUID) (Entry, uuid.UUID, bool) {
	if e, ok := m.locks[id]; ok {
		return e, id, true
	}
	cur := id
	for depth := 0; depth < maxDepth; depth++ {
		st, err := m.ism.Get(cur)
		if err != nil {
			return Entry{}, uuid.Nil, false
		}
		if st.Parent == uuid.Nil {
			return Entry{}, uuid.Nil, false
		}
		if e, ok := m.locks[st.Parent]; ok && e.Deep {
			return e, st.Parent, true
		}
		cur = st.Parent
	}
	return Entry{}, uuid.Nil, false
}

// IsLocked reports whether the node is covered by any lock.
func (m *Manager) IsLocked(id uuid.UUID) bool {
	_, _, ok := m.Holder(id)
	return ok
}

func (m *Manager) storeLocked() error {
	raw := make(map[string]Entry, len(m.locks))
	for id, e := range m.locks {
		if e.Session {
			continue
		}
		raw[id.String()] = e
	}
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return m.area.WriteResource(lockResource, data)
}

// Close persists the table one last time and refuses further use.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	err := m.storeLocked()
	m.closed = true
	return err
}
