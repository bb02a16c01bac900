// Package version keeps the repository-wide version store: immutable
// labeled snapshots of node states. The store lives in its own area
// (one per repository, not per workspace) and its content is exposed to
// every workspace as a virtual subtree under the version storage root.
package version

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hboutemy/jackrabbit/fsys"
	"github.com/hboutemy/jackrabbit/observation"
	"github.com/hboutemy/jackrabbit/storage"
	"github.com/hboutemy/jackrabbit/utils"
)

var (
	ErrNoHistory = errors.New("version: node has no version history")
	ErrClosed    = errors.New("version: manager is closed")
)

const (
	createdProp     = "jcr:created"
	frozenTypeProp  = "jcr:frozenPrimaryType"
	frozenPrefix    = "frozen:"
	versionableProp = "jcr:versionableUuid"
)

// Config parameterizes the version manager.
type Config struct {
	Area   *fsys.Area
	Driver string
	RootID uuid.UUID
	// Delegating, when set, receives a repository-wide event for every
	// created version so all live workspaces observe it.
	Delegating *observation.Delegating
	Logger     utils.Logger
}

// Version is one snapshot in a node's history.
type Version struct {
	Name    string
	ID      uuid.UUID
	Created time.Time
}

// Manager owns the version store.
type Manager struct {
	mgr        storage.Manager
	rootID     uuid.UUID
	delegating *observation.Delegating
	log        utils.Logger

	mu     sync.Mutex
	closed atomic.Bool
}

// Open opens (or creates) the version store under its own area.
func Open(cfg Config) (*Manager, error) {
	mgr, err := storage.Open(storage.Config{
		Driver: cfg.Driver,
		Area:   cfg.Area,
		Logger: cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	m := &Manager{
		mgr:        mgr,
		rootID:     cfg.RootID,
		delegating: cfg.Delegating,
		log:        cfg.Logger,
	}
	ok, err := mgr.Exists(cfg.RootID)
	if err != nil {
		mgr.Close()
		return nil, err
	}
	if !ok {
		root := &storage.NodeState{ID: cfg.RootID, Type: "rep:versionStorage"}
		if err := mgr.Apply((&storage.ChangeLog{}).AddNode(root)); err != nil {
			mgr.Close()
			return nil, err
		}
	}
	return m, nil
}

// historyID derives the deterministic history node id for a versionable
// node, so histories are addressable without an extra lookup table.
func (m *Manager) historyID(nodeID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(m.rootID, nodeID[:])
}

// CreateVersion freezes the given state as the next version in the
// node's history, creating the history on first use.
func (m *Manager) CreateVersion(st *storage.NodeState) (Version, error) {
	if m.closed.Load() {
		return Version{}, ErrClosed
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cl := &storage.ChangeLog{}
	histID := m.historyID(st.ID)
	hist, err := m.mgr.Load(histID)
	switch {
	case err == storage.ErrNotFound:
		hist = &storage.NodeState{
			ID:     histID,
			Parent: m.rootID,
			Type:   "nt:versionHistory",
			Props:  map[string]string{versionableProp: st.ID.String()},
		}
		root, err := m.mgr.Load(m.rootID)
		if err != nil {
			return Version{}, err
		}
		root.AddChild(st.ID.String(), histID)
		cl.AddNode(hist).ModifyNode(root)
	case err != nil:
		return Version{}, err
	default:
		cl.ModifyNode(hist)
	}

	ver := Version{
		Name:    strconv.Itoa(len(hist.Children) + 1),
		ID:      uuid.Must(uuid.NewV7()),
		Created: time.Now().UTC(),
	}
	frozen := &storage.NodeState{
		ID:     ver.ID,
		Parent: histID,
		Type:   "nt:version",
		Props: map[string]string{
			createdProp:    ver.Created.Format(time.RFC3339Nano),
			frozenTypeProp: st.Type,
		},
	}
	for k, v := range st.Props {
		frozen.Props[frozenPrefix+k] = v
	}
	hist.AddChild(ver.Name, ver.ID)
	cl.AddNode(frozen)

	if err := m.mgr.Apply(cl); err != nil {
		return Version{}, err
	}
	if m.delegating != nil {
		m.delegating.DispatchAll([]observation.Event{{
			Type:   observation.NodeAdded,
			ID:     ver.ID,
			Parent: histID,
			Name:   ver.Name,
		}})
	}
	return ver, nil
}

// History returns the history node of a versioned node.
func (m *Manager) History(nodeID uuid.UUID) (*storage.NodeState, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	hist, err := m.mgr.Load(m.historyID(nodeID))
	if err == storage.ErrNotFound {
		return nil, ErrNoHistory
	}
	return hist, err
}

// Versions lists a node's versions in creation order.
func (m *Manager) Versions(nodeID uuid.UUID) ([]Version, error) {
	hist, err := m.History(nodeID)
	if err != nil {
		return nil, err
	}
	out := make([]Version, 0, len(hist.Children))
	for _, ce := range hist.Children {
		vs, err := m.mgr.Load(ce.ID)
		if err != nil {
			return nil, fmt.Errorf("version: unloadable version %s: %w", ce.ID, err)
		}
		created, _ := time.Parse(time.RFC3339Nano, vs.Props[createdProp])
		out = append(out, Version{Name: ce.Name, ID: ce.ID, Created: created})
	}
	return out, nil
}

// Frozen returns the snapshot payload of a version: the node type and
// properties as they were when the version was created.
func (m *Manager) Frozen(versionID uuid.UUID) (string, map[string]string, error) {
	if m.closed.Load() {
		return "", nil, ErrClosed
	}
	vs, err := m.mgr.Load(versionID)
	if err != nil {
		return "", nil, err
	}
	props := make(map[string]string)
	for k, v := range vs.Props {
		if len(k) > len(frozenPrefix) && k[:len(frozenPrefix)] == frozenPrefix {
			props[k[len(frozenPrefix):]] = v
		}
	}
	return vs.Props[frozenTypeProp], props, nil
}

// Provider exposes the version store as a read-only overlay for
// workspace item state managers.
func (m *Manager) Provider() storage.VirtualProvider {
	return provider{m}
}

type provider struct {
	m *Manager
}

func (p provider) HasState(id uuid.UUID) bool {
	if p.m.closed.Load() {
		return false
	}
	ok, err := p.m.mgr.Exists(id)
	return err == nil && ok
}

func (p provider) State(id uuid.UUID) (*storage.NodeState, bool) {
	if p.m.closed.Load() {
		return nil, false
	}
	st, err := p.m.mgr.Load(id)
	if err != nil {
		return nil, false
	}
	return st, true
}

// Close shuts the version store down. Idempotent.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	return m.mgr.Close()
}
