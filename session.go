package jackrabbit

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/hboutemy/jackrabbit/storage"
	"github.com/hboutemy/jackrabbit/version"
)

// lifecycleSink is the narrow session-lifecycle surface the repository
// exposes to its sessions.
type lifecycleSink interface {
	sessionClosed(*Session)
}

// Session is one authenticated connection to one workspace. All writes
// travel through the workspace's shared item state manager as atomic
// change sets; after Logout every operation fails with ErrNotLoggedIn.
type Session struct {
	id        uuid.UUID
	user      string
	workspace *workspaceInfo
	ism       *storage.SharedISM
	sink      lifecycleSink
	tracked   bool
	live      atomic.Bool
}

// newSession wires a session over an already-resolved workspace view.
// Tracked sessions register with the repository's session tracker;
// system sessions do not, so they never count as workspace activity.
func (r *Repository) newSession(user string, w *workspaceInfo, ism *storage.SharedISM, tracked bool) *Session {
	s := &Session{
		id:        uuid.Must(uuid.NewV7()),
		user:      user,
		workspace: w,
		ism:       ism,
		sink:      r,
		tracked:   tracked,
	}
	s.live.Store(true)
	if tracked {
		r.sessions.Store(s.id, s)
	}
	return s
}

func (s *Session) ID() uuid.UUID     { return s.id }
func (s *Session) User() string      { return s.user }
func (s *Session) Workspace() string { return s.workspace.name }

func (s *Session) ensure() error {
	if !s.live.Load() {
		return ErrNotLoggedIn
	}
	return nil
}

func isProtected(id uuid.UUID) bool {
	return id == SystemRootID || id == VersionStorageID || id == NodeTypesID
}

// checkWritable refuses writes to nodes locked by another owner,
// honoring deep locks on ancestors.
func (s *Session) checkWritable(id uuid.UUID) error {
	lm, err := s.workspace.lockManager()
	if err != nil {
		return err
	}
	if entry, holder, ok := lm.Holder(id); ok && entry.Owner != s.user {
		return fmt.Errorf("%w: %s held by %q", ErrLocked, holder, entry.Owner)
	}
	return nil
}

// RootNode returns the workspace root node.
func (s *Session) RootNode() (*storage.NodeState, error) {
	return s.Node(RootNodeID)
}

// Node returns a private copy of the node's state.
func (s *Session) Node(id uuid.UUID) (*storage.NodeState, error) {
	if err := s.ensure(); err != nil {
		return nil, err
	}
	return s.ism.Get(id)
}

// AddNode creates a child node under parent and returns its state.
func (s *Session) AddNode(parent uuid.UUID, name, typ string) (*storage.NodeState, error) {
	if err := s.ensure(); err != nil {
		return nil, err
	}
	if isProtected(parent) {
		return nil, fmt.Errorf("%w: %s", ErrProtected, parent)
	}
	if err := s.checkWritable(parent); err != nil {
		return nil, err
	}
	p, err := s.ism.Get(parent)
	if err != nil {
		return nil, err
	}
	st := &storage.NodeState{
		ID:     uuid.Must(uuid.NewV7()),
		Parent: parent,
		Type:   typ,
	}
	p.AddChild(name, st.ID)
	if err := s.ism.Apply((&storage.ChangeLog{}).AddNode(st).ModifyNode(p)); err != nil {
		return nil, err
	}
	return st, nil
}

// SetProperty writes one property value.
func (s *Session) SetProperty(node uuid.UUID, name, value string) error {
	if err := s.ensure(); err != nil {
		return err
	}
	if isProtected(node) {
		return fmt.Errorf("%w: %s", ErrProtected, node)
	}
	if err := s.checkWritable(node); err != nil {
		return err
	}
	st, err := s.ism.Get(node)
	if err != nil {
		return err
	}
	if st.Props == nil {
		st.Props = map[string]string{}
	}
	st.Props[name] = value
	return s.ism.Apply((&storage.ChangeLog{}).ModifyNode(st))
}

// RemoveProperty drops one property; removing an absent one is a no-op.
func (s *Session) RemoveProperty(node uuid.UUID, name string) error {
	if err := s.ensure(); err != nil {
		return err
	}
	if isProtected(node) {
		return fmt.Errorf("%w: %s", ErrProtected, node)
	}
	if err := s.checkWritable(node); err != nil {
		return err
	}
	st, err := s.ism.Get(node)
	if err != nil {
		return err
	}
	if _, ok := st.Props[name]; !ok {
		return nil
	}
	delete(st.Props, name)
	return s.ism.Apply((&storage.ChangeLog{}).ModifyNode(st))
}

// RemoveNode deletes the node and its whole subtree in one change set.
func (s *Session) RemoveNode(id uuid.UUID) error {
	if err := s.ensure(); err != nil {
		return err
	}
	if id == RootNodeID || isProtected(id) {
		return fmt.Errorf("%w: %s", ErrProtected, id)
	}
	if err := s.checkWritable(id); err != nil {
		return err
	}
	st, err := s.ism.Get(id)
	if err != nil {
		return err
	}
	parent, err := s.ism.Get(st.Parent)
	if err != nil {
		return err
	}
	parent.RemoveChild(id)
	cl := (&storage.ChangeLog{}).ModifyNode(parent)
	stack := []*storage.NodeState{st}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		cl.DeleteNode(n.ID)
		for _, ce := range n.Children {
			child, cerr := s.ism.Get(ce.ID)
			if cerr != nil {
				continue
			}
			stack = append(stack, child)
		}
	}
	return s.ism.Apply(cl)
}

// Search queries the workspace full-text index.
func (s *Session) Search(text string) ([]uuid.UUID, error) {
	if err := s.ensure(); err != nil {
		return nil, err
	}
	sm, err := s.workspace.searchManager()
	if err != nil {
		return nil, err
	}
	return sm.Query(text), nil
}

// Lock takes a lock on the node for this session's user. Session-scoped
// locks die with the session; open-scoped ones persist in the workspace
// lock table.
func (s *Session) Lock(id uuid.UUID, deep, sessionScoped bool) error {
	if err := s.ensure(); err != nil {
		return err
	}
	lm, err := s.workspace.lockManager()
	if err != nil {
		return err
	}
	return lm.Lock(id, s.user, deep, sessionScoped)
}

func (s *Session) Unlock(id uuid.UUID) error {
	if err := s.ensure(); err != nil {
		return err
	}
	lm, err := s.workspace.lockManager()
	if err != nil {
		return err
	}
	return lm.Unlock(id, s.user)
}

// Checkin freezes the node's current state as a new version in the
// repository-wide version store.
func (s *Session) Checkin(id uuid.UUID) (version.Version, error) {
	if err := s.ensure(); err != nil {
		return version.Version{}, err
	}
	st, err := s.ism.Get(id)
	if err != nil {
		return version.Version{}, err
	}
	return s.workspace.r.versions.CreateVersion(st)
}

// VersionHistory lists the versions created for the node.
func (s *Session) VersionHistory(id uuid.UUID) ([]version.Version, error) {
	if err := s.ensure(); err != nil {
		return nil, err
	}
	return s.workspace.r.versions.Versions(id)
}

// Logout ends the session and deregisters it. Logging out twice is
// harmless.
func (s *Session) Logout() error {
	if !s.live.CompareAndSwap(true, false) {
		return nil
	}
	s.sink.sessionClosed(s)
	return nil
}

// close marks the session dead without the lifecycle round-trip; used
// for system sessions during workspace disposal.
func (s *Session) close() {
	s.live.Store(false)
}

// sessionClosed implements the session-lifecycle callback: deregister
// from the tracker and drop the session-scoped locks.
func (r *Repository) sessionClosed(s *Session) {
	if s.tracked {
		r.sessions.Delete(s.id)
	}
	if lm := s.workspace.lockManagerIfBuilt(); lm != nil {
		if err := lm.ReleaseSessionLocks(s.user); err != nil {
			r.log.Warn("session lock release failed", "session", s.id, "error", err)
		}
	}
	r.log.Debug("logout", "session", s.id, "user", s.user, "workspace", s.workspace.name)
}
