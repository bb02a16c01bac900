// Package jackrabbit is the control plane of a hierarchical content
// repository: one exclusively locked instance per home directory,
// holding named workspaces whose resource bundles are materialized on
// first login and evicted again when idle. Item storage, search,
// locking and versioning are pluggable collaborators; this package owns
// their lifecycle and the concurrency around it.
package jackrabbit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/hboutemy/jackrabbit/fsys"
	"github.com/hboutemy/jackrabbit/instancelock"
	"github.com/hboutemy/jackrabbit/observation"
	"github.com/hboutemy/jackrabbit/registry"
	"github.com/hboutemy/jackrabbit/search"
	"github.com/hboutemy/jackrabbit/utils"
	"github.com/hboutemy/jackrabbit/version"
)

// Repository is the process-wide repository instance.
type Repository struct {
	opts Options
	log  utils.Logger

	ilock *instancelock.Lock
	home  *fsys.Area
	meta  *fsys.Area

	namespaces *registry.Namespaces
	nodeTypes  *registry.NodeTypes
	versions   *version.Manager
	delegating *observation.Delegating
	stats      *repoStats

	// gate is the shutdown coordinator: logins hold the read side,
	// Close the write side. disposed is set under the write side and
	// mirrored for lock-free fast-fail checks.
	gate     sync.RWMutex
	disposed atomic.Bool

	wsMu       sync.Mutex
	workspaces map[string]*workspaceInfo

	sessions     *xsync.MapOf[uuid.UUID, *Session]
	systemSearch *search.Manager

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Open starts the repository instance over the given home directory.
// On any startup failure the partial instance is shut down again before
// the error returns; a process never keeps a half-started repository.
func Open(home string, opts Options) (repo *Repository, err error) {
	opts.SetDefaults()
	log := opts.Logger

	if err := vfs.Default.MkdirAll(home, 0755); err != nil {
		return nil, fmt.Errorf("create repository home: %w", err)
	}
	ilock, err := instancelock.Acquire(home, log)
	if err != nil {
		if errors.Is(err, instancelock.ErrHeld) {
			return nil, errors.Join(ErrLockHeld, err)
		}
		return nil, errors.Join(ErrLockIO, err)
	}

	r := &Repository{
		opts:       opts,
		log:        log,
		ilock:      ilock,
		delegating: &observation.Delegating{},
		workspaces: map[string]*workspaceInfo{},
		sessions:   xsync.NewMapOf[uuid.UUID, *Session](),
	}
	defer func() {
		if err != nil {
			r.shutdown()
		}
	}()

	if r.home, err = fsys.Open(vfs.Default, home); err != nil {
		return nil, err
	}
	if r.meta, err = r.home.Based(metaDir); err != nil {
		return nil, err
	}
	if err = loadRootID(r.meta, log); err != nil {
		return nil, err
	}
	if r.stats, err = openStats(r.meta, log); err != nil {
		return nil, err
	}
	// repository-wide subscription: one count per committed change, no
	// matter how many workspaces the batch fans out to
	r.delegating.AddListener(r.stats)
	if r.namespaces, err = registry.OpenNamespaces(r.meta, log); err != nil {
		return nil, err
	}
	r.nodeTypes = registry.OpenNodeTypes()

	var verArea *fsys.Area
	if verArea, err = r.home.Based(versionDir); err != nil {
		return nil, err
	}
	if r.versions, err = version.Open(version.Config{
		Area:       verArea,
		Driver:     opts.Driver,
		RootID:     VersionStorageID,
		Delegating: r.delegating,
		Logger:     log,
	}); err != nil {
		return nil, err
	}

	for _, wc := range opts.Workspaces {
		if wc.Name == "" {
			continue
		}
		r.workspaces[wc.Name] = newWorkspaceInfo(r, wc)
	}
	if _, ok := r.workspaces[opts.DefaultWorkspace]; !ok {
		r.workspaces[opts.DefaultWorkspace] = newWorkspaceInfo(r, WorkspaceOptions{Name: opts.DefaultWorkspace})
	}
	if err = r.rescanWorkspaces(); err != nil {
		return nil, err
	}

	// the default workspace comes up eagerly; its failure is fatal
	def := r.workspaces[opts.DefaultWorkspace]
	if err = def.initialize(); err != nil {
		return nil, err
	}
	if r.systemSearch, err = def.searchManager(); err != nil {
		return nil, err
	}

	if maxIdle := time.Duration(opts.MaxIdleTime); maxIdle > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		r.cancel = cancel
		r.wg.Add(1)
		go r.runJanitor(ctx, maxIdle)
	}
	log.Info("repository open", "home", home, "workspaces", len(r.workspaces))
	return r, nil
}

// rescanWorkspaces registers descriptors for workspace directories a
// previous run created that the configuration does not list.
func (r *Repository) rescanWorkspaces() error {
	names, err := r.home.List(workspacesDir)
	if err != nil {
		return err
	}
	for _, name := range names {
		if _, ok := r.workspaces[name]; ok {
			continue
		}
		fi, err := r.home.FS().Stat(r.home.Path(workspacesDir + "/" + name))
		if err != nil || !fi.IsDir() {
			continue
		}
		r.workspaces[name] = newWorkspaceInfo(r, WorkspaceOptions{Name: name})
		r.log.Info("found existing workspace", "workspace", name)
	}
	return nil
}

// Login authenticates the caller against one workspace, materializing
// the workspace's resource bundle if this is its first use.
func (r *Repository) Login(creds Credentials, workspace string) (*Session, error) {
	start := time.Now()
	r.gate.RLock()
	defer r.gate.RUnlock()
	if r.disposed.Load() {
		return nil, ErrAlreadyDisposed
	}
	if workspace == "" {
		workspace = r.opts.DefaultWorkspace
	}
	w := r.lookupWorkspace(workspace)
	if w == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchWorkspace, workspace)
	}
	if err := w.initialize(); err != nil {
		return nil, err
	}
	user, err := r.opts.Security.authenticate(creds)
	if err != nil {
		return nil, err
	}
	if !w.allows(user) {
		return nil, fmt.Errorf("%w: user %q on workspace %q", ErrAccessDenied, user, workspace)
	}
	ism, err := w.currentISM()
	if err != nil {
		return nil, err
	}
	s := r.newSession(user, w, ism, true)
	w.markActive()
	r.stats.recordLogin(time.Since(start))
	r.log.Debug("login", "session", s.id, "user", user, "workspace", workspace)
	return s, nil
}

func (r *Repository) lookupWorkspace(name string) *workspaceInfo {
	r.wsMu.Lock()
	defer r.wsMu.Unlock()
	return r.workspaces[name]
}

// CreateWorkspace registers a new workspace and creates its storage
// area. The workspace is not initialized until its first login.
func (r *Repository) CreateWorkspace(name, driver string) error {
	r.gate.RLock()
	defer r.gate.RUnlock()
	if r.disposed.Load() {
		return ErrAlreadyDisposed
	}
	if name == "" {
		return errors.New("jackrabbit: workspace name must not be empty")
	}
	r.wsMu.Lock()
	defer r.wsMu.Unlock()
	if _, ok := r.workspaces[name]; ok {
		return fmt.Errorf("%w: %q", ErrWorkspaceExists, name)
	}
	// create the directory now so a restart's rescan finds it
	area, err := r.home.Based(workspacesDir + "/" + name)
	if err != nil {
		return err
	}
	_ = area.Close()
	r.workspaces[name] = newWorkspaceInfo(r, WorkspaceOptions{Name: name, Driver: driver})
	r.log.Info("workspace created", "workspace", name)
	return nil
}

// WorkspaceNames returns a sorted snapshot of the registered names.
func (r *Repository) WorkspaceNames() []string {
	r.wsMu.Lock()
	defer r.wsMu.Unlock()
	names := make([]string, 0, len(r.workspaces))
	for name := range r.workspaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WorkspaceStates reports each workspace's lifecycle state by name.
func (r *Repository) WorkspaceStates() map[string]string {
	r.wsMu.Lock()
	defer r.wsMu.Unlock()
	out := make(map[string]string, len(r.workspaces))
	for name, w := range r.workspaces {
		out[name] = w.currentState().String()
	}
	return out
}

// Descriptors returns the repository descriptor table: built-in
// key/values merged with everything persisted in the properties
// resource, statistics included.
func (r *Repository) Descriptors() map[string]string {
	return r.stats.descriptors()
}

func (r *Repository) Descriptor(key string) (string, bool) {
	return r.stats.descriptor(key)
}

// Stats returns the running node and property totals.
func (r *Repository) Stats() (nodes, properties int64) {
	return r.stats.counts()
}

// SyncStats persists the statistics snapshot without waiting for
// shutdown.
func (r *Repository) SyncStats() error {
	return r.stats.flush()
}

// Namespaces exposes the shared namespace registry.
func (r *Repository) Namespaces() *registry.Namespaces {
	return r.namespaces
}

// NodeTypes exposes the shared node type registry.
func (r *Repository) NodeTypes() *registry.NodeTypes {
	return r.nodeTypes
}

// parentSearch resolves the system search manager a workspace search
// manager falls through to. The default workspace carries the system
// index itself, so it gets none.
func (r *Repository) parentSearch(w *workspaceInfo) *search.Manager {
	if w.name == r.opts.DefaultWorkspace {
		return nil
	}
	return r.systemSearch
}

// Close shuts the repository down. The write side of the gate keeps
// logins out; once it is held no session can be mid-construction.
// Closing twice is a cheap no-op.
func (r *Repository) Close() error {
	r.gate.Lock()
	defer r.gate.Unlock()
	if r.disposed.Load() {
		return nil
	}
	r.shutdown()
	return nil
}

// shutdown runs the teardown sequence. The caller either holds the
// write gate or is a failed Open that nobody else references yet. Each
// step is its own failure domain: an error is logged and the remaining
// steps still run.
func (r *Repository) shutdown() {
	r.log.Info("repository shutting down")

	var snapshot []*Session
	r.sessions.Range(func(_ uuid.UUID, s *Session) bool {
		snapshot = append(snapshot, s)
		return true
	})
	for _, s := range snapshot {
		if err := s.Logout(); err != nil {
			r.log.Warn("logout at shutdown failed", "session", s.id, "error", err)
		}
	}

	r.wsMu.Lock()
	wss := make([]*workspaceInfo, 0, len(r.workspaces))
	for _, w := range r.workspaces {
		wss = append(wss, w)
	}
	r.wsMu.Unlock()
	for _, w := range wss {
		w.dispose(true)
	}

	if r.systemSearch != nil {
		if err := r.systemSearch.Close(); err != nil {
			r.log.Warn("system search close failed", "error", err)
		}
	}
	if r.versions != nil {
		if err := r.versions.Close(); err != nil {
			r.log.Warn("version manager close failed", "error", err)
		}
	}
	if r.stats != nil {
		if err := r.stats.close(); err != nil {
			r.log.Warn("statistics flush failed", "error", err)
		}
	}
	if r.meta != nil {
		_ = r.meta.Close()
	}
	if r.home != nil {
		_ = r.home.Close()
	}

	r.disposed.Store(true)
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()

	if r.ilock != nil {
		if err := r.ilock.Release(); err != nil {
			r.log.Warn("instance lock release failed", "error", err)
		}
	}
	r.log.Info("repository closed")
}
