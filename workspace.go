package jackrabbit

import (
	"errors"
	"sync"
	"time"

	"github.com/hboutemy/jackrabbit/fsys"
	"github.com/hboutemy/jackrabbit/locking"
	"github.com/hboutemy/jackrabbit/observation"
	"github.com/hboutemy/jackrabbit/search"
	"github.com/hboutemy/jackrabbit/storage"
)

type wsState int

const (
	wsUninitialized wsState = iota
	wsInitializing
	wsReady
	wsDisposed
)

func (s wsState) String() string {
	switch s {
	case wsUninitialized:
		return "uninitialized"
	case wsInitializing:
		return "initializing"
	case wsReady:
		return "ready"
	case wsDisposed:
		return "disposed"
	}
	return "unknown"
}

// workspaceInfo is the descriptor of one named workspace: its immutable
// configuration plus the lazily materialized resource bundle. The
// mutex/cond pair is the descriptor gate; it serializes initialization
// and disposal and parks waiters until the state settles. The bundle
// fields are either all set (Ready) or all nil, never in between.
type workspaceInfo struct {
	r      *Repository
	name   string
	driver string
	access []string

	mu        sync.Mutex
	cond      *sync.Cond
	state     wsState
	idleSince time.Time

	area       *fsys.Area
	mgr        storage.Manager
	ism        *storage.SharedISM
	dispatcher *observation.Dispatcher
	collector  *storage.StoreCollector

	// lazily bound helpers; sysMu is never held together with mu
	sysMu     sync.Mutex
	system    *Session
	lockMgr   *locking.Manager
	searchMgr *search.Manager
}

func newWorkspaceInfo(r *Repository, cfg WorkspaceOptions) *workspaceInfo {
	driver := cfg.Driver
	if driver == "" {
		driver = r.opts.Driver
	}
	w := &workspaceInfo{r: r, name: cfg.Name, driver: driver, access: cfg.Access}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// wsBundle carries a constructed resource set so it becomes visible on
// the descriptor in one assignment.
type wsBundle struct {
	area       *fsys.Area
	mgr        storage.Manager
	ism        *storage.SharedISM
	dispatcher *observation.Dispatcher
	collector  *storage.StoreCollector
}

// initialize drives the descriptor to Ready. At most one caller runs
// the construction; the rest wait on the cond and re-check. A failed
// construction resets to Uninitialized so the next caller retries.
func (w *workspaceInfo) initialize() error {
	w.mu.Lock()
	for {
		switch w.state {
		case wsReady:
			w.mu.Unlock()
			return nil
		case wsDisposed:
			w.mu.Unlock()
			return ErrAlreadyDisposed
		case wsInitializing:
			w.cond.Wait()
		case wsUninitialized:
			w.state = wsInitializing
			w.mu.Unlock()

			b, err := w.build()

			w.mu.Lock()
			if err != nil {
				w.state = wsUninitialized
				w.cond.Broadcast()
				w.mu.Unlock()
				w.r.log.Error("workspace initialization failed", "workspace", w.name, "error", err)
				return errors.Join(ErrWorkspaceInitFailed, err)
			}
			w.area, w.mgr, w.ism = b.area, b.mgr, b.ism
			w.dispatcher, w.collector = b.dispatcher, b.collector
			w.idleSince = time.Time{}
			w.state = wsReady
			w.cond.Broadcast()
			w.mu.Unlock()
			w.r.log.Info("workspace ready", "workspace", w.name)
			return nil
		}
	}
}

// build constructs the resource bundle. Runs outside the descriptor
// gate; on failure whatever opened is released again.
func (w *workspaceInfo) build() (b wsBundle, err error) {
	defer func() {
		if err != nil {
			b.release(w)
		}
	}()

	b.area, err = w.r.home.Based(workspacesDir + "/" + w.name)
	if err != nil {
		return b, err
	}
	b.mgr, err = storage.Open(storage.Config{
		Driver: w.driver,
		Area:   b.area,
		RootID: RootNodeID,
		Logger: w.r.log,
	})
	if err != nil {
		return b, err
	}
	b.dispatcher = observation.NewDispatcher(w.name)
	b.ism, err = storage.NewShared(b.mgr, RootNodeID, w.r.nodeTypes, b.dispatcher, w.r.log)
	if err != nil {
		return b, err
	}
	b.ism.AddVirtualProvider(storage.NewNodeTypeProvider(w.r.nodeTypes, NodeTypesID, SystemRootID))
	b.ism.AddVirtualProvider(w.r.versions.Provider())

	// register on the repository fanout before the first write so the
	// repository-wide listeners observe the system bootstrap below
	w.r.delegating.AddDispatcher(b.dispatcher)
	if err = bootstrapSystem(b.ism); err != nil {
		return b, err
	}

	if w.r.opts.Registerer != nil {
		if c, ok := storage.NewStoreCollector(b.mgr, w.name); ok {
			if rerr := w.r.opts.Registerer.Register(c); rerr != nil {
				w.r.log.Warn("store collector not registered", "workspace", w.name, "error", rerr)
			} else {
				b.collector = c
			}
		}
	}
	return b, nil
}

// release undoes a partial build.
func (b *wsBundle) release(w *workspaceInfo) {
	if b.ism != nil {
		b.ism.Dispose()
	}
	if b.dispatcher != nil {
		_ = w.r.delegating.RemoveDispatcher(b.dispatcher)
		b.dispatcher.Close()
	}
	if b.mgr != nil {
		if err := b.mgr.Close(); err != nil {
			w.r.log.Warn("persistence manager close failed", "workspace", w.name, "error", err)
		}
	}
	if b.area != nil {
		_ = b.area.Close()
	}
}

// bootstrapSystem ensures the fixed-id system skeleton below the root:
// the system root with its version-storage and node-types children. A
// no-op when the subtree already exists.
func bootstrapSystem(ism *storage.SharedISM) error {
	if ism.Has(SystemRootID) {
		return nil
	}
	root, err := ism.Get(RootNodeID)
	if err != nil {
		return err
	}
	sys := &storage.NodeState{
		ID:     SystemRootID,
		Parent: RootNodeID,
		Type:   "rep:system",
		Children: []storage.ChildEntry{
			{Name: "jcr:versionStorage", ID: VersionStorageID},
			{Name: "jcr:nodeTypes", ID: NodeTypesID},
		},
	}
	root.AddChild("jcr:system", SystemRootID)
	return ism.Apply((&storage.ChangeLog{}).AddNode(sys).ModifyNode(root))
}

// dispose tears the bundle down and resets the descriptor; with
// terminal set it ends in the Disposed state instead and can never be
// re-initialized. Every close failure is logged and swallowed so the
// remaining resources are still released.
func (w *workspaceInfo) dispose(terminal bool) {
	w.mu.Lock()
	for w.state == wsInitializing {
		w.cond.Wait()
	}
	if w.state != wsReady {
		if terminal && w.state != wsDisposed {
			w.state = wsDisposed
			w.cond.Broadcast()
		}
		w.mu.Unlock()
		return
	}
	w.state = wsInitializing
	area, mgr, ism := w.area, w.mgr, w.ism
	dispatcher, collector := w.dispatcher, w.collector
	w.area, w.mgr, w.ism, w.dispatcher, w.collector = nil, nil, nil, nil, nil
	w.mu.Unlock()

	w.sysMu.Lock()
	system, lockMgr, searchMgr := w.system, w.lockMgr, w.searchMgr
	w.system, w.lockMgr, w.searchMgr = nil, nil, nil
	w.sysMu.Unlock()

	log := w.r.log
	log.Info("disposing workspace", "workspace", w.name)
	if err := w.r.delegating.RemoveDispatcher(dispatcher); err != nil {
		log.Warn("dispatcher was not registered", "workspace", w.name, "error", err)
	}
	dispatcher.Close()
	if collector != nil {
		w.r.opts.Registerer.Unregister(collector)
	}
	if searchMgr != nil {
		if err := searchMgr.Close(); err != nil {
			log.Warn("search manager close failed", "workspace", w.name, "error", err)
		}
	}
	if system != nil {
		system.close()
	}
	ism.Dispose()
	if err := mgr.Close(); err != nil {
		log.Warn("persistence manager close failed", "workspace", w.name, "error", err)
	}
	if lockMgr != nil {
		if err := lockMgr.Close(); err != nil {
			log.Warn("lock manager close failed", "workspace", w.name, "error", err)
		}
	}
	if err := area.Close(); err != nil {
		log.Warn("file area close failed", "workspace", w.name, "error", err)
	}

	w.mu.Lock()
	w.idleSince = time.Time{}
	if terminal {
		w.state = wsDisposed
	} else {
		w.state = wsUninitialized
	}
	w.cond.Broadcast()
	w.mu.Unlock()
}

// disposeIfIdle is the janitor's probe. The first call that finds the
// workspace without sessions stamps the idle time; a later call past
// the threshold evicts.
func (w *workspaceInfo) disposeIfIdle(threshold time.Duration) {
	w.mu.Lock()
	if w.state != wsReady {
		w.mu.Unlock()
		return
	}
	if w.idleSince.IsZero() {
		w.idleSince = time.Now()
		w.mu.Unlock()
		return
	}
	if time.Since(w.idleSince) < threshold {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()
	w.r.log.Info("evicting idle workspace", "workspace", w.name)
	w.dispose(false)
}

// markActive zeroes the idle stamp, typically on login.
func (w *workspaceInfo) markActive() {
	w.mu.Lock()
	w.idleSince = time.Time{}
	w.mu.Unlock()
}

func (w *workspaceInfo) currentState() wsState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// currentISM returns the live item state manager, failing fast when the
// bundle is not Ready.
func (w *workspaceInfo) currentISM() (*storage.SharedISM, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != wsReady {
		return nil, ErrAlreadyDisposed
	}
	return w.ism, nil
}

// allows checks the workspace access list. The system user and an empty
// list admit everyone.
func (w *workspaceInfo) allows(user string) bool {
	if len(w.access) == 0 || user == systemUser {
		return true
	}
	for _, u := range w.access {
		if u == user {
			return true
		}
	}
	return false
}

// systemSession returns the workspace's internal maintenance session,
// building it on first use. It is never tracked, so it cannot keep the
// workspace looking busy.
func (w *workspaceInfo) systemSession() (*Session, error) {
	ism, err := w.currentISM()
	if err != nil {
		return nil, err
	}
	w.sysMu.Lock()
	defer w.sysMu.Unlock()
	if w.system == nil {
		w.system = w.r.newSession(systemUser, w, ism, false)
	}
	return w.system, nil
}

// lockManager lazily opens the lock table over the system session's
// view of the workspace.
func (w *workspaceInfo) lockManager() (*locking.Manager, error) {
	sys, err := w.systemSession()
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	area := w.area
	w.mu.Unlock()
	if area == nil {
		return nil, ErrAlreadyDisposed
	}
	w.sysMu.Lock()
	defer w.sysMu.Unlock()
	if w.lockMgr == nil {
		lm, err := locking.Open(sys.ism, area, w.r.log)
		if err != nil {
			return nil, err
		}
		w.lockMgr = lm
	}
	return w.lockMgr, nil
}

// lockManagerIfBuilt returns the lock manager only if some operation
// already forced it into existence.
func (w *workspaceInfo) lockManagerIfBuilt() *locking.Manager {
	w.sysMu.Lock()
	defer w.sysMu.Unlock()
	return w.lockMgr
}

// searchManager lazily builds the workspace search index, reading
// through the system session and falling through to the repository's
// system search manager.
func (w *workspaceInfo) searchManager() (*search.Manager, error) {
	sys, err := w.systemSession()
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	dispatcher := w.dispatcher
	w.mu.Unlock()
	if dispatcher == nil {
		return nil, ErrAlreadyDisposed
	}
	w.sysMu.Lock()
	defer w.sysMu.Unlock()
	if w.searchMgr == nil {
		sm, err := search.NewManager(w.name, sys.ism, RootNodeID, w.r.parentSearch(w), dispatcher, w.r.log)
		if err != nil {
			return nil, err
		}
		w.searchMgr = sm
	}
	return w.searchMgr, nil
}
