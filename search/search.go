// Package search maintains the full-text term index of one workspace.
// The manager subscribes to the workspace's observation dispatcher and
// keeps an inverted index over property values; queries intersect term
// postings, rank by hit count, and fall through to a parent manager
// (the system search manager) for system subtree matches.
package search

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hboutemy/jackrabbit/observation"
	"github.com/hboutemy/jackrabbit/storage"
	"github.com/hboutemy/jackrabbit/utils"
)

var QueryCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "jackrabbit",
	Subsystem: "search",
	Name:      "queries",
}, []string{"workspace"})

var IndexUpdateCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "jackrabbit",
	Subsystem: "search",
	Name:      "index_updates",
}, []string{"workspace"})

const queryCacheSize = 512

// Manager is the search manager of one workspace.
type Manager struct {
	workspace  string
	ism        *storage.SharedISM
	rootID     uuid.UUID
	parent     *Manager
	dispatcher *observation.Dispatcher
	log        utils.Logger

	mu       sync.RWMutex
	postings map[uint64]map[uuid.UUID]int

	cache  *lru.Cache[string, []uuid.UUID]
	closed atomic.Bool
}

// NewManager builds the index over the existing content and subscribes
// to the dispatcher. parent may be nil; so may dispatcher (a quiescent
// index, for tests).
func NewManager(workspace string, ism *storage.SharedISM, rootID uuid.UUID, parent *Manager, dispatcher *observation.Dispatcher, log utils.Logger) (*Manager, error) {
	cache, err := lru.New[string, []uuid.UUID](queryCacheSize)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		workspace:  workspace,
		ism:        ism,
		rootID:     rootID,
		parent:     parent,
		dispatcher: dispatcher,
		log:        log,
		postings:   make(map[uint64]map[uuid.UUID]int),
		cache:      cache,
	}
	if err := m.buildIndex(); err != nil {
		return nil, err
	}
	if dispatcher != nil {
		dispatcher.AddListener(m)
	}
	return m, nil
}

// buildIndex walks the tree from the root and indexes what is already
// there, so a re-initialized workspace searches its old content.
func (m *Manager) buildIndex() error {
	seen := map[uuid.UUID]bool{}
	queue := []uuid.UUID{m.rootID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		st, err := m.ism.Get(id)
		if err != nil {
			if err == storage.ErrNotFound {
				continue
			}
			return err
		}
		m.indexState(st)
		for _, ce := range st.Children {
			queue = append(queue, ce.ID)
		}
	}
	return nil
}

func tokenize(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

func termKey(token string) uint64 {
	return xxhash.Sum64String(token)
}

func (m *Manager) indexState(st *storage.NodeState) {
	m.mu.Lock()
	for _, v := range st.Props {
		for _, tok := range tokenize(v) {
			k := termKey(tok)
			ids := m.postings[k]
			if ids == nil {
				ids = make(map[uuid.UUID]int)
				m.postings[k] = ids
			}
			ids[st.ID]++
		}
	}
	m.mu.Unlock()
}

func (m *Manager) unindex(id uuid.UUID) {
	m.mu.Lock()
	for k, ids := range m.postings {
		if _, ok := ids[id]; ok {
			delete(ids, id)
			if len(ids) == 0 {
				delete(m.postings, k)
			}
		}
	}
	m.mu.Unlock()
}

// reindex refreshes one node from its current state; a vanished node is
// simply dropped from the index.
func (m *Manager) reindex(id uuid.UUID) {
	m.unindex(id)
	st, err := m.ism.Get(id)
	if err != nil {
		return
	}
	m.indexState(st)
}

// OnEvents keeps the index in step with committed changes.
func (m *Manager) OnEvents(events []observation.Event) {
	if m.closed.Load() {
		return
	}
	touched := map[uuid.UUID]bool{}
	removed := map[uuid.UUID]bool{}
	for _, ev := range events {
		switch ev.Type {
		case observation.NodeRemoved:
			removed[ev.ID] = true
		case observation.NodeAdded, observation.PropertyAdded,
			observation.PropertyChanged, observation.PropertyRemoved:
			touched[ev.ID] = true
		}
	}
	for id := range removed {
		m.unindex(id)
		delete(touched, id)
	}
	for id := range touched {
		m.reindex(id)
	}
	if len(touched)+len(removed) > 0 {
		m.cache.Purge()
		IndexUpdateCount.WithLabelValues(m.workspace).Inc()
	}
}

// Query returns node ids matching every token of the text, best hits
// first, local results before parent (system) results.
func (m *Manager) Query(text string) []uuid.UUID {
	if m.closed.Load() {
		return nil
	}
	QueryCount.WithLabelValues(m.workspace).Inc()

	key := strings.Join(tokenize(text), " ")
	if key == "" {
		return nil
	}
	if hit, ok := m.cache.Get(key); ok {
		return append([]uuid.UUID(nil), hit...)
	}

	scores := m.collectScores(key)
	out := rank(scores)
	if m.parent != nil {
		for _, id := range m.parent.Query(text) {
			if _, dup := scores[id]; !dup {
				out = append(out, id)
			}
		}
	}
	m.cache.Add(key, out)
	return append([]uuid.UUID(nil), out...)
}

func (m *Manager) collectScores(key string) map[uuid.UUID]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var scores map[uuid.UUID]int
	for _, tok := range strings.Fields(key) {
		ids := m.postings[termKey(tok)]
		if len(ids) == 0 {
			return nil
		}
		if scores == nil {
			scores = make(map[uuid.UUID]int, len(ids))
			for id, n := range ids {
				scores[id] = n
			}
			continue
		}
		for id := range scores {
			n, ok := ids[id]
			if !ok {
				delete(scores, id)
			} else {
				scores[id] += n
			}
		}
		if len(scores) == 0 {
			return nil
		}
	}
	return scores
}

// rank orders ids by descending score. Scores pack into the high bits
// of a heap key, inverted so the min-heap pops the best hit first; the
// low bits carry the slot index so keys never collide.
func rank(scores map[uuid.UUID]int) []uuid.UUID {
	if len(scores) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(scores))
	h := utils.Heap[uint64]{}
	for id, sc := range scores {
		idx := uint64(len(ids))
		ids = append(ids, id)
		if sc > 1<<31 {
			sc = 1 << 31
		}
		h.Push((1<<32-uint64(sc))<<32 | idx)
	}
	out := make([]uuid.UUID, 0, len(ids))
	for h.Len() > 0 {
		out = append(out, ids[h.Pop()&0xffffffff])
	}
	return out
}

// Close detaches from the dispatcher and drops the index.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	if m.dispatcher != nil {
		if err := m.dispatcher.RemoveListener(m); err != nil && err != observation.ErrNotKnown {
			return err
		}
	}
	m.mu.Lock()
	m.postings = nil
	m.mu.Unlock()
	m.cache.Purge()
	return nil
}
