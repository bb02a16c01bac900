package search

import (
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hboutemy/jackrabbit/observation"
	"github.com/hboutemy/jackrabbit/registry"
	"github.com/hboutemy/jackrabbit/storage"
	"github.com/hboutemy/jackrabbit/utils"
)

var rootID = uuid.MustParse("cafebabe-cafe-babe-cafe-babecafebabe")

func testlog() utils.Logger {
	return utils.NewDefaultLogger(slog.LevelError)
}

func newISM(t *testing.T, disp *observation.Dispatcher) *storage.SharedISM {
	t.Helper()
	pm, err := storage.Open(storage.Config{Driver: "memory", RootID: rootID, Logger: testlog()})
	require.NoError(t, err)
	t.Cleanup(func() { pm.Close() })
	ism, err := storage.NewShared(pm, rootID, registry.OpenNodeTypes(), disp, testlog())
	require.NoError(t, err)
	return ism
}

func addDoc(t *testing.T, ism *storage.SharedISM, name, text string) uuid.UUID {
	t.Helper()
	root, err := ism.Get(rootID)
	require.NoError(t, err)
	doc := &storage.NodeState{
		ID:     uuid.New(),
		Parent: rootID,
		Type:   "nt:unstructured",
		Props:  map[string]string{"text": text},
	}
	root.AddChild(name, doc.ID)
	require.NoError(t, ism.Apply((&storage.ChangeLog{}).AddNode(doc).ModifyNode(root)))
	return doc.ID
}

func TestQueryAndRanking(t *testing.T) {
	disp := observation.NewDispatcher("default")
	ism := newISM(t, disp)
	m, err := NewManager("default", ism, rootID, nil, disp, testlog())
	require.NoError(t, err)
	defer m.Close()

	once := addDoc(t, ism, "a", "pebble is a storage engine")
	twice := addDoc(t, ism, "b", "pebble pebble everywhere")
	addDoc(t, ism, "c", "nothing relevant here")

	got := m.Query("pebble")
	require.Len(t, got, 2)
	assert.Equal(t, twice, got[0], "more hits rank first")
	assert.Equal(t, once, got[1])

	assert.Empty(t, m.Query("granite"))
	assert.Empty(t, m.Query("   "))
}

func TestQueryIntersectsTokens(t *testing.T) {
	disp := observation.NewDispatcher("default")
	ism := newISM(t, disp)
	m, err := NewManager("default", ism, rootID, nil, disp, testlog())
	require.NoError(t, err)
	defer m.Close()

	both := addDoc(t, ism, "a", "red green")
	addDoc(t, ism, "b", "red only")

	got := m.Query("red green")
	require.Len(t, got, 1)
	assert.Equal(t, both, got[0])
}

func TestIndexFollowsChanges(t *testing.T) {
	disp := observation.NewDispatcher("default")
	ism := newISM(t, disp)
	m, err := NewManager("default", ism, rootID, nil, disp, testlog())
	require.NoError(t, err)
	defer m.Close()

	id := addDoc(t, ism, "a", "original words")
	require.Len(t, m.Query("original"), 1)

	// edit
	st, err := ism.Get(id)
	require.NoError(t, err)
	st.Props["text"] = "replacement words"
	require.NoError(t, ism.Apply((&storage.ChangeLog{}).ModifyNode(st)))
	assert.Empty(t, m.Query("original"))
	assert.Len(t, m.Query("replacement"), 1)

	// remove
	root, err := ism.Get(rootID)
	require.NoError(t, err)
	root.RemoveChild(id)
	require.NoError(t, ism.Apply((&storage.ChangeLog{}).ModifyNode(root).DeleteNode(id)))
	assert.Empty(t, m.Query("replacement"))
}

func TestBuildIndexOverExistingContent(t *testing.T) {
	ism := newISM(t, nil)
	addDoc(t, ism, "a", "preexisting content")

	m, err := NewManager("default", ism, rootID, nil, nil, testlog())
	require.NoError(t, err)
	defer m.Close()
	assert.Len(t, m.Query("preexisting"), 1)
}

func TestParentFallthrough(t *testing.T) {
	sysDisp := observation.NewDispatcher("default")
	sysISM := newISM(t, sysDisp)
	sysHit := addDoc(t, sysISM, "sys", "shared system content")
	sys, err := NewManager("default/system", sysISM, rootID, nil, sysDisp, testlog())
	require.NoError(t, err)
	defer sys.Close()

	wsDisp := observation.NewDispatcher("w2")
	wsISM := newISM(t, wsDisp)
	local := addDoc(t, wsISM, "doc", "local content")
	m, err := NewManager("w2", wsISM, rootID, sys, wsDisp, testlog())
	require.NoError(t, err)
	defer m.Close()

	got := m.Query("content")
	require.Len(t, got, 2)
	assert.Equal(t, local, got[0], "local results come first")
	assert.Equal(t, sysHit, got[1])
}

func TestClosedManager(t *testing.T) {
	disp := observation.NewDispatcher("default")
	ism := newISM(t, disp)
	m, err := NewManager("default", ism, rootID, nil, disp, testlog())
	require.NoError(t, err)
	addDoc(t, ism, "a", "something")

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.Nil(t, m.Query("something"))
	assert.False(t, disp.HasListener(m))
}
