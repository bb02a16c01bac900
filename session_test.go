package jackrabbit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hboutemy/jackrabbit/locking"
	"github.com/hboutemy/jackrabbit/storage"
	"github.com/hboutemy/jackrabbit/version"
)

func openSessionPair(t *testing.T) (*Repository, *Session, *Session) {
	t.Helper()
	opts := memOptions()
	opts.Security.Users = map[string]string{"alice": "a", "bob": "b"}
	r, err := Open(t.TempDir(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	alice, err := r.Login(Credentials{User: "alice", Password: "a"}, "")
	require.NoError(t, err)
	bob, err := r.Login(Credentials{User: "bob", Password: "b"}, "")
	require.NoError(t, err)
	return r, alice, bob
}

func TestSessionContentLifecycle(t *testing.T) {
	r, err := Open(t.TempDir(), memOptions())
	require.NoError(t, err)
	defer r.Close()
	s, err := r.Login(Anonymous(), "")
	require.NoError(t, err)

	root, err := s.RootNode()
	require.NoError(t, err)
	assert.Equal(t, RootNodeID, root.ID)

	docs, err := s.AddNode(RootNodeID, "docs", "nt:folder")
	require.NoError(t, err)
	got, err := s.Node(docs.ID)
	require.NoError(t, err)
	assert.Equal(t, "nt:folder", got.Type)
	assert.Equal(t, RootNodeID, got.Parent)

	root, err = s.RootNode()
	require.NoError(t, err)
	_, found := root.Child("docs")
	assert.True(t, found)

	require.NoError(t, s.SetProperty(docs.ID, "title", "quarterly numbers"))
	got, err = s.Node(docs.ID)
	require.NoError(t, err)
	assert.Equal(t, "quarterly numbers", got.Props["title"])

	require.NoError(t, s.RemoveProperty(docs.ID, "title"))
	require.NoError(t, s.RemoveProperty(docs.ID, "title"), "removing an absent property is a no-op")
	got, err = s.Node(docs.ID)
	require.NoError(t, err)
	assert.NotContains(t, got.Props, "title")

	_, err = s.AddNode(docs.ID, "draft", "nt:notype")
	assert.ErrorIs(t, err, storage.ErrBadNodeType)

	require.NoError(t, s.RemoveNode(docs.ID))
	_, err = s.Node(docs.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	root, err = s.RootNode()
	require.NoError(t, err)
	_, found = root.Child("docs")
	assert.False(t, found)

	require.NoError(t, s.Logout())
}

func TestSubtreeRemovalCountsEveryItem(t *testing.T) {
	r, err := Open(t.TempDir(), memOptions())
	require.NoError(t, err)
	defer r.Close()
	s, err := r.Login(Anonymous(), "")
	require.NoError(t, err)
	defer s.Logout()

	top, err := s.AddNode(RootNodeID, "top", "nt:unstructured")
	require.NoError(t, err)
	mid, err := s.AddNode(top.ID, "mid", "nt:unstructured")
	require.NoError(t, err)
	_, err = s.AddNode(mid.ID, "leaf", "nt:unstructured")
	require.NoError(t, err)
	require.NoError(t, s.SetProperty(mid.ID, "note", "short lived"))

	nodes, props := r.Stats()
	require.NoError(t, s.RemoveNode(top.ID))
	nodesAfter, propsAfter := r.Stats()
	assert.Equal(t, nodes-3, nodesAfter, "the whole subtree goes in one change set")
	assert.Equal(t, props-1, propsAfter)

	_, err = s.Node(mid.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestProtectedNodesRefuseWrites(t *testing.T) {
	r, err := Open(t.TempDir(), memOptions())
	require.NoError(t, err)
	defer r.Close()
	s, err := r.Login(Anonymous(), "")
	require.NoError(t, err)
	defer s.Logout()

	_, err = s.AddNode(SystemRootID, "intruder", "nt:unstructured")
	assert.ErrorIs(t, err, ErrProtected)
	assert.ErrorIs(t, s.SetProperty(NodeTypesID, "x", "y"), ErrProtected)
	assert.ErrorIs(t, s.RemoveNode(RootNodeID), ErrProtected)
	assert.ErrorIs(t, s.RemoveNode(VersionStorageID), ErrProtected)
}

func TestSystemSubtreeVisible(t *testing.T) {
	r, err := Open(t.TempDir(), memOptions())
	require.NoError(t, err)
	defer r.Close()
	s, err := r.Login(Anonymous(), "")
	require.NoError(t, err)
	defer s.Logout()

	sys, err := s.Node(SystemRootID)
	require.NoError(t, err)
	assert.Equal(t, "rep:system", sys.Type)
	vsID, ok := sys.Child("jcr:versionStorage")
	require.True(t, ok)
	assert.Equal(t, VersionStorageID, vsID)
	ntID, ok := sys.Child("jcr:nodeTypes")
	require.True(t, ok)
	assert.Equal(t, NodeTypesID, ntID)

	vs, err := s.Node(VersionStorageID)
	require.NoError(t, err)
	assert.Equal(t, "rep:versionStorage", vs.Type)

	nt, err := s.Node(NodeTypesID)
	require.NoError(t, err)
	assert.Equal(t, "rep:nodeTypes", nt.Type)
	assert.NotEmpty(t, nt.Children, "built-in types are served as virtual children")
}

func TestLoggedOutSessionRefusesEverything(t *testing.T) {
	r, err := Open(t.TempDir(), memOptions())
	require.NoError(t, err)
	defer r.Close()
	s, err := r.Login(Anonymous(), "")
	require.NoError(t, err)

	require.NoError(t, s.Logout())
	require.NoError(t, s.Logout(), "second logout is a no-op")

	_, err = s.RootNode()
	assert.ErrorIs(t, err, ErrNotLoggedIn)
	_, err = s.AddNode(RootNodeID, "x", "nt:unstructured")
	assert.ErrorIs(t, err, ErrNotLoggedIn)
	assert.ErrorIs(t, s.SetProperty(RootNodeID, "a", "b"), ErrNotLoggedIn)
	assert.ErrorIs(t, s.RemoveNode(RootNodeID), ErrNotLoggedIn)
	_, err = s.Search("anything")
	assert.ErrorIs(t, err, ErrNotLoggedIn)
	_, err = s.Checkin(RootNodeID)
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestLockBlocksOtherOwners(t *testing.T) {
	_, alice, bob := openSessionPair(t)

	st, err := alice.AddNode(RootNodeID, "contested", "nt:unstructured")
	require.NoError(t, err)
	require.NoError(t, alice.Lock(st.ID, false, false))

	err = bob.SetProperty(st.ID, "claim", "mine")
	assert.ErrorIs(t, err, ErrLocked)
	assert.ErrorIs(t, bob.Unlock(st.ID), locking.ErrNotOwner)
	assert.ErrorIs(t, bob.Lock(st.ID, false, false), locking.ErrLocked)

	require.NoError(t, alice.SetProperty(st.ID, "claim", "still mine"),
		"the holder keeps writing")

	require.NoError(t, alice.Unlock(st.ID))
	assert.NoError(t, bob.SetProperty(st.ID, "claim", "mine now"))
}

func TestDeepLockCoversSubtree(t *testing.T) {
	_, alice, bob := openSessionPair(t)

	top, err := alice.AddNode(RootNodeID, "deep", "nt:unstructured")
	require.NoError(t, err)
	child, err := alice.AddNode(top.ID, "child", "nt:unstructured")
	require.NoError(t, err)
	free, err := alice.AddNode(RootNodeID, "free", "nt:unstructured")
	require.NoError(t, err)

	require.NoError(t, alice.Lock(top.ID, true, false))

	assert.ErrorIs(t, bob.SetProperty(child.ID, "x", "y"), ErrLocked)
	_, err = bob.AddNode(child.ID, "grandchild", "nt:unstructured")
	assert.ErrorIs(t, err, ErrLocked)
	assert.NoError(t, bob.SetProperty(free.ID, "x", "y"),
		"a deep lock covers its subtree only")

	require.NoError(t, alice.Unlock(top.ID))
}

func TestSessionScopedLockDiesWithSession(t *testing.T) {
	r, alice, bob := openSessionPair(t)

	st, err := alice.AddNode(RootNodeID, "fleeting", "nt:unstructured")
	require.NoError(t, err)
	require.NoError(t, alice.Lock(st.ID, false, true))
	assert.ErrorIs(t, bob.SetProperty(st.ID, "x", "y"), ErrLocked)

	require.NoError(t, alice.Logout())
	assert.NoError(t, bob.SetProperty(st.ID, "x", "y"),
		"a session-scoped lock dies with its session")
	_ = r
}

func TestOpenScopedLockSurvivesRestart(t *testing.T) {
	home := t.TempDir()
	opts := Options{Logger: testlog()} // durable driver
	opts.Security.Users = map[string]string{"alice": "a", "bob": "b"}

	r, err := Open(home, opts)
	require.NoError(t, err)
	alice, err := r.Login(Credentials{User: "alice", Password: "a"}, "")
	require.NoError(t, err)
	st, err := alice.AddNode(RootNodeID, "kept", "nt:unstructured")
	require.NoError(t, err)
	require.NoError(t, alice.Lock(st.ID, false, false))
	require.NoError(t, alice.Logout())
	require.NoError(t, r.Close())

	r, err = Open(home, opts)
	require.NoError(t, err)
	defer r.Close()
	bob, err := r.Login(Credentials{User: "bob", Password: "b"}, "")
	require.NoError(t, err)
	assert.ErrorIs(t, bob.SetProperty(st.ID, "x", "y"), ErrLocked,
		"open-scoped locks outlive the instance")

	alice, err = r.Login(Credentials{User: "alice", Password: "a"}, "")
	require.NoError(t, err)
	require.NoError(t, alice.Unlock(st.ID))
	assert.NoError(t, bob.SetProperty(st.ID, "x", "y"))
	require.NoError(t, alice.Logout())
	require.NoError(t, bob.Logout())
}

func TestCheckinBuildsHistory(t *testing.T) {
	r, err := Open(t.TempDir(), memOptions())
	require.NoError(t, err)
	defer r.Close()
	s, err := r.Login(Anonymous(), "")
	require.NoError(t, err)
	defer s.Logout()

	st, err := s.AddNode(RootNodeID, "document", "nt:unstructured")
	require.NoError(t, err)
	require.NoError(t, s.SetProperty(st.ID, "rev", "first"))

	v1, err := s.Checkin(st.ID)
	require.NoError(t, err)
	assert.Equal(t, "1", v1.Name)
	assert.False(t, v1.Created.IsZero())

	require.NoError(t, s.SetProperty(st.ID, "rev", "second"))
	v2, err := s.Checkin(st.ID)
	require.NoError(t, err)
	assert.Equal(t, "2", v2.Name)

	hist, err := s.VersionHistory(st.ID)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "1", hist[0].Name)
	assert.Equal(t, "2", hist[1].Name)

	// versions are reachable as virtual items of the workspace
	frozen, err := s.Node(v1.ID)
	require.NoError(t, err)
	assert.Equal(t, "nt:version", frozen.Type)
	assert.Equal(t, "first", frozen.Props["frozen:rev"])

	other, err := s.AddNode(RootNodeID, "plain", "nt:unstructured")
	require.NoError(t, err)
	_, err = s.VersionHistory(other.ID)
	assert.ErrorIs(t, err, version.ErrNoHistory)
}

func TestSearchThroughSessions(t *testing.T) {
	opts := memOptions()
	opts.Workspaces = []WorkspaceOptions{{Name: "side"}}
	r, err := Open(t.TempDir(), opts)
	require.NoError(t, err)
	defer r.Close()
	s, err := r.Login(Anonymous(), "")
	require.NoError(t, err)
	defer s.Logout()

	report, err := s.AddNode(RootNodeID, "report", "nt:unstructured")
	require.NoError(t, err)
	require.NoError(t, s.SetProperty(report.ID, "title", "Quarterly Report"))
	list, err := s.AddNode(RootNodeID, "list", "nt:unstructured")
	require.NoError(t, err)
	require.NoError(t, s.SetProperty(list.ID, "title", "shopping list"))

	hits, err := s.Search("report")
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, report.ID, hits[0])
	assert.NotContains(t, hits, list.ID)

	// another workspace falls through to the system index
	side, err := r.Login(Anonymous(), "side")
	require.NoError(t, err)
	defer side.Logout()
	hits, err = side.Search("quarterly")
	require.NoError(t, err)
	assert.Contains(t, hits, report.ID)
}
