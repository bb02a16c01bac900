package locking

import (
	"log/slog"
	"testing"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hboutemy/jackrabbit/fsys"
	"github.com/hboutemy/jackrabbit/registry"
	"github.com/hboutemy/jackrabbit/storage"
	"github.com/hboutemy/jackrabbit/utils"
)

var rootID = uuid.MustParse("cafebabe-cafe-babe-cafe-babecafebabe")

type fixture struct {
	mgr    *Manager
	ism    *storage.SharedISM
	area   *fsys.Area
	folder uuid.UUID
	file   uuid.UUID
}

func setup(t *testing.T) *fixture {
	t.Helper()
	log := utils.NewDefaultLogger(slog.LevelError)
	area, err := fsys.Open(vfs.NewMem(), "/ws")
	require.NoError(t, err)
	pm, err := storage.Open(storage.Config{Driver: "memory", RootID: rootID, Logger: log})
	require.NoError(t, err)
	t.Cleanup(func() { pm.Close() })
	ism, err := storage.NewShared(pm, rootID, registry.OpenNodeTypes(), nil, log)
	require.NoError(t, err)

	// root -> folder -> file
	root, err := ism.Get(rootID)
	require.NoError(t, err)
	folder := &storage.NodeState{ID: uuid.New(), Parent: rootID, Type: "nt:folder"}
	file := &storage.NodeState{ID: uuid.New(), Parent: folder.ID, Type: "nt:file"}
	folder.AddChild("f", file.ID)
	root.AddChild("docs", folder.ID)
	cl := (&storage.ChangeLog{}).AddNode(folder).AddNode(file).ModifyNode(root)
	require.NoError(t, ism.Apply(cl))

	mgr, err := Open(ism, area, log)
	require.NoError(t, err)
	return &fixture{mgr: mgr, ism: ism, area: area, folder: folder.ID, file: file.ID}
}

func TestLockUnlock(t *testing.T) {
	f := setup(t)

	require.NoError(t, f.mgr.Lock(f.file, "alice", false, false))
	assert.True(t, f.mgr.IsLocked(f.file))
	assert.False(t, f.mgr.IsLocked(f.folder))

	assert.ErrorIs(t, f.mgr.Lock(f.file, "bob", false, false), ErrLocked)
	assert.ErrorIs(t, f.mgr.Unlock(f.file, "bob"), ErrNotOwner)
	assert.ErrorIs(t, f.mgr.Unlock(f.folder, "alice"), ErrNotLocked)

	require.NoError(t, f.mgr.Unlock(f.file, "alice"))
	assert.False(t, f.mgr.IsLocked(f.file))
}

func TestDeepLockCoversSubtree(t *testing.T) {
	f := setup(t)

	require.NoError(t, f.mgr.Lock(f.folder, "alice", true, false))

	e, holder, ok := f.mgr.Holder(f.file)
	require.True(t, ok)
	assert.Equal(t, "alice", e.Owner)
	assert.Equal(t, f.folder, holder)

	assert.ErrorIs(t, f.mgr.Lock(f.file, "bob", false, false), ErrLocked)

	require.NoError(t, f.mgr.Unlock(f.folder, "alice"))
	assert.False(t, f.mgr.IsLocked(f.file))
}

func TestShallowLockDoesNotCoverChildren(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.mgr.Lock(f.folder, "alice", false, false))
	assert.False(t, f.mgr.IsLocked(f.file))
	require.NoError(t, f.mgr.Lock(f.file, "bob", false, false))
}

func TestOpenScopedPersistsAcrossReopen(t *testing.T) {
	f := setup(t)
	log := utils.NewDefaultLogger(slog.LevelError)

	require.NoError(t, f.mgr.Lock(f.folder, "alice", false, false))
	require.NoError(t, f.mgr.Lock(f.file, "bob", false, true))
	require.NoError(t, f.mgr.Close())

	m2, err := Open(f.ism, f.area, log)
	require.NoError(t, err)
	assert.True(t, m2.IsLocked(f.folder), "open-scoped lock survives")
	assert.False(t, m2.IsLocked(f.file), "session-scoped lock does not")
}

func TestReleaseSessionLocks(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.mgr.Lock(f.folder, "alice", false, true))
	require.NoError(t, f.mgr.Lock(f.file, "alice", false, false))
	require.NoError(t, f.mgr.ReleaseSessionLocks("alice"))
	assert.False(t, f.mgr.IsLocked(f.folder))
	assert.True(t, f.mgr.IsLocked(f.file), "open-scoped lock stays after logout")
}

func TestClosedManager(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.mgr.Close())
	require.NoError(t, f.mgr.Close())
	assert.ErrorIs(t, f.mgr.Lock(f.file, "alice", false, false), ErrClosed)
}
