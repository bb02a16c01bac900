package fsys

import (
	"testing"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAreaResources(t *testing.T) {
	a, err := Open(vfs.NewMem(), "/repo/meta")
	require.NoError(t, err)

	_, err = a.ReadResource("rootUUID")
	assert.ErrorIs(t, err, ErrNotExist)

	err = a.WriteResource("rootUUID", []byte("cafebabe"))
	require.NoError(t, err)

	data, err := a.ReadResource("rootUUID")
	require.NoError(t, err)
	assert.Equal(t, []byte("cafebabe"), data)

	// rewrite replaces, never appends
	err = a.WriteResource("rootUUID", []byte("x"))
	require.NoError(t, err)
	data, err = a.ReadResource("rootUUID")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), data)

	ok, err := a.Exists("rootUUID")
	require.NoError(t, err)
	assert.True(t, ok)

	err = a.RemoveResource("rootUUID")
	require.NoError(t, err)
	err = a.RemoveResource("rootUUID")
	require.NoError(t, err)

	ok, err = a.Exists("rootUUID")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAreaBased(t *testing.T) {
	fs := vfs.NewMem()
	a, err := Open(fs, "/repo")
	require.NoError(t, err)

	ws, err := a.Based("workspaces/default")
	require.NoError(t, err)
	require.NoError(t, ws.WriteResource("locks", []byte("{}")))

	names, err := a.List("workspaces")
	require.NoError(t, err)
	assert.Contains(t, names, "default")

	// closing the parent leaves the child usable
	require.NoError(t, a.Close())
	_, err = a.ReadResource("anything")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = ws.ReadResource("locks")
	assert.NoError(t, err)
}

func TestAreaListMissing(t *testing.T) {
	a, err := Open(vfs.NewMem(), "/repo")
	require.NoError(t, err)
	names, err := a.List("nope")
	require.NoError(t, err)
	assert.Empty(t, names)
}
