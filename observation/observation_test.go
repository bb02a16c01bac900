package observation

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

type recordingListener struct {
	batches [][]Event
}

func (r *recordingListener) OnEvents(events []Event) {
	r.batches = append(r.batches, events)
}

func TestFanoutAddRemove(t *testing.T) {
	f := &Fanout{}
	a, b := &recordingListener{}, &recordingListener{}

	f.AddListener(a)
	f.AddListener(b)
	assert.True(t, f.HasListener(a))

	f.OnEvents([]Event{{Type: NodeAdded, ID: uuid.New()}})
	assert.Len(t, a.batches, 1)
	assert.Len(t, b.batches, 1)

	assert.NoError(t, f.RemoveListener(a))
	assert.False(t, f.HasListener(a))
	assert.ErrorIs(t, f.RemoveListener(a), ErrNotKnown)

	f.OnEvents([]Event{{Type: NodeRemoved, ID: uuid.New()}})
	assert.Len(t, a.batches, 1)
	assert.Len(t, b.batches, 2)
}

func TestFanoutEmptyBatch(t *testing.T) {
	f := &Fanout{}
	a := &recordingListener{}
	f.AddListener(a)
	f.OnEvents(nil)
	assert.Empty(t, a.batches)
}

func TestDispatcherStampsWorkspace(t *testing.T) {
	d := NewDispatcher("w2")
	l := &recordingListener{}
	d.AddListener(l)

	d.Dispatch([]Event{{Type: PropertyAdded, ID: uuid.New()}})

	assert.Len(t, l.batches, 1)
	assert.Equal(t, "w2", l.batches[0][0].Workspace)
}

func TestDispatcherClose(t *testing.T) {
	d := NewDispatcher("w2")
	l := &recordingListener{}
	d.AddListener(l)
	d.Close()
	d.Dispatch([]Event{{Type: NodeAdded}})
	assert.Empty(t, l.batches)
}

func TestDelegatingDispatchAll(t *testing.T) {
	g := &Delegating{}
	d1, d2 := NewDispatcher("default"), NewDispatcher("w2")
	l1, l2 := &recordingListener{}, &recordingListener{}
	d1.AddListener(l1)
	d2.AddListener(l2)
	g.AddDispatcher(d1)
	g.AddDispatcher(d2)

	g.DispatchAll([]Event{{Type: NodeAdded, ID: uuid.New()}})
	assert.Len(t, l1.batches, 1)
	assert.Len(t, l2.batches, 1)

	assert.NoError(t, g.RemoveDispatcher(d1))
	assert.ErrorIs(t, g.RemoveDispatcher(d1), ErrNotKnown)

	g.DispatchAll([]Event{{Type: NodeRemoved, ID: uuid.New()}})
	assert.Len(t, l1.batches, 1)
	assert.Len(t, l2.batches, 2)
}

func TestDelegatingRepositoryWideListeners(t *testing.T) {
	g := &Delegating{}
	d1, d2 := NewDispatcher("default"), NewDispatcher("w2")
	g.AddDispatcher(d1)
	g.AddDispatcher(d2)
	wide := &recordingListener{}
	g.AddListener(wide)

	// A workspace-local batch reaches the repository-wide listener once,
	// stamped with the originating workspace.
	d1.Dispatch([]Event{{Type: NodeAdded, ID: uuid.New()}})
	assert.Len(t, wide.batches, 1)
	assert.Equal(t, "default", wide.batches[0][0].Workspace)

	// A repository-wide batch fans out to both dispatchers but still
	// reaches the repository-wide listener exactly once.
	g.DispatchAll([]Event{{Type: NodeAdded, ID: uuid.New()}})
	assert.Len(t, wide.batches, 2)
	assert.Equal(t, "", wide.batches[1][0].Workspace)

	// A deregistered dispatcher no longer forwards upward.
	assert.NoError(t, g.RemoveDispatcher(d2))
	d2.Dispatch([]Event{{Type: NodeRemoved, ID: uuid.New()}})
	assert.Len(t, wide.batches, 2)
}
