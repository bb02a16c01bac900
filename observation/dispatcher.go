package observation

import "sync"

// Dispatcher is the per-workspace event hub. The workspace's storage
// layer feeds committed batches into Dispatch; local listeners (the
// workspace search manager) receive them stamped with the workspace
// name, and the batch is forwarded once to the parent Delegating's
// repository-wide listeners. Dispatch owns the batch it is handed and
// stamps it in place.
type Dispatcher struct {
	Fanout
	workspace string
	parent    *Delegating
}

func NewDispatcher(workspace string) *Dispatcher {
	return &Dispatcher{workspace: workspace}
}

func (d *Dispatcher) Workspace() string { return d.workspace }

func (d *Dispatcher) Dispatch(events []Event) {
	d.dispatchLocal(events)
	d.lock.Lock()
	p := d.parent
	d.lock.Unlock()
	if p != nil {
		p.OnEvents(events)
	}
}

// dispatchLocal stamps the batch and delivers it to this dispatcher's
// own listeners only.
func (d *Dispatcher) dispatchLocal(events []Event) {
	for i := range events {
		events[i].Workspace = d.workspace
	}
	d.OnEvents(events)
}

// Close drops all listeners so late batches go nowhere.
func (d *Dispatcher) Close() {
	d.lock.Lock()
	d.listeners = nil
	d.lock.Unlock()
}

// Delegating fans a batch out to every registered workspace dispatcher.
// The repository holds one; workspace dispatchers register on
// initialization and deregister on disposal, and repository-wide
// producers (the version manager) publish through it. Its embedded
// Fanout holds repository-wide listeners (the statistics sink): they
// see every batch exactly once, whether it entered through a single
// workspace's Dispatch or through DispatchAll.
type Delegating struct {
	Fanout
	dispatchers []*Dispatcher
	dlock       sync.Mutex
}

func (g *Delegating) AddDispatcher(d *Dispatcher) {
	d.lock.Lock()
	d.parent = g
	d.lock.Unlock()
	g.dlock.Lock()
	g.dispatchers = append(g.dispatchers, d)
	g.dlock.Unlock()
}

func (g *Delegating) RemoveDispatcher(d *Dispatcher) (err error) {
	g.dlock.Lock()
	n := len(g.dispatchers)
	i := 0
	for i < n && g.dispatchers[i] != d {
		i++
	}
	if i < n {
		g.dispatchers[i] = g.dispatchers[n-1]
		g.dispatchers = g.dispatchers[:n-1]
	} else {
		err = ErrNotKnown
	}
	g.dlock.Unlock()
	if err == nil {
		d.lock.Lock()
		d.parent = nil
		d.lock.Unlock()
	}
	return
}

// DispatchAll forwards the batch through every registered dispatcher's
// local listeners, then to the repository-wide listeners once. Each
// dispatcher gets its own copy since dispatchLocal stamps in place; the
// repository-wide copy keeps whatever workspace the producer set,
// usually none.
func (g *Delegating) DispatchAll(events []Event) {
	g.dlock.Lock()
	ds := make([]*Dispatcher, len(g.dispatchers))
	copy(ds, g.dispatchers)
	g.dlock.Unlock()
	for _, d := range ds {
		batch := make([]Event, len(events))
		copy(batch, events)
		d.dispatchLocal(batch)
	}
	g.OnEvents(events)
}
