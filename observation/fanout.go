package observation

import (
	"errors"
	"sync"
)

var ErrNotKnown = errors.New("observation: unknown listener")

// Fanout relays each batch to every registered listener. Registration
// order is not preserved; removal swaps the last entry into place.
type Fanout struct {
	listeners []Listener
	lock      sync.Mutex
}

func (f *Fanout) AddListener(l Listener) {
	f.lock.Lock()
	f.listeners = append(f.listeners, l)
	f.lock.Unlock()
}

func (f *Fanout) findListener(l Listener) int {
	i := 0
	n := len(f.listeners)
	for i < n && f.listeners[i] != l {
		i++
	}
	return i
}

func (f *Fanout) RemoveListener(l Listener) (err error) {
	f.lock.Lock()
	n := len(f.listeners)
	i := f.findListener(l)
	if i < n {
		f.listeners[i] = f.listeners[n-1]
		f.listeners = f.listeners[:n-1]
	} else {
		err = ErrNotKnown
	}
	f.lock.Unlock()
	return
}

func (f *Fanout) HasListener(l Listener) (has bool) {
	f.lock.Lock()
	has = f.findListener(l) < len(f.listeners)
	f.lock.Unlock()
	return
}

// OnEvents delivers the batch to a snapshot of the listener set, so a
// listener may remove itself (or others) while being called.
func (f *Fanout) OnEvents(events []Event) {
	if len(events) == 0 {
		return
	}
	f.lock.Lock()
	ls := make([]Listener, len(f.listeners))
	copy(ls, f.listeners)
	f.lock.Unlock()
	for _, l := range ls {
		l.OnEvents(events)
	}
}
