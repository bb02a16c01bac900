package utils

import "sync"

// AvgVal accumulates samples and reports their arithmetic mean. The
// zero value is an empty accumulator, ready to use.
type AvgVal struct {
	mu    sync.Mutex
	sum   float64
	count int
}

func (a *AvgVal) Add(sample float64) {
	a.mu.Lock()
	a.sum += sample
	a.count++
	a.mu.Unlock()
}

// Val returns the mean of everything added so far, 0 with no samples.
func (a *AvgVal) Val() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.count == 0 {
		return 0
	}
	return a.sum / float64(a.count)
}

func (a *AvgVal) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}
