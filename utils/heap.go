package utils

import "golang.org/x/exp/constraints"

// Heap is a bare-bones binary min-heap over any ordered element type.
type Heap[T constraints.Ordered] struct {
	buf []T
}

func (h *Heap[T]) Len() int {
	return len(h.buf)
}

// Push pushes the element x onto the heap.
// The complexity is O(log n) where n = h.Len().
func (h *Heap[T]) Push(x T) {
	h.buf = append(h.buf, x)
	h.up(h.Len() - 1)
}

// Pop removes and returns the minimum element from the heap.
// The complexity is O(log n) where n = h.Len().
func (h *Heap[T]) Pop() (min T) {
	min = h.buf[0]
	n := h.Len() - 1
	h.swap(0, n)
	h.down(0, n)
	h.buf = h.buf[0:n]
	return
}

// Peek returns the minimum element without removing it.
func (h *Heap[T]) Peek() T {
	return h.buf[0]
}

func (h *Heap[T]) swap(i, j int) {
	h.buf[i], h.buf[j] = h.buf[j], h.buf[i]
}

func (h Heap[T]) up(j int) {
	for {
		i := (j - 1) / 2 // parent
		if i == j || !(h.buf[j] < h.buf[i]) {
			break
		}
		h.buf[i], h.buf[j] = h.buf[j], h.buf[i]
		j = i
	}
}

func (h Heap[T]) down(i0, n int) bool {
	i := i0
	for {
		j1 := 2*i + 1
		if j1 >= n || j1 < 0 { // j1 < 0 after int overflow
			break
		}
		j := j1 // left child
		if j2 := j1 + 1; j2 < n && h.buf[j2] < h.buf[j1] {
			j = j2 // = 2*i + 2  // right child
		}
		if !(h.buf[j] < h.buf[i]) {
			break
		}
		h.buf[i], h.buf[j] = h.buf[j], h.buf[i]
		i = j
	}
	return i > i0
}
