package ranking

import "container/heap"

// ranked pairs an item with its input position so that equal items keep
// their relative input order.
type ranked[T any] struct {
	item T
	pos  int
}

// boundedHeap keeps the best k items seen so far with the worst at the root.
type boundedHeap[T any] struct {
	items  []ranked[T]
	before func(a, b T) bool
}

// precedes is the full order: the given comparator, then input position.
func (h *boundedHeap[T]) precedes(a, b ranked[T]) bool {
	if h.before(a.item, b.item) {
		return true
	}
	if h.before(b.item, a.item) {
		return false
	}
	return a.pos < b.pos
}

func (h *boundedHeap[T]) Len() int           { return len(h.items) }
func (h *boundedHeap[T]) Less(i, j int) bool { return h.precedes(h.items[j], h.items[i]) }
func (h *boundedHeap[T]) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *boundedHeap[T]) Push(x any)         { h.items = append(h.items, x.(ranked[T])) }

func (h *boundedHeap[T]) Pop() any {
	old := h.items
	n := len(old)
	x := old[n-1]
	h.items = old[:n-1]
	return x
}

// selectTop returns the best k items in order, in O(n log k).
// A non-positive k returns an empty slice.
func selectTop[T any](items []T, k int, before func(a, b T) bool) []T {
	if k <= 0 || len(items) == 0 {
		return []T{}
	}
	if k > len(items) {
		k = len(items)
	}

	h := &boundedHeap[T]{items: make([]ranked[T], 0, k), before: before}
	for i, it := range items {
		r := ranked[T]{item: it, pos: i}
		if h.Len() < k {
			heap.Push(h, r)
			continue
		}
		if h.precedes(r, h.items[0]) {
			h.items[0] = r
			heap.Fix(h, 0)
		}
	}

	out := make([]T, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(ranked[T]).item
	}
	return out
}
