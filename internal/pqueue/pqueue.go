// Package pqueue implements a max-oriented binary heap over a caller supplied
// ordering predicate.
package pqueue

import "cmp"

const defaultCapacity = 10

// Queue is a binary max-heap. The element for which higher(x, y) holds against
// every other live element y sits at the root.
//
// Logical size and backing capacity are tracked separately: extracting never
// reallocates, and growth never drops live elements.
type Queue[T any] struct {
	items  []T // len(items) is the capacity
	size   int
	higher func(a, b T) bool
}

// New builds a queue ordered by higher. higher must be a strict, consistent
// ordering: it returns true iff a must sit above b. Initial elements are
// copied and heapified in O(n).
func New[T any](higher func(a, b T) bool, initial ...T) *Queue[T] {
	capacity := max(defaultCapacity, len(initial))
	q := &Queue[T]{
		items:  make([]T, capacity),
		size:   len(initial),
		higher: higher,
	}
	copy(q.items, initial)
	q.heapify()
	return q
}

// NewOrdered builds a queue where larger values rank higher.
func NewOrdered[T cmp.Ordered](initial ...T) *Queue[T] {
	return New(func(a, b T) bool { return a > b }, initial...)
}

// Len returns the number of live elements.
func (q *Queue[T]) Len() int { return q.size }

// Cap returns the backing capacity.
func (q *Queue[T]) Cap() int { return len(q.items) }

// Peek returns the highest element without removing it.
func (q *Queue[T]) Peek() (T, bool) {
	if q.size == 0 {
		var zero T
		return zero, false
	}
	return q.items[0], true
}

// Insert adds value in O(log n), growing the backing store by half when full.
func (q *Queue[T]) Insert(value T) {
	if q.size >= len(q.items) {
		q.grow()
	}
	q.items[q.size] = value
	q.size++
	q.siftUp(q.size - 1)
}

// ExtractMax removes and returns the root. The boolean is false when the
// queue is empty.
func (q *Queue[T]) ExtractMax() (T, bool) {
	var zero T
	if q.size == 0 {
		return zero, false
	}
	top := q.items[0]
	last := q.size - 1
	q.swap(0, last)
	q.items[last] = zero
	q.size--
	q.siftDown(0)
	return top, true
}

// SortedDescending returns the live elements from highest to lowest. The
// queue itself is left untouched.
func (q *Queue[T]) SortedDescending() []T {
	clone := New(q.higher, q.items[:q.size]...)
	out := make([]T, 0, q.size)
	for {
		v, ok := clone.ExtractMax()
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

func (q *Queue[T]) grow() {
	capacity := len(q.items) * 3 / 2
	if capacity <= len(q.items) {
		capacity = len(q.items) + 1
	}
	items := make([]T, capacity)
	copy(items, q.items[:q.size])
	q.items = items
}

// heapify restores heap order bottom-up from the last non-leaf.
func (q *Queue[T]) heapify() {
	for i := q.size/2 - 1; i >= 0; i-- {
		q.siftDown(i)
	}
}

func (q *Queue[T]) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !q.higher(q.items[i], q.items[parent]) {
			return
		}
		q.swap(i, parent)
		i = parent
	}
}

func (q *Queue[T]) siftDown(i int) {
	last := q.size - 1
	for {
		child := 2*i + 1
		if child > last {
			return
		}
		if right := child + 1; right <= last && q.higher(q.items[right], q.items[child]) {
			child = right
		}
		if !q.higher(q.items[child], q.items[i]) {
			return
		}
		q.swap(i, child)
		i = child
	}
}

func (q *Queue[T]) swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
}
