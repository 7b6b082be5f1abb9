// Package collections provides the compact indexed storage the scheduler
// uses for its Runnable, Parked, Poll, and Retired sets.
package collections

// minCapacity is the floor a Slice grows to on its first append.
const minCapacity = 8

// Slice is an ordered sequence with amortized O(1) append and O(1)
// swap-remove. It does not preserve ordering across a SwapRemove: the
// caller is expected to not care, which is true of every consumer in this
// runtime (Runnable, Parked, Poll, and the free-list of Retired ids all
// treat their contents as an unordered working set).
type Slice[T any] struct {
	items []T
}

// NewSlice returns an empty Slice pre-sized to cap, or the package floor,
// whichever is larger.
func NewSlice[T any](cap int) *Slice[T] {
	if cap < minCapacity {
		cap = minCapacity
	}
	return &Slice[T]{items: make([]T, 0, cap)}
}

// Len returns the number of elements currently stored.
func (s *Slice[T]) Len() int {
	return len(s.items)
}

// Append adds v to the end of the sequence, doubling the backing array
// when it is full.
func (s *Slice[T]) Append(v T) {
	if len(s.items) == cap(s.items) {
		newCap := cap(s.items) * 2
		if newCap < minCapacity {
			newCap = minCapacity
		}
		grown := make([]T, len(s.items), newCap)
		copy(grown, s.items)
		s.items = grown
	}
	s.items = append(s.items, v)
}

// SwapRemove removes the element at i by swapping the last element into
// its place and shrinking the length by one. Panics if i is out of range,
// matching the teacher's fail-fast convention for programmer-error
// conditions.
func (s *Slice[T]) SwapRemove(i int) T {
	n := len(s.items)
	removed := s.items[i]
	last := n - 1
	s.items[i] = s.items[last]
	var zero T
	s.items[last] = zero
	s.items = s.items[:last]
	return removed
}

// At returns the element at index i.
func (s *Slice[T]) At(i int) T {
	return s.items[i]
}

// Set overwrites the element at index i.
func (s *Slice[T]) Set(i int, v T) {
	s.items[i] = v
}

// PopLast removes and returns the final element. Panics if the Slice is
// empty, matching SwapRemove's fail-fast convention.
func (s *Slice[T]) PopLast() T {
	return s.SwapRemove(len(s.items) - 1)
}

// IndexOf returns the index of the first element equal to v under eq, or
// -1 if none matches. Used sparingly: most scheduler paths track an
// element's index directly rather than searching for it.
func (s *Slice[T]) IndexOf(v T, eq func(a, b T) bool) int {
	for i, item := range s.items {
		if eq(item, v) {
			return i
		}
	}
	return -1
}

// Each calls fn for every element in current order. fn must not mutate the
// Slice.
func (s *Slice[T]) Each(fn func(i int, v T)) {
	for i, v := range s.items {
		fn(i, v)
	}
}
