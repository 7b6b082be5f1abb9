package collections

import "testing"

func TestSliceAppendGrows(t *testing.T) {
	s := NewSlice[int](0)
	for i := 0; i < 100; i++ {
		s.Append(i)
	}
	if s.Len() != 100 {
		t.Fatalf("expected length 100, got %d", s.Len())
	}
	for i := 0; i < 100; i++ {
		if s.At(i) != i {
			t.Fatalf("expected element %d at index %d, got %d", i, i, s.At(i))
		}
	}
}

func TestSliceSwapRemoveMiddle(t *testing.T) {
	s := NewSlice[int](0)
	for i := 0; i < 5; i++ {
		s.Append(i)
	}
	removed := s.SwapRemove(1)
	if removed != 1 {
		t.Fatalf("expected removed element 1, got %d", removed)
	}
	if s.Len() != 4 {
		t.Fatalf("expected length 4 after removal, got %d", s.Len())
	}
	// last element (4) should have been swapped into index 1
	if s.At(1) != 4 {
		t.Fatalf("expected tail element swapped into hole, got %d", s.At(1))
	}
}

func TestSliceSwapRemoveLast(t *testing.T) {
	s := NewSlice[int](0)
	s.Append(10)
	s.Append(20)
	removed := s.SwapRemove(1)
	if removed != 20 {
		t.Fatalf("expected 20, got %d", removed)
	}
	if s.Len() != 1 || s.At(0) != 10 {
		t.Fatalf("expected single remaining element 10, got len=%d", s.Len())
	}
}

func TestSlicePopLast(t *testing.T) {
	s := NewSlice[string](0)
	s.Append("a")
	s.Append("b")
	v := s.PopLast()
	if v != "b" {
		t.Fatalf("expected b, got %s", v)
	}
	if s.Len() != 1 {
		t.Fatalf("expected length 1, got %d", s.Len())
	}
}

func TestSliceIndexOf(t *testing.T) {
	s := NewSlice[int](0)
	s.Append(3)
	s.Append(7)
	s.Append(9)
	eq := func(a, b int) bool { return a == b }
	if idx := s.IndexOf(7, eq); idx != 1 {
		t.Fatalf("expected index 1, got %d", idx)
	}
	if idx := s.IndexOf(42, eq); idx != -1 {
		t.Fatalf("expected -1 for missing element, got %d", idx)
	}
}

func TestSliceEach(t *testing.T) {
	s := NewSlice[int](0)
	for i := 0; i < 3; i++ {
		s.Append(i * 2)
	}
	sum := 0
	s.Each(func(i int, v int) {
		sum += v
	})
	if sum != 0+2+4 {
		t.Fatalf("expected sum 6, got %d", sum)
	}
}
