package changeset

import "sort"

// IndexSet is an ordered sparse set of non-negative row or list indices.
// It supports the shifting operations needed to keep a change set expressed
// in post-transaction coordinates while mutations stream through it.
//
// Backed by a sorted slice. The sets involved are small (bounded by the
// number of rows touched in one transaction), so linear shifts are fine.
type IndexSet struct {
	data []int
}

// NewIndexSet creates an IndexSet holding the given indices.
func NewIndexSet(indices ...int) IndexSet {
	s := IndexSet{}
	for _, i := range indices {
		s.Add(i)
	}
	return s
}

// lowerBound returns the position of the first element >= index.
func (s *IndexSet) lowerBound(index int) int {
	return sort.SearchInts(s.data, index)
}

// Add inserts index into the set.
func (s *IndexSet) Add(index int) {
	pos := s.lowerBound(index)
	if pos < len(s.data) && s.data[pos] == index {
		return
	}
	s.data = append(s.data, 0)
	copy(s.data[pos+1:], s.data[pos:])
	s.data[pos] = index
}

// InsertAt shifts every element >= index up by one, then adds index.
func (s *IndexSet) InsertAt(index int) {
	s.ShiftForInsertAt(index)
	s.Add(index)
}

// ShiftForInsertAt shifts every element >= index up by one without adding
// index itself. Used when the inserted item does not belong to this set.
func (s *IndexSet) ShiftForInsertAt(index int) {
	for pos := s.lowerBound(index); pos < len(s.data); pos++ {
		s.data[pos]++
	}
}

// EraseAt removes index if present, then shifts every element > index down
// by one.
func (s *IndexSet) EraseAt(index int) {
	pos := s.lowerBound(index)
	if pos < len(s.data) && s.data[pos] == index {
		s.data = append(s.data[:pos], s.data[pos+1:]...)
	}
	for ; pos < len(s.data); pos++ {
		s.data[pos]--
	}
}

// Unshift returns the index the given position would have had before this
// set's insert shifts: index minus the count of stored elements below it.
func (s *IndexSet) Unshift(index int) int {
	return index - s.lowerBound(index)
}

// AddShifted adds an index expressed in pre-shift (original) coordinates.
// The stored value is offset past every element at or below it, so that
// repeated removals at the same current position land on distinct originals.
func (s *IndexSet) AddShifted(index int) {
	pos := 0
	for ; pos < len(s.data) && s.data[pos] <= index; pos++ {
		index++
	}
	s.data = append(s.data, 0)
	copy(s.data[pos+1:], s.data[pos:])
	s.data[pos] = index
}

// Contains reports whether index is in the set.
func (s *IndexSet) Contains(index int) bool {
	pos := s.lowerBound(index)
	return pos < len(s.data) && s.data[pos] == index
}

// Clear empties the set.
func (s *IndexSet) Clear() {
	s.data = s.data[:0]
}

// Empty reports whether the set has no elements.
func (s *IndexSet) Empty() bool {
	return len(s.data) == 0
}

// Count returns the number of elements.
func (s *IndexSet) Count() int {
	return len(s.data)
}

// AsSlice returns the elements in ascending order. The returned slice is a
// copy and safe to retain.
func (s *IndexSet) AsSlice() []int {
	out := make([]int, len(s.data))
	copy(out, s.data)
	return out
}
