package freespace

import (
	"golang.org/x/exp/slices"
)

// Set is the ordered set of block offsets known to be free. Offsets are kept
// ascending; membership and position queries use binary search.
type Set struct {
	offsets []int64
}

// New returns new free space set.
func New() *Set {
	return &Set{}
}

// Len returns the number of free offsets.
func (s *Set) Len() int {
	return len(s.offsets)
}

// Insert adds the offset to the set. Inserting an offset already present is a no-op.
func (s *Set) Insert(offset int64) {
	i, found := slices.BinarySearch(s.offsets, offset)
	if found {
		return
	}
	s.offsets = slices.Insert(s.offsets, i, offset)
}

// InsertMany adds all the offsets to the set.
func (s *Set) InsertMany(offsets []int64) {
	for _, offset := range offsets {
		s.Insert(offset)
	}
}

// Remove removes the offset from the set, reporting whether it was present.
func (s *Set) Remove(offset int64) bool {
	i, found := slices.BinarySearch(s.offsets, offset)
	if !found {
		return false
	}
	s.offsets = slices.Delete(s.offsets, i, i+1)
	return true
}

// Contains reports whether the offset is in the set.
func (s *Set) Contains(offset int64) bool {
	_, found := slices.BinarySearch(s.offsets, offset)
	return found
}

// First returns the lowest free offset.
func (s *Set) First() (int64, bool) {
	if len(s.offsets) == 0 {
		return 0, false
	}
	return s.offsets[0], true
}

// PopFirst removes and returns the lowest free offset.
func (s *Set) PopFirst() (int64, bool) {
	if len(s.offsets) == 0 {
		return 0, false
	}
	offset := s.offsets[0]
	s.offsets = s.offsets[1:]
	return offset, true
}

// At returns the offset at the given ordered position.
func (s *Set) At(i int) int64 {
	return s.offsets[i]
}

// Ascending returns a copy of all free offsets in ascending order.
func (s *Set) Ascending() []int64 {
	return slices.Clone(s.offsets)
}

// After returns a copy of the free offsets strictly greater than the threshold,
// in ascending order.
func (s *Set) After(threshold int64) []int64 {
	i, found := slices.BinarySearch(s.offsets, threshold)
	if found {
		i++
	}
	return slices.Clone(s.offsets[i:])
}

// DropAtOrAfter removes every offset greater than or equal to the threshold.
func (s *Set) DropAtOrAfter(threshold int64) {
	i, _ := slices.BinarySearch(s.offsets, threshold)
	s.offsets = s.offsets[:i]
}
