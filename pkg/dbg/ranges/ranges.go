// Package ranges implements the ordered interval map described in the
// design as the "ranges index": a small balanced structure from disjoint
// [start,end] intervals to values, used to map addresses to the function or
// compile unit that contains them.
//
// Grounded on _examples/original_source/src/utils/ranges.rs, which itself
// wraps an AVL tree (utils/avl.rs). Go's standard library has no sorted
// container, so this is implemented directly on a slice kept sorted by
// start address; insertion is O(n) and lookup is O(log n) via binary
// search, which is the right tradeoff for a one-shot DWARF parse followed
// by many point lookups.
package ranges

import "sort"

// Entry is one interval-to-value mapping.
type Entry[T any] struct {
	Start, End uint64
	Value      T
}

// Ranges is an ordered map from disjoint [start,end] intervals to values of
// type T. The zero value is ready to use.
type Ranges[T any] struct {
	entries []Entry[T]
}

// New returns an empty Ranges.
func New[T any]() *Ranges[T] {
	return &Ranges[T]{}
}

// Add inserts a new interval. Overlapping insertions are a parser bug and
// panic immediately rather than silently corrupting lookups, per the open
// question in spec.md §9 resolved in favor of rejecting overlaps.
func (r *Ranges[T]) Add(start, end uint64, value T) {
	if start > end {
		panic("ranges: start > end")
	}
	i := sort.Search(len(r.entries), func(i int) bool { return r.entries[i].Start >= start })
	if i > 0 && r.entries[i-1].End >= start {
		panic("ranges: overlapping insert")
	}
	if i < len(r.entries) && r.entries[i].Start <= end {
		panic("ranges: overlapping insert")
	}
	r.entries = append(r.entries, Entry[T]{})
	copy(r.entries[i+1:], r.entries[i:])
	r.entries[i] = Entry[T]{Start: start, End: end, Value: value}
}

// Find returns the entry containing pos, if any.
func (r *Ranges[T]) Find(pos uint64) (Entry[T], bool) {
	i := sort.Search(len(r.entries), func(i int) bool { return r.entries[i].End >= pos })
	if i < len(r.entries) && r.entries[i].Start <= pos && pos <= r.entries[i].End {
		return r.entries[i], true
	}
	return Entry[T]{}, false
}

// FindValue returns just the value containing pos, if any.
func (r *Ranges[T]) FindValue(pos uint64) (T, bool) {
	e, ok := r.Find(pos)
	return e.Value, ok
}

// Shift adds delta to every stored interval's bounds. A uniform shift
// preserves both the sort-by-start order and the disjointness invariant,
// so no rebuild is needed. Used once a PIE binary's true load base
// becomes known and every interval recorded at parse time (base 0) must
// become tracee-absolute.
func (r *Ranges[T]) Shift(delta uint64) {
	for i := range r.entries {
		r.entries[i].Start += delta
		r.entries[i].End += delta
	}
}

// Len returns the number of intervals stored.
func (r *Ranges[T]) Len() int { return len(r.entries) }
