// Package availability tracks which byte ranges of a fixed-size region have
// been filled, generalized to arbitrary offsets instead of a fixed block
// grid.
package availability

import "sort"

// Offset is the integer type used for interval bounds. MissingChunk uses
// uint32, matching ct_hash-addressed chunk sizes.
type Offset interface {
	~uint32 | ~uint64 | ~int | ~int64
}

type interval[T Offset] struct {
	start, end T // half-open [start, end)
}

// Map is an ordered set of disjoint, non-adjacent half-open intervals over
// [0, size). It answers "which bytes have we already got" for a MissingChunk.
type Map[T Offset] struct {
	size     T
	filled   T
	segments []interval[T]
}

// New returns an empty Map over [0, size).
func New[T Offset](size T) *Map[T] {
	return &Map[T]{size: size}
}

// SizeOriginal returns the size of the region being tracked.
func (m *Map[T]) SizeOriginal() T { return m.size }

// SizeFilled returns the sum of the lengths of all filled intervals.
func (m *Map[T]) SizeFilled() T { return m.filled }

// Full reports whether the entire [0, size) region is filled.
func (m *Map[T]) Full() bool { return m.filled == m.size }

// Insert marks [offset, offset+length) as filled, coalescing with any
// overlapping or adjacent existing interval. A zero-length insert is a no-op.
func (m *Map[T]) Insert(offset, length T) {
	if length == 0 {
		return
	}
	start, end := offset, offset+length

	idx := sort.Search(len(m.segments), func(i int) bool {
		return m.segments[i].start > start
	})
	// idx is the first segment strictly starting after us; the segment
	// immediately before it may still overlap or touch our start.
	lo := idx
	if lo > 0 && m.segments[lo-1].end >= start {
		lo--
	}
	hi := lo
	for hi < len(m.segments) && m.segments[hi].start <= end {
		hi++
	}

	if lo < hi {
		if m.segments[lo].start < start {
			start = m.segments[lo].start
		}
		if m.segments[hi-1].end > end {
			end = m.segments[hi-1].end
		}
		for _, seg := range m.segments[lo:hi] {
			m.filled -= seg.end - seg.start
		}
	}

	merged := interval[T]{start: start, end: end}
	m.filled += merged.end - merged.start
	m.segments = append(m.segments[:lo], append([]interval[T]{merged}, m.segments[hi:]...)...)
}

// Gap is a single unfilled byte range, as yielded by Gaps.
type Gap[T Offset] struct {
	Offset T
	Len    T
}

// Gaps returns the byte ranges of [0, size) that are not yet filled, in
// ascending order. The scheduler walks this to find the next block to
// request.
func (m *Map[T]) Gaps() []Gap[T] {
	var gaps []Gap[T]
	var cursor T
	for _, seg := range m.segments {
		if seg.start > cursor {
			gaps = append(gaps, Gap[T]{Offset: cursor, Len: seg.start - cursor})
		}
		cursor = seg.end
	}
	if cursor < m.size {
		gaps = append(gaps, Gap[T]{Offset: cursor, Len: m.size - cursor})
	}
	return gaps
}

// FirstGap returns the first unfilled byte range, if any.
func (m *Map[T]) FirstGap() (Gap[T], bool) {
	var cursor T
	for _, seg := range m.segments {
		if seg.start > cursor {
			return Gap[T]{Offset: cursor, Len: seg.start - cursor}, true
		}
		cursor = seg.end
	}
	if cursor < m.size {
		return Gap[T]{Offset: cursor, Len: m.size - cursor}, true
	}
	return Gap[T]{}, false
}
