// Copyright 2024 The icsp-go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package intervalset provides a generic, merge-as-you-go set of half-open
// intervals, used to validate device region geometry and program-image
// non-overlap (spec §3, §4.4, §4.5). It is a direct generalisation of
// interval_set.h's Interval<T>/IntervalSet<T> templates using Go generics.
package intervalset

import "cmp"

// Interval is a half-open range [Min, Max). An interval with Max <= Min is
// empty.
type Interval[T cmp.Ordered] struct {
	Min, Max T
}

// New returns the interval [min, max), swapping the bounds if min > max.
func New[T cmp.Ordered](min, max T) Interval[T] {
	if min > max {
		min, max = max, min
	}
	return Interval[T]{Min: min, Max: max}
}

// IsEmpty reports whether the interval contains no points.
func (i Interval[T]) IsEmpty() bool { return i.Max <= i.Min }

// Contains reports whether i fully contains other.
func (i Interval[T]) Contains(other Interval[T]) bool {
	return i.Min <= other.Min && i.Max >= other.Max
}

// Overlaps reports whether i and other share any point.
func (i Interval[T]) Overlaps(other Interval[T]) bool {
	return !(i.Max <= other.Min || i.Min >= other.Max)
}

// Connects reports whether i and other are adjacent (share exactly a
// boundary) without overlapping.
func (i Interval[T]) Connects(other Interval[T]) bool {
	return i.Max == other.Min || i.Min == other.Max
}

func (i Interval[T]) merge(other Interval[T]) Interval[T] {
	min, max := i.Min, i.Max
	if other.Min < min {
		min = other.Min
	}
	if other.Max > max {
		max = other.Max
	}
	return Interval[T]{Min: min, Max: max}
}

func (i Interval[T]) less(other Interval[T]) bool {
	return i.Min < other.Min || (i.Min == other.Min && i.Max < other.Max)
}

// Set is an ordered, non-overlapping collection of Interval[T], merging
// touching or overlapping intervals on insertion the way interval_set.h's
// IntervalSet::Add does.
type Set[T cmp.Ordered] struct {
	intervals []Interval[T]
}

// Add inserts interval, merging it with any interval it touches or
// overlaps. Empty intervals are ignored.
func (s *Set[T]) Add(interval Interval[T]) {
	if interval.IsEmpty() {
		return
	}
	if len(s.intervals) == 0 {
		s.intervals = append(s.intervals, interval)
		return
	}
	out := make([]Interval[T], 0, len(s.intervals)+1)
	inserted := false
	for _, cur := range s.intervals {
		switch {
		case inserted:
			out = append(out, cur)
		case interval.Max < cur.Min:
			out = append(out, interval, cur)
			inserted = true
		case interval.Max == cur.Min:
			out = append(out, interval.merge(cur))
			inserted = true
		case interval.Min <= cur.Max:
			// Overlaps or touches cur from the other side; absorb it and
			// keep sweeping since the merged interval may reach further.
			interval = interval.merge(cur)
		default:
			out = append(out, cur)
		}
	}
	if !inserted {
		out = append(out, interval)
	}
	s.intervals = out
}

// Contains reports whether some interval in s fully contains interval.
func (s *Set[T]) Contains(interval Interval[T]) bool {
	for _, cur := range s.intervals {
		if cur.Contains(interval) {
			return true
		}
	}
	return false
}

// Overlaps reports whether interval overlaps any interval already in s.
func (s *Set[T]) Overlaps(interval Interval[T]) bool {
	for _, cur := range s.intervals {
		if cur.Overlaps(interval) {
			return true
		}
	}
	return false
}

// Intervals returns the merged intervals in ascending order.
func (s *Set[T]) Intervals() []Interval[T] {
	out := make([]Interval[T], len(s.intervals))
	copy(out, s.intervals)
	return out
}
