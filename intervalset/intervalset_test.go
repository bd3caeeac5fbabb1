// Copyright 2024 The icsp-go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package intervalset

import "testing"

func TestIntervalOverlaps(t *testing.T) {
	a := New(0, 10)
	cases := []struct {
		b    Interval[int]
		want bool
	}{
		{New(5, 15), true},
		{New(10, 20), false},
		{New(-5, 0), false},
		{New(-5, 1), true},
		{New(2, 8), true},
	}
	for _, c := range cases {
		if got := a.Overlaps(c.b); got != c.want {
			t.Errorf("New(0,10).Overlaps(%v) = %v, want %v", c.b, got, c.want)
		}
	}
}

func TestIntervalSwapsBounds(t *testing.T) {
	iv := New(10, 5)
	if iv.Min != 5 || iv.Max != 10 {
		t.Errorf("New(10,5) = %v, want [5,10)", iv)
	}
}

func TestSetAddMergesOverlapping(t *testing.T) {
	var s Set[int]
	s.Add(New(0, 5))
	s.Add(New(3, 8))
	got := s.Intervals()
	want := []Interval[int]{{0, 8}}
	if len(got) != 1 || got[0] != want[0] {
		t.Errorf("Intervals() = %v, want %v", got, want)
	}
}

func TestSetAddMergesAdjacent(t *testing.T) {
	var s Set[int]
	s.Add(New(0, 5))
	s.Add(New(5, 10))
	got := s.Intervals()
	if len(got) != 1 || got[0] != (Interval[int]{0, 10}) {
		t.Errorf("adjacent intervals did not merge: %v", got)
	}
}

func TestSetAddKeepsDisjointSeparate(t *testing.T) {
	var s Set[int]
	s.Add(New(0, 5))
	s.Add(New(10, 15))
	got := s.Intervals()
	if len(got) != 2 {
		t.Fatalf("Intervals() = %v, want 2 disjoint intervals", got)
	}
	if got[0] != (Interval[int]{0, 5}) || got[1] != (Interval[int]{10, 15}) {
		t.Errorf("Intervals() = %v, want [0,5) and [10,15)", got)
	}
}

func TestSetAddOutOfOrderStillSorts(t *testing.T) {
	var s Set[int]
	s.Add(New(20, 25))
	s.Add(New(0, 5))
	s.Add(New(10, 15))
	got := s.Intervals()
	want := []Interval[int]{{0, 5}, {10, 15}, {20, 25}}
	if len(got) != len(want) {
		t.Fatalf("Intervals() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Intervals()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSetOverlapsAndContains(t *testing.T) {
	var s Set[int]
	s.Add(New(0, 10))
	if !s.Contains(New(2, 8)) {
		t.Error("Contains(2,8) = false, want true")
	}
	if s.Contains(New(5, 15)) {
		t.Error("Contains(5,15) = true, want false")
	}
	if !s.Overlaps(New(9, 20)) {
		t.Error("Overlaps(9,20) = false, want true")
	}
	if s.Overlaps(New(10, 20)) {
		t.Error("Overlaps(10,20) = true, want false (half-open boundary)")
	}
}

func TestEmptyIntervalIgnored(t *testing.T) {
	var s Set[int]
	s.Add(New(5, 5))
	if len(s.Intervals()) != 0 {
		t.Errorf("adding an empty interval should be a no-op, got %v", s.Intervals())
	}
}
