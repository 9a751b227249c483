// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package span is a small disjoint-interval union: add half-open
// [lo, hi) ranges, then ask how much of some other range they already
// cover. It's the in-memory core of interval/endpoint_index.go's
// endpoint-union idea (teacher), generalized from BED-style genomic
// ranges to the query-coordinate spans package extend's post-processing
// pass unions to decide "how much of a candidate's span does a
// higher-ranked result already cover" (spec.md §4.7 post-processing
// step 2, the "query-span is >=1.2x covered" test).
package span

import "sort"

// Span is a half-open interval [Lo, Hi).
type Span struct{ Lo, Hi int64 }

// Union is a disjoint, sorted set of half-open integer spans.
type Union struct {
	spans []Span
}

// Add merges [lo, hi) into the union, coalescing it with any span it
// overlaps or touches. A no-op if hi<=lo.
func (u *Union) Add(lo, hi int64) {
	if hi <= lo {
		return
	}
	merged := make([]Span, 0, len(u.spans)+1)
	inserted := false
	for _, s := range u.spans {
		switch {
		case s.Hi < lo:
			merged = append(merged, s)
		case hi < s.Lo:
			if !inserted {
				merged = append(merged, Span{lo, hi})
				inserted = true
			}
			merged = append(merged, s)
		default: // s overlaps or touches [lo, hi): absorb it
			if s.Lo < lo {
				lo = s.Lo
			}
			if s.Hi > hi {
				hi = s.Hi
			}
		}
	}
	if !inserted {
		merged = append(merged, Span{lo, hi})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Lo < merged[j].Lo })
	u.spans = merged
}

// Overlap returns the total length of [lo, hi) already covered by u.
func (u *Union) Overlap(lo, hi int64) int64 {
	if hi <= lo {
		return 0
	}
	var total int64
	for _, s := range u.spans {
		start := maxI64(lo, s.Lo)
		end := minI64(hi, s.Hi)
		if end > start {
			total += end - start
		}
	}
	return total
}

// Len returns the number of disjoint spans currently in the union.
func (u *Union) Len() int { return len(u.spans) }

// Spans returns the union's current disjoint spans, sorted by Lo. The
// returned slice is owned by the caller; Union keeps its own copy.
func (u *Union) Spans() []Span {
	out := make([]Span, len(u.spans))
	copy(out, u.spans)
	return out
}

func maxI64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func minI64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
