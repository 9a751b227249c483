// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package uvspace implements the rotated (u,v) coordinate system used to turn
// chain-window membership tests into axis-aligned rectangle tests. See
// spec.md §3 and §4.5 for the (u,v) transform and the chaining window.
//
// u = 2*refPos - queryPos + OFS, v = 2*queryPos - refPos + OFS
//
// A seed array sorted by (u,v) places collinear anti-diagonal neighbors
// adjacent, which is what lets the chainer scan forward with a single
// ascending pass instead of a 2-D range query.
package uvspace

// OFS keeps U and V non-negative for any realistic (refPos, queryPos) pair.
// 2^40 comfortably covers chromosome- and read-scale coordinates (up to
// ~350 billion bases) with headroom for the 2x/1x scaling in the transform.
const OFS = int64(1) << 40

// Point is a seed or chain endpoint projected into (u,v) space.
type Point struct {
	U, V int64
}

// FromRefQuery computes the (u,v) projection of a (refPos, queryPos) pair.
func FromRefQuery(refPos, queryPos int64) Point {
	return Point{
		U: 2*refPos - queryPos + OFS,
		V: 2*queryPos - refPos + OFS,
	}
}

// ToRefQuery inverts FromRefQuery, recovering the (refPos, queryPos) pair a
// Point was projected from. Exact whenever p.U, p.V came from integer
// (refPos, queryPos) inputs (the division is always even in that case).
func (p Point) ToRefQuery() (refPos, queryPos int64) {
	refPos = (2*p.U+p.V)/3 - OFS
	queryPos = (p.U+2*p.V)/3 - OFS
	return refPos, queryPos
}

// Path returns the u+v path-length coordinate of p. OFS cancels out when two
// Path values are subtracted, so callers should only use differences of Path,
// never the raw value, as an absolute length.
func (p Point) Path() int64 {
	return p.U + p.V
}

// Less orders points the way seed arrays must be sorted for chaining: by V
// first, then U. Collinear anti-diagonal neighbors land adjacent under this
// order.
func (p Point) Less(o Point) bool {
	if p.V != o.V {
		return p.V < o.V
	}
	return p.U < o.U
}

// Window is the chainable parallelogram anchored at a seed's (u,v) point:
//
//	{ (u,v) : u0 < u <= u0+W, v0 < v <= v0+W }
//
// W = 2*wlen in (u,v) space (spec.md §4.5); the corresponding region in
// (ref,query) space is a <=30deg wedge down-and-right of the anchor, which is
// what bounds the indel size a single chain can tolerate.
type Window struct {
	Origin Point
	W      int64
}

// NewWindow returns the chaining window anchored at origin with half-open
// extent w in both U and V.
func NewWindow(origin Point, w int64) Window {
	return Window{Origin: origin, W: w}
}

// Contains reports whether p lies inside the window's parallelogram.
func (w Window) Contains(p Point) bool {
	return p.U > w.Origin.U && p.U <= w.Origin.U+w.W &&
		p.V > w.Origin.V && p.V <= w.Origin.V+w.W
}

// VBound is the V coordinate beyond which a (V,U)-ascending seed scan can
// stop early: no seed with V > VBound can be inside the window, regardless of
// U, so the chainer's forward scan breaks as soon as it sees one.
func (w Window) VBound() int64 {
	return w.Origin.V + w.W
}

// PDistance is the chainer's tie-break metric between a window origin and a
// candidate point: the candidate's deviation from a pure diagonal
// continuation of the current anchor. Smaller is "more anti-diagonal", i.e.
// a better chain continuation.
func PDistance(origin, candidate Point) int64 {
	du := candidate.U - origin.U
	dv := candidate.V - origin.V
	d := du - dv
	if d < 0 {
		return -d
	}
	return d
}

// Shift translates p by a (u,v) offset vector; used by the circular linker
// (spec.md §4.6) to test whether a chain's root, moved one trip around the
// origin of a circular reference, lands inside the window just past another
// chain's tail.
func (p Point) Shift(o Offset) Point {
	return Point{U: p.U + o.U, V: p.V + o.V}
}

// Offset is a (u,v) displacement, as opposed to an absolute Point.
type Offset struct {
	U, V int64
}

// CircularOffset returns the (u,v) offset corresponding to one full trip
// around a circular reference of the given length: subtracting it from a
// chain's head maps "wrapped" coordinates back onto the pre-origin chain's
// coordinate space (spec.md §4.6: O = (v_offset, 0, 0, u_offset)).
func CircularOffset(refLen int64) Offset {
	p := FromRefQuery(refLen, 0)
	return Offset{U: p.U - OFS, V: p.V - OFS}
}
