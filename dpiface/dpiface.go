// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package dpiface is the boundary between the mapping engine and the
// gapped-DP kernel it drives (spec.md §6 "Gapped-DP kernel interface").
// The kernel itself — banded Smith-Waterman-Gotoh, its traceback, its
// scoring-matrix arithmetic — is an external collaborator per spec.md
// §1's Out of scope list; this package only declares the shape of that
// collaboration so package extend can be written and tested against it.
// Subpackage fakedp supplies a real implementation for tests.
package dpiface

// Section is one contiguous run of 2-bit-coded bases the kernel is
// walking across — a reference or query "tail section". Extension can
// cross more than one section (e.g. a circular reference's wrap, or a
// read's forward/reverse-complement halves); the kernel is hence handed
// sections one at a time through Fill rather than the whole sequence at
// once, and reports when it has run off the end of one.
// Codes is always given in the direction of extension: for Forward,
// Codes[0] is the base at Start and the sequence reads toward increasing
// coordinates; for Reverse, Codes[0] is the base at Start and the
// sequence reads toward decreasing coordinates (the caller pre-reverses
// it), matching spec.md §4.7's "the DP sees the reference twice —
// forward and reverse — via tail sections".
type Section struct {
	Codes []uint8
	ID    int32 // ref_id or query_id, depending on which side this section belongs to
	Start int64 // absolute coordinate of Codes[0]
}

// Flags modifies a single Fill/FillRoot call.
type Flags uint8

const (
	// Forward extends toward increasing coordinates; the zero value.
	Forward Flags = 0
	// Reverse extends toward decreasing coordinates (spec.md §4.7's
	// "upward extension" pass, run from the downward max position).
	Reverse Flags = 1 << 0
)

// Status bits describe what happened during the Fill call that produced
// a FillCell: whether the fill ran past the end of the section it was
// given, and whether an x-drop or similar terminal condition fired.
type Status uint8

const (
	StatusOK Status = 0
	// StatusRefBoundary means the fill reached the end of the current
	// reference section without terminating; the caller should supply
	// the next section and call Fill again.
	StatusRefBoundary Status = 1 << 0
	// StatusQueryBoundary is StatusRefBoundary's query-side counterpart.
	StatusQueryBoundary Status = 1 << 1
	// StatusTerminal means the fill stopped on its own (x-drop, or ran
	// off both sequences) and no further Fill call is meaningful.
	StatusTerminal Status = 1 << 2
)

func (s Status) Is(bit Status) bool { return s&bit != 0 }

// FillCell is what dp_fill_root/dp_fill return: the running max score and
// status bits, plus Impl, an opaque handle a concrete kernel stashes its
// own continuation state in (the fill matrix, band bounds, whatever it
// needs) and reads back out of the FillCell it's later asked to extend
// or trace. dpiface never inspects Impl itself.
type FillCell struct {
	Max    int32
	Status Status
	Impl   interface{}
}

// ScoringParams configures a kernel: a 5x5 substitution matrix over the
// base codes (A/C/G/T plus N at index 4), affine gap costs (a two-piece model: the first piece
// opens at GapOpen/extends at GapExtend, the second, cheaper-to-extend
// piece for long indels opens at GapOpenB/extends at GapExtendB — spec
// default GapOpenB=GapExtendB=0 collapses it to ordinary one-piece
// Gotoh), and an x-drop threshold that stops extension once the running
// score falls XDrop below the best score seen so far.
type ScoringParams struct {
	Matrix               [5][5]int32 // indexed by 2-bit code, with row/col 4 = N
	GapOpen, GapExtend   int32
	GapOpenB, GapExtendB int32
	XDrop                int32
}

// DefaultScoringParams matches spec.md §6's stated defaults: match=1,
// mismatch=-1, gi=ge=1, gfa=gfb=0, xdrop=50.
func DefaultScoringParams() ScoringParams {
	var m [5][5]int32
	for i := 0; i < 5; i++ {
		for j := 0; j < 5; j++ {
			switch {
			case i == 4 || j == 4:
				m[i][j] = -1
			case i == j:
				m[i][j] = 1
			default:
				m[i][j] = -1
			}
		}
	}
	return ScoringParams{Matrix: m, GapOpen: 1, GapExtend: 1, XDrop: 50}
}

// Segment is one contiguous run of an alignment against one reference
// and one query (spec.md §3).
type Segment struct {
	RefID      int32
	RefStart   int64
	RefLen     int64
	QueryID    int32
	QueryStart int64
	QueryLen   int64
	PathOffset int64
}

// Alignment is the opaque record produced by dp_trace (spec.md §3/§6).
// Dcnt/Agcnt/Bgcnt are the per-event counts a two-piece-affine traceback
// reports: substitutions, first-piece (short) gap bases, and
// second-piece (long) gap bases, respectively.
type Alignment struct {
	Segments []Segment
	PathBits []byte
	Score    int32
	Identity float64
	Dcnt     int32
	Agcnt    int32
	Bgcnt    int32
	PLen     int64
}

// Arena is the per-batch allocator Alignment records come out of (spec.md
// §3 "Alignment records are allocated from a per-batch arena owned by the
// pipeline batch"). Reset reclaims it without freeing the backing slice,
// mirroring the thread-local buffer reuse the rest of the engine does.
type Arena struct {
	records []*Alignment
}

func NewArena() *Arena { return &Arena{} }

func (a *Arena) Alloc() *Alignment {
	rec := &Alignment{}
	a.records = append(a.records, rec)
	return rec
}

func (a *Arena) Reset() { a.records = a.records[:0] }

// Kernel is a DP implementation's entry point.
type Kernel interface {
	Init(params ScoringParams) (Context, error)
}

// Context is a kernel instance specialized for one set of scoring
// parameters; DPInit hands out a per-worker DP (spec.md §6 "dp_init").
type Context interface {
	DPInit() DP
}

// DP is one worker's thread-local DP state (spec.md §6).
type DP interface {
	// Flush resets the DP's internal arena for the next query
	// (dp_flush).
	Flush()
	// FillRoot starts a new extension at (refPos, queryPos) within the
	// given sections (dp_fill_root).
	FillRoot(refSec, querySec Section, refPos, queryPos int64, flags Flags) FillCell
	// Fill continues a fill across a section boundary (dp_fill).
	Fill(prev FillCell, nextRefSec, nextQuerySec Section, flags Flags) FillCell
	// SearchMax reports the (ref, query) coordinates of cell's best
	// score and the path length to reach it (dp_search_max).
	SearchMax(cell FillCell) (refPos, queryPos, pathLen int64)
	// Trace produces an Alignment for cell, allocated from arena, or
	// nil if there is nothing worth reporting (dp_trace).
	Trace(cell FillCell, arena *Arena) (*Alignment, error)
}
