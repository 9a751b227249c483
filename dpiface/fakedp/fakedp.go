// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package fakedp is a real, from-scratch Gotoh affine-gap extension DP
// implementing dpiface.Kernel, used only by tests: it stands in for the
// gapped-DP kernel spec.md §1 places out of scope for the production
// engine ("consumed through an interface... the gapped-DP kernel
// itself"). Correctness matters here (package extend's tests depend on
// it producing real alignments), performance doesn't: every Fill call
// recomputes the full DP matrix over everything seen so far rather than
// maintaining a band, and there is no teacher or pack file to ground a
// banded implementation on.
package fakedp

import (
	"github.com/grailbio/seqalign/dpiface"
)

// Kernel implements dpiface.Kernel.
type Kernel struct{}

func New() *Kernel { return &Kernel{} }

func (k *Kernel) Init(params dpiface.ScoringParams) (dpiface.Context, error) {
	return &context{params: params}, nil
}

type context struct {
	params dpiface.ScoringParams
}

func (c *context) DPInit() dpiface.DP { return &dp{params: c.params} }

type dp struct {
	params dpiface.ScoringParams
}

func (d *dp) Flush() {}

// state is the opaque continuation stashed in FillCell.Impl.
type state struct {
	refCodes, queryCodes []uint8
	refID, queryID       int32
	refStart, queryStart int64
	reverse              bool

	h, e, f   [][]int32 // (len(ref)+1) x (len(query)+1)
	e2, f2    [][]int32 // second gap piece, only populated if GapOpenB > 0
	maxI      int
	maxJ      int
	maxScore  int32
}

const negInf = int32(-1 << 29)

func (d *dp) FillRoot(refSec, querySec dpiface.Section, refPos, queryPos int64, flags dpiface.Flags) dpiface.FillCell {
	st := &state{
		refID:      refSec.ID,
		queryID:    querySec.ID,
		refStart:   refPos,
		queryStart: queryPos,
		reverse:    flags&dpiface.Reverse != 0,
	}
	reverse := flags&dpiface.Reverse != 0
	st.refCodes = sliceFrom(refSec, refPos, reverse)
	st.queryCodes = sliceFrom(querySec, queryPos, reverse)
	return d.recompute(st)
}

func (d *dp) Fill(prev dpiface.FillCell, nextRefSec, nextQuerySec dpiface.Section, flags dpiface.Flags) dpiface.FillCell {
	st, ok := prev.Impl.(*state)
	if !ok {
		return dpiface.FillCell{Status: dpiface.StatusTerminal}
	}
	st.refCodes = append(st.refCodes, nextRefSec.Codes...)
	st.queryCodes = append(st.queryCodes, nextQuerySec.Codes...)
	return d.recompute(st)
}

// sliceFrom extracts the portion of sec.Codes that extension from pos
// should see: for a forward section Codes[0] sits at sec.Start and reads
// toward increasing coordinates, so the offset is pos-sec.Start; for a
// reverse section Codes[0] also sits at sec.Start but reads toward
// decreasing coordinates, so the offset counts down from there instead.
func sliceFrom(sec dpiface.Section, pos int64, reverse bool) []uint8 {
	var off int64
	if reverse {
		off = sec.Start - pos
	} else {
		off = pos - sec.Start
	}
	if off < 0 || int(off) > len(sec.Codes) {
		return nil
	}
	out := make([]uint8, len(sec.Codes)-int(off))
	copy(out, sec.Codes[off:])
	return out
}

func (d *dp) recompute(st *state) dpiface.FillCell {
	nr, nq := len(st.refCodes), len(st.queryCodes)
	p := d.params
	twoPiece := p.GapOpenB > 0 || p.GapExtendB > 0

	h := make([][]int32, nr+1)
	e := make([][]int32, nr+1)
	f := make([][]int32, nr+1)
	var e2, f2 [][]int32
	if twoPiece {
		e2 = make([][]int32, nr+1)
		f2 = make([][]int32, nr+1)
	}
	for i := range h {
		h[i] = make([]int32, nq+1)
		e[i] = make([]int32, nq+1)
		f[i] = make([]int32, nq+1)
		if twoPiece {
			e2[i] = make([]int32, nq+1)
			f2[i] = make([]int32, nq+1)
		}
	}

	for j := 1; j <= nq; j++ {
		e[0][j] = negInf
		f[0][j] = -(p.GapOpen + p.GapExtend*int32(j-1))
		h[0][j] = f[0][j]
		if twoPiece {
			e2[0][j] = negInf
			f2b := -(p.GapOpenB + p.GapExtendB*int32(j-1))
			f2[0][j] = f2b
			if f2b > h[0][j] {
				h[0][j] = f2b
			}
		}
	}
	for i := 1; i <= nr; i++ {
		f[i][0] = negInf
		e[i][0] = -(p.GapOpen + p.GapExtend*int32(i-1))
		h[i][0] = e[i][0]
		if twoPiece {
			f2[i][0] = negInf
			e2b := -(p.GapOpenB + p.GapExtendB*int32(i-1))
			e2[i][0] = e2b
			if e2b > h[i][0] {
				h[i][0] = e2b
			}
		}
	}

	var maxI, maxJ int
	maxScore := h[0][0]
	for i := 1; i <= nr; i++ {
		for j := 1; j <= nq; j++ {
			e[i][j] = max32(h[i][j-1]-p.GapOpen, e[i][j-1]-p.GapExtend)
			f[i][j] = max32(h[i-1][j]-p.GapOpen, f[i-1][j]-p.GapExtend)
			best := e[i][j]
			best = max32(best, f[i][j])
			if twoPiece {
				e2[i][j] = max32(h[i][j-1]-p.GapOpenB, e2[i][j-1]-p.GapExtendB)
				f2[i][j] = max32(h[i-1][j]-p.GapOpenB, f2[i-1][j]-p.GapExtendB)
				best = max32(best, e2[i][j])
				best = max32(best, f2[i][j])
			}
			diag := h[i-1][j-1] + score(p, st.refCodes[i-1], st.queryCodes[j-1])
			best = max32(best, diag)
			h[i][j] = best
			if best > maxScore {
				maxScore, maxI, maxJ = best, i, j
			}
		}
	}

	st.h, st.e, st.f, st.e2, st.f2 = h, e, f, e2, f2
	st.maxI, st.maxJ, st.maxScore = maxI, maxJ, maxScore

	status := dpiface.StatusTerminal
	if maxI == nr && maxJ == nq && nr > 0 && nq > 0 {
		status = dpiface.StatusRefBoundary | dpiface.StatusQueryBoundary
	}
	return dpiface.FillCell{Max: maxScore, Status: status, Impl: st}
}

func score(p dpiface.ScoringParams, refCode, queryCode uint8) int32 {
	r, q := int(refCode), int(queryCode)
	if r > 4 {
		r = 4
	}
	if q > 4 {
		q = 4
	}
	return p.Matrix[r][q]
}

func max32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}

func (d *dp) SearchMax(cell dpiface.FillCell) (refPos, queryPos, pathLen int64) {
	st, ok := cell.Impl.(*state)
	if !ok {
		return 0, 0, 0
	}
	if st.reverse {
		return st.refStart - int64(st.maxI), st.queryStart - int64(st.maxJ), int64(st.maxI + st.maxJ)
	}
	return st.refStart + int64(st.maxI), st.queryStart + int64(st.maxJ), int64(st.maxI + st.maxJ)
}

// Trace reconstructs the optimal path from (0,0) to (maxI,maxJ) by
// re-deriving, at each cell, which recurrence produced it (diagonal
// match/mismatch, or a query- or ref-gap step).
func (d *dp) Trace(cell dpiface.FillCell, arena *dpiface.Arena) (*dpiface.Alignment, error) {
	st, ok := cell.Impl.(*state)
	if !ok || (st.maxI == 0 && st.maxJ == 0) {
		return nil, nil
	}

	aln := arena.Alloc()
	var path []byte
	var matches, mismatches, agcnt, bgcnt int32

	i, j := st.maxI, st.maxJ
	for i > 0 || j > 0 {
		switch {
		case i > 0 && j > 0 && st.h[i][j] == st.h[i-1][j-1]+score(d.params, st.refCodes[i-1], st.queryCodes[j-1]):
			if st.refCodes[i-1] == st.queryCodes[j-1] {
				matches++
				path = append(path, 'M')
			} else {
				mismatches++
				path = append(path, 'X')
			}
			i--
			j--
		case j > 0 && st.h[i][j] == st.e[i][j]:
			agcnt++
			path = append(path, 'I')
			j--
		case i > 0 && st.h[i][j] == st.f[i][j]:
			agcnt++
			path = append(path, 'D')
			i--
		case st.e2 != nil && j > 0 && st.h[i][j] == st.e2[i][j]:
			bgcnt++
			path = append(path, 'I')
			j--
		case st.f2 != nil && i > 0 && st.h[i][j] == st.f2[i][j]:
			bgcnt++
			path = append(path, 'D')
			i--
		default:
			// Shouldn't happen for a well-formed matrix; bail out rather
			// than loop forever.
			i, j = 0, 0
		}
	}
	for l, r := 0, len(path)-1; l < r; l, r = l+1, r-1 {
		path[l], path[r] = path[r], path[l]
	}

	refStart, queryStart := st.refStart, st.queryStart
	refLen, queryLen := int64(st.maxI), int64(st.maxJ)
	if st.reverse {
		refStart -= refLen
		queryStart -= queryLen
	}

	aln.Segments = []dpiface.Segment{{
		RefID: st.refID, RefStart: refStart, RefLen: refLen,
		QueryID: st.queryID, QueryStart: queryStart, QueryLen: queryLen,
	}}
	aln.PathBits = path
	aln.Score = st.maxScore
	aln.Dcnt = mismatches
	aln.Agcnt = agcnt
	aln.Bgcnt = bgcnt
	aln.PLen = int64(st.maxI + st.maxJ)
	if total := matches + mismatches; total > 0 {
		aln.Identity = float64(matches) / float64(total)
	}
	return aln, nil
}
