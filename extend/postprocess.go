// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package extend

import (
	"math"
	"sort"

	"github.com/grailbio/seqalign/dpiface"
	"github.com/grailbio/seqalign/span"
)

// bestAlignment returns the highest-scoring alignment in a bin, the one
// PostProcess's mapq/identity estimates are computed against.
func (b *ResultBin) bestAlignment() *dpiface.Alignment {
	var best *dpiface.Alignment
	for _, a := range b.Alignments {
		if best == nil || a.Score > best.Score {
			best = a
		}
	}
	return best
}

// MapQParams derives the identity/score-gap coefficients PostProcess
// needs from the kernel's scoring matrix (spec.md §4.7, §9 Open
// Question — see DESIGN.md for why these are computed rather than
// hardcoded /4 and /12).
type MapQParams struct {
	MCoef, XCoef float64
}

// DeriveMapQParams computes mcoef/xcoef from the actual diagonal/off-
// diagonal dimensions of matrix's upper-left 4x4 (the N row/column is
// excluded, matching spec.md's "4x4 scoring matrix").
func DeriveMapQParams(matrix [5][5]int32) MapQParams {
	var diagSum, offSum int64
	var diagCount, offCount int
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if i == j {
				diagSum += int64(matrix[i][j])
				diagCount++
			} else {
				offSum += int64(matrix[i][j])
				offCount++
			}
		}
	}
	mcoef := (float64(diagSum) / float64(diagCount)) / float64(diagCount)
	xcoef := -(float64(offSum) / float64(offCount)) / float64(offCount)
	return MapQParams{MCoef: mcoef, XCoef: xcoef}
}

// PostProcess implements spec.md §4.7's post-processing pass: score-
// descending sort and min_ratio filter, primary/secondary/supplementary
// classification, and mapq estimation. bins is sorted and filtered in
// place; the returned slice is a newly allocated copy of the surviving,
// now-classified subset, primaries first, then secondaries.
func (s *Scheduler) PostProcess(bins []*ResultBin, mq MapQParams) []*ResultBin {
	for _, b := range bins {
		var sum int32
		for _, a := range b.Alignments {
			sum += a.Score
		}
		b.Score = sum
	}
	sort.SliceStable(bins, func(i, j int) bool { return bins[i].Score > bins[j].Score })

	if len(bins) == 0 {
		return bins
	}
	best := bins[0].Score
	cutoff := int32(float64(best) * s.Budget.MinRatio)
	kept := bins[:0]
	for _, b := range bins {
		if b.Score >= cutoff {
			kept = append(kept, b)
		}
	}
	bins = kept

	var primarySpans span.Union
	var secondaryScoreSum int32
	for _, b := range bins {
		if b.QueryUB <= b.QueryLB {
			b.Secondary = false
			continue
		}
		ownSpan := b.QueryUB - b.QueryLB
		covered := primarySpans.Overlap(b.QueryLB, b.QueryUB)
		// "query-span is >=1.2x covered": the span is mostly redundant
		// with what's already been claimed by a better-ranked primary.
		b.Secondary = float64(ownSpan) <= 1.2*float64(covered)
		if b.Secondary {
			secondaryScoreSum += b.Score
		} else {
			primarySpans.Add(b.QueryLB, b.QueryUB)
		}
	}

	// Move secondaries after primaries, preserving each group's relative
	// (score-descending) order.
	ordered := make([]*ResultBin, 0, len(bins))
	for _, b := range bins {
		if !b.Secondary {
			ordered = append(ordered, b)
		}
	}
	for _, b := range bins {
		if b.Secondary {
			ordered = append(ordered, b)
		}
	}
	bins = ordered

	var secondBest int32
	primaryCount := 0
	for _, b := range bins {
		if !b.Secondary {
			primaryCount++
			if primaryCount == 2 {
				secondBest = b.Score
			}
		}
	}

	for _, b := range bins {
		if b.Secondary {
			continue
		}
		aln := b.bestAlignment()
		if aln == nil {
			continue
		}
		denom := aln.Identity*(mq.MCoef+mq.XCoef) - mq.XCoef
		if denom <= 0 {
			b.MapQ = 0
			continue
		}
		gap := float64(b.Score - secondBest)
		if gap < 0 {
			gap = 0
		}
		ulen := (2 / denom) * gap
		pe := 1 / (ulen*ulen + 1)
		var mapq float64
		if pe > 0 {
			mapq = -10 * math.Log10(pe)
		} else {
			mapq = 60
		}
		b.MapQ = clipInt(mapq, 0, 60)
	}
	if best > 0 {
		for _, b := range bins {
			if b.Secondary {
				b.MapQ = clipInt(60*float64(secondaryScoreSum)/float64(best+secondaryScoreSum), 0, 60)
			}
		}
	}

	return bins
}

func clipInt(v float64, lo, hi int) int {
	i := int(v)
	if i < lo {
		return lo
	}
	if i > hi {
		return hi
	}
	return i
}
