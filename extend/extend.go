// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package extend drives the gapped-DP kernel (package dpiface) over a
// query's chains, in descending path_length, producing per-chain result
// bins (spec.md §4.7). No teacher file does anything like this; it's
// built directly from the spec's own per-chain loop, using the already
//-built chain/seed/uvspace/dpiface/robinhood packages for its pieces.
package extend

import (
	"encoding/binary"
	"math"

	farm "github.com/dgryski/go-farm"

	"github.com/grailbio/seqalign/chain"
	"github.com/grailbio/seqalign/dpiface"
	"github.com/grailbio/seqalign/robinhood"
	"github.com/grailbio/seqalign/seed"
	"github.com/grailbio/seqalign/uvspace"
)

// ExclusionZone is the path-length-space radius (spec.md §4.7's "128-base
// exclusion zone") around the current extension position within which
// up-chain seeds are skipped, to avoid re-extending from nearly the same
// spot. u+v path length scales roughly 2x with linear distance, so the
// exclusion test compares against 2*ExclusionZone.
const ExclusionZone = 128

// Budget bounds one query's extension work (spec.md §6 defaults).
type Budget struct {
	MaxChainTrials int
	MaxSeedTrials  int
	MinScore       int32
	MinRatio       float64
	TgLen          int64
}

// DefaultBudget matches spec.md §6/§4.7's stated defaults.
func DefaultBudget() Budget {
	return Budget{MaxChainTrials: 50000, MaxSeedTrials: 8, MinScore: 50, MinRatio: 0.3, TgLen: 7000}
}

// Sections supplies the DP the reference/query byte ranges it needs for a
// given extension attempt, already oriented per dpiface.Section's
// Forward/Reverse convention (Ref/Query with reverse=true return a
// section whose Codes read toward decreasing coordinates).
type Sections interface {
	Ref(refID int32, reverse bool) dpiface.Section
	Query(reverse bool) dpiface.Section
}

// ResultBin is one chain's extension outcome (spec.md §3).
type ResultBin struct {
	ChainIdx   int
	Alignments []*dpiface.Alignment
	QueryLB    int64
	QueryUB    int64
	PathLength int64
	Score      int32 // aggregate score, set by PostProcess
	Secondary  bool
	MapQ       int
}

// Scheduler holds the per-worker state a single query's extension pass
// needs: the dedup hash, keyed by (ref_id, query_id, ref_pos, query_pos)
// and holding the path length of the chain that last recorded an
// alignment at that point (spec.md §3). A fresh Scheduler (or a
// reset one — see Reset) is used per query, matching spec.md §5's "each
// worker owns an independent buffer set... dedup hash" ownership model.
type Scheduler struct {
	Budget    Budget
	MatchCoef float64
	dedup     *robinhood.Table
}

func NewScheduler(b Budget) *Scheduler {
	return &Scheduler{Budget: b, MatchCoef: 1.0, dedup: robinhood.New(1024, true)}
}

// Reset clears the dedup hash for the next query, reusing the Scheduler's
// allocated buffers (spec.md §5: buffers reset, not freed, between
// queries).
func (s *Scheduler) Reset() { s.dedup.Clear() }

func chainMembers(seeds []seed.Seed, leafChain []int, chainID int) []int {
	var idx []int
	for i, sd := range seeds {
		if sd.ChainLink != seed.Unchained && leafChain[sd.ChainLink] == chainID {
			idx = append(idx, i)
		}
	}
	return idx
}

func dedupKey(refID, queryID int32, refPos, queryPos int64) uint64 {
	var buf [24]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(refID))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(queryID))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(refPos))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(queryPos))
	return farm.Hash64(buf[:])
}

// Run extends every chain in result, in the descending path_length order
// BuildChains already sorted them into, until the chain budget is
// exhausted (spec.md §4.7).
func (s *Scheduler) Run(result chain.Result, queryID int32, sec Sections, dp dpiface.DP, arena *dpiface.Arena) []*ResultBin {
	chainBudget := s.Budget.MaxChainTrials
	var bins []*ResultBin

	for ci := range result.Chains {
		if chainBudget <= 0 {
			break
		}
		c := result.Chains[ci]
		if result.Leaves[c.BestLeaf].Absorbed {
			// Folded into another chain by LinkCircular; that chain's own
			// extension already covers this one's span, so emitting it here
			// too would duplicate the alignment spec.md §4.6 says crossing a
			// circular reference's origin should produce exactly once.
			continue
		}
		if int64(float64(c.PathLength)*s.MatchCoef) < 2*int64(s.Budget.MinScore) {
			continue
		}

		members := chainMembers(result.Seeds, result.LeafChain, ci)
		if len(members) == 0 {
			continue
		}
		tailIdx := result.Leaves[c.BestLeaf].Tail
		refID := result.Seeds[tailIdx].RefID

		bin := &ResultBin{ChainIdx: ci, QueryLB: math.MaxInt64, QueryUB: math.MinInt64}
		seedBudget := s.Budget.MaxSeedTrials
		narrowBand := 0
		minScoreLocal := s.Budget.MinScore

		curU, curV := result.Seeds[tailIdx].U, result.Seeds[tailIdx].V
		used := map[int]bool{tailIdx: true}

		for seedBudget > 0 {
			origin := uvspace.Point{U: curU, V: curV}
			refPos, queryPos := origin.ToRefQuery()

			downCell := dp.FillRoot(sec.Ref(refID, false), sec.Query(false), refPos, queryPos, dpiface.Forward)
			maxRef, maxQuery, _ := dp.SearchMax(downCell)

			key := dedupKey(refID, queryID, maxRef, maxQuery)
			if existing, ok := s.dedup.Get(key); ok && int64(existing) >= c.PathLength {
				narrowBand++
				if narrowBand > 2 {
					break
				}
			} else {
				upCell := dp.FillRoot(sec.Ref(refID, true), sec.Query(true), maxRef, maxQuery, dpiface.Reverse)
				aln, err := dp.Trace(upCell, arena)
				if err == nil && aln != nil && aln.Score >= minScoreLocal {
					s.dedup.Put(key, uint64(c.PathLength))
					bin.Alignments = append(bin.Alignments, aln)
					for _, seg := range aln.Segments {
						if seg.QueryStart < bin.QueryLB {
							bin.QueryLB = seg.QueryStart
						}
						if seg.QueryStart+seg.QueryLen > bin.QueryUB {
							bin.QueryUB = seg.QueryStart + seg.QueryLen
						}
					}
					bin.PathLength += aln.PLen
					if thresh := int32(float64(aln.Score) * s.Budget.MinRatio); thresh > minScoreLocal {
						minScoreLocal = thresh
					}
				}
			}

			next, ok := nearestUnused(result.Seeds, members, used, origin, s.Budget.TgLen)
			if !ok {
				break
			}
			used[next] = true
			curU, curV = result.Seeds[next].U, result.Seeds[next].V
			seedBudget--
		}

		if len(bin.Alignments) == 0 {
			chainBudget--
			continue
		}
		chainBudget = s.Budget.MaxChainTrials
		bins = append(bins, bin)
	}
	return bins
}

// nearestUnused picks the closest-by-p-distance member seed within tglen
// of origin (in path length) that hasn't been visited yet and isn't
// inside the exclusion zone around origin.
func nearestUnused(seeds []seed.Seed, members []int, used map[int]bool, origin uvspace.Point, tglen int64) (int, bool) {
	best := -1
	var bestDist int64
	for _, idx := range members {
		if used[idx] {
			continue
		}
		p := uvspace.Point{U: seeds[idx].U, V: seeds[idx].V}
		pathDiff := p.Path() - origin.Path()
		if pathDiff < 0 {
			pathDiff = -pathDiff
		}
		if pathDiff > 2*tglen || pathDiff < 2*ExclusionZone {
			continue
		}
		d := uvspace.PDistance(origin, p)
		if best == -1 || d < bestDist {
			best, bestDist = idx, d
		}
	}
	if best == -1 {
		return 0, false
	}
	return best, true
}
