// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package chain links seeds sharing a common diagonal into chains, and
// (via LinkCircular) joins a chain's tail back to another chain's head
// when their reference wraps around (spec.md §4.5, §4.6).
//
// No teacher file builds anything shaped like this, so the walk below is
// a direct, from-scratch translation of the spec's own pseudocode into
// Go: explicit slice-index "pointers" (Leaf.Root/Tail index into the
// seed slice) in place of the original's leaf/seed node pointers, and
// ordinary struct fields in place of its high-bit-on-an-int sentinel
// tricks.
package chain

import (
	"sort"

	"github.com/grailbio/seqalign/seed"
	"github.com/grailbio/seqalign/uvspace"
)

// Leaf is one maximal run of seeds walked by the chaining algorithm: a
// root seed, a tail seed, and the path length accumulated along the way.
// Multiple leaves can belong to the same Chain (a later leaf's walk can
// run into an earlier leaf's seed and merge into its chain).
type Leaf struct {
	Root, Tail int   // indices into the seed slice BuildChains was given
	PathLength int64 // (1 - 1/scnt) * (path(tail) - path(root)), per spec
	Absorbed   bool  // folded into another chain by LinkCircular
}

// Chain groups one or more Leaf runs under a single identity: the spec's
// "chain record keeps the leaf with the maximum path_length".
type Chain struct {
	RefID      int32
	BestLeaf   int // index into the Leaves slice BuildChains returns
	PathLength int64
}

// Result is BuildChains' output: the seeds (now carrying their assigned
// leaf in ChainLink), every leaf produced, and the chains they were
// folded into, sorted by PathLength descending.
type Result struct {
	Seeds     []seed.Seed
	Leaves    []Leaf
	Chains    []Chain
	LeafChain []int // LeafChain[leafID] is the index into Chains that leaf was folded into
}

// WLen is the default linear chaining window (spec.md §4.5).
const WLen = 7000

// BuildChains chains seeds, which must already be sorted ascending by
// (RefID, V, U) (seed.ByRefVU does this). wlen is the linear window;
// W = 2*wlen in (u,v) space is the side of the chainable parallelogram.
func BuildChains(seeds []seed.Seed, wlen int64) Result {
	n := len(seeds)
	for i := range seeds {
		seeds[i].ChainLink = seed.Unchained
	}

	w := 2 * wlen
	var leaves []Leaf
	var chains []Chain
	leafToChain := []int{}

	nextUnchained := 0
	for nextUnchained < n {
		root := nextUnchained
		if seeds[root].ChainLink != seed.Unchained {
			nextUnchained++
			continue
		}

		leafID := len(leaves)
		seeds[root].ChainLink = int32(leafID)
		scnt := 1
		plen0 := point(seeds[root]).Path()
		cursor := root
		firstSkipped := -1

		merged := false
		mergedChainID := -1
		for {
			origin := point(seeds[cursor])
			win := uvspace.NewWindow(origin, w)

			best := -1
			var bestDist int64
			for sid := cursor + 1; sid < n; sid++ {
				if seeds[sid].RefID != seeds[root].RefID || seeds[sid].V > win.VBound() {
					break
				}
				p := point(seeds[sid])
				if !win.Contains(p) {
					if firstSkipped == -1 || sid < firstSkipped {
						firstSkipped = sid
					}
					continue
				}
				d := uvspace.PDistance(origin, p)
				if best == -1 || d < bestDist {
					best, bestDist = sid, d
				}
			}
			if best == -1 {
				break
			}
			if seeds[best].ChainLink != seed.Unchained {
				merged = true
				mergedChainID = leafToChain[seeds[best].ChainLink]
				break
			}
			seeds[best].ChainLink = int32(leafID)
			scnt++
			cursor = best
		}

		pathLen := point(seeds[cursor]).Path() - plen0
		adjusted := pathLen * int64(scnt-1) / int64(scnt)

		var chainID int
		if merged {
			chainID = mergedChainID
			if adjusted > chains[chainID].PathLength {
				chains[chainID].BestLeaf = leafID
				chains[chainID].PathLength = adjusted
			}
		} else {
			chainID = len(chains)
			chains = append(chains, Chain{RefID: seeds[root].RefID, BestLeaf: leafID, PathLength: adjusted})
		}
		leaves = append(leaves, Leaf{Root: root, Tail: cursor, PathLength: adjusted})
		leafToChain = append(leafToChain, chainID)

		if firstSkipped >= 0 {
			nextUnchained = firstSkipped
		} else {
			nextUnchained = cursor + 1
		}
	}

	order := make([]int, len(chains))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return chains[order[i]].PathLength > chains[order[j]].PathLength })

	sorted := make([]Chain, len(chains))
	oldToNew := make([]int, len(chains))
	for newIdx, oldIdx := range order {
		sorted[newIdx] = chains[oldIdx]
		oldToNew[oldIdx] = newIdx
	}
	for i := range leafToChain {
		leafToChain[i] = oldToNew[leafToChain[i]]
	}

	return Result{Seeds: seeds, Leaves: leaves, Chains: sorted, LeafChain: leafToChain}
}

func point(s seed.Seed) uvspace.Point { return uvspace.Point{U: s.U, V: s.V} }
