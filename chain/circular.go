// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package chain

import (
	"github.com/grailbio/seqalign/circular"
	"github.com/grailbio/seqalign/seed"
	"github.com/grailbio/seqalign/uvspace"
)

// RefLength reports a circular reference's length, for LinkCircular's
// circularRefs argument.
type RefLength struct {
	RefID int32
	Len   int64
}

// LinkCircular joins a chain's tail back to another chain's head when a
// query crosses the origin of a circular reference (spec.md §4.6). For
// each chain whose reference is circular, it looks for some other leaf on
// the same reference whose root, shifted one trip around the origin, lands
// in the window just past the chain's tail; among candidates it picks the one with the
// shortest existing path_length, marks it Absorbed so it won't also be
// reported standalone, and extends the chain's path_length by the
// connecting segment. extend.Scheduler.Run is the one place that reads
// Absorbed, skipping any chain whose BestLeaf was folded in here so the
// origin-crossing query yields a single alignment, not two.
//
// seeds and leaves are BuildChains' Result.Seeds/Leaves; chains is mutated
// in place.
func LinkCircular(seeds []seed.Seed, leaves []Leaf, chains []Chain, circularRefs []RefLength, wlen int64) {
	refLen := map[int32]int64{}
	for _, rl := range circularRefs {
		refLen[rl.RefID] = rl.Len
	}

	byRef := map[int32][]int{}
	for li, lf := range leaves {
		r := seeds[lf.Root].RefID
		byRef[r] = append(byRef[r], li)
	}

	w := 2 * wlen
	for ci := range chains {
		length, circularRef := refLen[chains[ci].RefID]
		if !circularRef {
			continue
		}
		ownLeaf := chains[ci].BestLeaf
		tail := point(seeds[leaves[ownLeaf].Tail])
		off := uvspace.CircularOffset(length)

		candidates := byRef[chains[ci].RefID]
		scratchCap := circular.NextExp2(len(candidates) + 1)
		best := -1
		scanned := make([]int, 0, scratchCap)
		for _, li := range candidates {
			if li == ownLeaf || leaves[li].Absorbed {
				continue
			}
			// The candidate's root, continued one trip further around the
			// reference, should land just past this chain's tail.
			shiftedRoot := point(seeds[leaves[li].Root]).Shift(off)
			if !uvspace.NewWindow(tail, w).Contains(shiftedRoot) {
				continue
			}
			scanned = append(scanned, li)
		}
		for _, li := range scanned {
			if best == -1 || leaves[li].PathLength < leaves[best].PathLength {
				best = li
			}
		}
		if best == -1 {
			continue
		}

		leaves[best].Absorbed = true
		shiftedRoot := point(seeds[leaves[best].Root]).Shift(off)
		seg := shiftedRoot.Path() - tail.Path()
		if seg < 0 {
			seg = -seg
		}
		chains[ci].PathLength += seg
	}
}
