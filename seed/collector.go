// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package seed

import (
	"math"
	"sort"

	"github.com/grailbio/seqalign/minimizer"
	"github.com/grailbio/seqalign/refindex"
	"github.com/grailbio/seqalign/uvspace"
)

// Rescue is a deferred minimizer: its hit count exceeded the current
// tier's threshold, but not the index's hard drop threshold, so it may
// still be worth expanding once a looser tier is tried.
type Rescue struct {
	Hash     uint64
	QueryPos int
	Count    int
	Strand   uint8
}

// Collector expands a query's minimizers against a refindex.Index into
// seeds (and rescues for over-repetitive keys).
type Collector struct {
	Index    *refindex.Index
	AllVsAll bool
}

// Collect sketches queryCodes (w, k must match the index's build
// parameters) and, for each minimizer found in the index, either expands
// it into seeds or defers it to the returned rescue slice; minimizers the
// index has no entry for (including keys dropped at build time) are
// skipped. Query positions are k-mer start offsets, the same convention
// as refindex.Hit.Pos. tier selects which of the index's
// occurrence thresholds gates immediate expansion; pass 0 for the first,
// strictest pass.
func (c *Collector) Collect(queryCodes []uint8, queryID int32, qlen, w, k, tier int) ([]Seed, []Rescue) {
	sk := minimizer.NewSketcher(w, k)
	var seeds []Seed
	var rescues []Rescue

	tierBound := c.tierBound(tier)
	sk.Sketch(queryCodes, func(pos int, m minimizer.Minimizer) {
		hits, ok := c.Index.Lookup(m.Hash())
		if !ok {
			return
		}
		start := pos - k + 1
		if len(hits) > tierBound {
			rescues = append(rescues, Rescue{Hash: m.Hash(), QueryPos: start, Count: len(hits), Strand: m.Strand()})
			return
		}
		seeds = append(seeds, c.expand(hits, m.Strand(), start, qlen, k, queryID)...)
	})
	return seeds, rescues
}

// ExpandRescues re-attempts a batch of previously deferred rescues at a
// looser tier, returning newly expanded seeds and whichever rescues still
// don't pass.
func (c *Collector) ExpandRescues(rescues []Rescue, queryID int32, qlen, k, tier int) (seeds []Seed, remaining []Rescue) {
	tierBound := c.tierBound(tier)
	for _, r := range rescues {
		if r.Count > tierBound {
			remaining = append(remaining, r)
			continue
		}
		hits, ok := c.Index.Lookup(r.Hash)
		if !ok {
			continue
		}
		seeds = append(seeds, c.expand(hits, r.Strand, r.QueryPos, qlen, k, queryID)...)
	}
	return seeds, remaining
}

// SortRescuesByCount orders rescues ascending by hit count, the order the
// spec's rescue pass processes them in (loosest-fitting first). A plain
// stdlib sort stands in for the original's radix sort: the pack has no
// dedicated integer-sort library, and a handful of rescues per query
// batch doesn't justify one.
func SortRescuesByCount(rescues []Rescue) {
	sort.Slice(rescues, func(i, j int) bool { return rescues[i].Count < rescues[j].Count })
}

func (c *Collector) tierBound(tier int) int {
	if tier < 0 || tier >= len(c.Index.Thresholds) {
		return math.MaxInt64
	}
	return c.Index.Thresholds[tier]
}

func (c *Collector) expand(hits []refindex.Hit, queryStrand uint8, queryPos, qlen, k int, queryID int32) []Seed {
	out := make([]Seed, 0, len(hits))
	for _, h := range hits {
		if c.AllVsAll && h.RefID < queryID {
			continue
		}
		strand := queryStrand ^ h.Strand
		q := queryPos
		if strand == 1 {
			q = qlen - queryPos - k
		}
		p := uvspace.FromRefQuery(h.Pos, int64(q))
		out = append(out, Seed{U: p.U, V: p.V, RefID: h.RefID, ChainLink: Unchained, Strand: strand})
	}
	return out
}
