// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package refindex builds and queries the double-hash minimizer index: a
// fixed number of buckets selected by the low bits of a minimizer's hash,
// each backed by a package robinhood table keyed by the hash's high bits.
//
// Grounded on fusion/kmer_index.go's bucketed hash table (teacher) for the
// overall "low bits pick a shard, high bits probe within it" shape; the
// occurrence-threshold step is new, using gonum's stat.Quantile (a
// dependency kortschak-ins/kortschak-loopy contribute to the example pack)
// to compute percentile cutoffs without hand-rolling order statistics.
package refindex

import (
	"math"
	"sort"

	"github.com/grailbio/seqalign/minimizer"
	"github.com/grailbio/seqalign/robinhood"
	"github.com/grailbio/seqalign/seqio"
	"gonum.org/v1/gonum/stat"
)

// DefaultPercentiles are the occurrence percentiles used when a caller
// doesn't supply its own: top 5%, top 1%, top 0.1% of per-key occurrence
// counts, as spec's worked example names them.
var DefaultPercentiles = []float64{0.05, 0.01, 0.001}

// bucket is one shard of the index: a robinhood table keyed by hash>>b,
// plus the packed-postings array that count>1 keys point into.
type bucket struct {
	table  *robinhood.Table
	values []Hit
}

// Index is a built, queryable double-hash minimizer index over a set of
// reference sequences.
type Index struct {
	W, K int
	B    int // bucket-selector bit width; nBuckets == 1<<B

	// Thresholds holds the occurrence-count cutoffs computed at Build
	// time, one per requested percentile, ascending strictness. Keys
	// whose count exceeds Thresholds[len(Thresholds)-1] were dropped.
	Thresholds []int

	Refs []seqio.RefSeq

	buckets []bucket
}

// Build sketches every reference in refs with window w and k-mer length k,
// buckets minimizers by their low B hash bits, and builds one robinhood
// table per bucket. percentiles selects the occurrence thresholds (see
// DefaultPercentiles); pass nil to keep every key regardless of count.
func Build(refs []seqio.RefSeq, w, k, b int, percentiles []float64) *Index {
	nBuckets := 1 << uint(b)
	bucketMask := uint64(nBuckets - 1)

	type rawEntry struct {
		key uint64
		hit Hit
	}
	raw := make([][]rawEntry, nBuckets)

	for _, ref := range refs {
		bases := ref.Bases()
		codes := make([]uint8, len(bases))
		for i, c := range bases {
			codes[i] = uint8(c)
		}
		sk := minimizer.NewSketcher(w, k)
		refID := ref.ID
		sk.Sketch(codes, func(pos int, m minimizer.Minimizer) {
			hash := m.Hash()
			bi := hash & bucketMask
			key := hash >> uint(b)
			raw[bi] = append(raw[bi], rawEntry{
				key: key,
				hit: Hit{RefID: refID, Pos: int64(pos - k + 1), Strand: m.Strand()},
			})
		})
	}

	for bi := range raw {
		entries := raw[bi]
		sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })
	}

	var counts []float64
	for _, entries := range raw {
		for i := 0; i < len(entries); {
			j := i
			for j < len(entries) && entries[j].key == entries[i].key {
				j++
			}
			counts = append(counts, float64(j-i))
			i = j
		}
	}
	thresholds := occurrenceThresholds(counts, percentiles)
	dropAbove := math.MaxInt64
	if len(thresholds) > 0 {
		dropAbove = thresholds[len(thresholds)-1]
	}

	idx := &Index{
		W: w, K: k, B: b,
		Thresholds: thresholds,
		Refs:       refs,
		buckets:    make([]bucket, nBuckets),
	}
	for bi, entries := range raw {
		tbl := robinhood.New(256, true)
		var values []Hit
		for i := 0; i < len(entries); {
			j := i
			for j < len(entries) && entries[j].key == entries[i].key {
				j++
			}
			count := j - i
			if count > dropAbove {
				i = j
				continue
			}
			if count == 1 {
				tbl.Put(entries[i].key, packInline(entries[i].hit))
			} else {
				base := len(values)
				for _, e := range entries[i:j] {
					values = append(values, e.hit)
				}
				tbl.Put(entries[i].key, packIndirect(base, count))
			}
			i = j
		}
		idx.buckets[bi] = bucket{table: tbl, values: values}
	}
	return idx
}

// occurrenceThresholds computes one count cutoff per percentile in
// percentiles (e.g. 0.05 -> the count above which the top 5% of keys by
// occurrence fall), using gonum's empirical quantile estimator.
func occurrenceThresholds(counts []float64, percentiles []float64) []int {
	if len(counts) == 0 || len(percentiles) == 0 {
		return nil
	}
	sorted := append([]float64(nil), counts...)
	sort.Float64s(sorted)
	out := make([]int, len(percentiles))
	for i, p := range percentiles {
		q := stat.Quantile(1-p, stat.Empirical, sorted, nil)
		out[i] = int(math.Ceil(q))
	}
	return out
}

// Lookup returns the postings for a minimizer hash, and whether the key is
// present (it may be absent either because no such minimizer was ever
// inserted, or because Build's occurrence filter dropped it).
func (idx *Index) Lookup(hash uint64) ([]Hit, bool) {
	bi := hash & uint64(len(idx.buckets)-1)
	key := hash >> uint(idx.B)
	v, ok := idx.buckets[bi].table.Get(key)
	if !ok {
		return nil, false
	}
	if isIndirect(v) {
		base, count := unpackIndirect(v)
		return idx.buckets[bi].values[base : base+count], true
	}
	return []Hit{unpackInline(v)}, true
}
