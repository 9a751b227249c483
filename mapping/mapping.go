// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package mapping is the top-level orchestration spec.md's components
// assemble into: build a reference index, then drive each query through
// sketch -> collect -> chain -> extend -> post-process, fanned out over
// package pipeline's worker pool with in-order emission to a caller-
// supplied sink (spec.md §2's dataflow, §6's external interfaces).
//
// No teacher file does this end to end; it is new orchestration code
// wiring together the packages built from the teacher and the rest of
// the example pack (minimizer, refindex, seed, chain, extend, dpiface,
// pipeline, seqio).
package mapping

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/grailbio/seqalign/chain"
	"github.com/grailbio/seqalign/dpiface"
	"github.com/grailbio/seqalign/extend"
	"github.com/grailbio/seqalign/pipeline"
	"github.com/grailbio/seqalign/refindex"
	"github.com/grailbio/seqalign/seed"
	"github.com/grailbio/seqalign/seqio"
)

// FatalError wraps an error spec.md §7 classifies as fatal — kernel
// initialization failure, or anything else that means the engine cannot
// usefully continue at all (as opposed to a single malformed query,
// which is skipped rather than treated as fatal). Mirrors the teacher's
// vlog.Fatalf convention in spirit, but is returned rather than exiting
// the process directly — only a cmd wrapper decides to do that.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "mapping: fatal: " + e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// QueryResult is one query's mapping outcome: the query it was produced
// for, and its classified, mapq-estimated result bins in the order
// extend.PostProcess left them (primaries first, each score-descending,
// then secondaries). Bins is empty (not nil-checked by callers) when the
// query had no seeds, no surviving chain, or every candidate alignment
// scored below the budget's min_score.
type QueryResult struct {
	Query seqio.QueryRecord
	Bins  []*extend.ResultBin
}

// Sink is spec.md §6's alignment output collaborator: "emit record for
// query with its alignment set". Formatters (SAM/MAF/PAF/BLAST6) are out
// of scope (spec.md §1(3)); Sink only defines what one must accept.
type Sink interface {
	Emit(result *QueryResult) error
}

// Source is spec.md §1(2)'s "read next batch of query records" external
// collaborator. mapping does not implement a FASTA/FASTQ/BAM parser
// itself; package seqio's eager readers are one way to produce a Source,
// but any function of this shape plugs in.
type Source func() (seqio.QueryBatch, bool)

// FastqSource adapts a seqio.FastqScanner into a Source, batching up to
// BatchSize records per call and assigning both batch and query IDs
// sequentially from 0 (spec.md §9's stated id-assignment default).
// Mirrors bufio.Scanner's Scan()/Err() split: call Next until it reports
// ok=false, then check Err to distinguish clean EOF from a scanner error
// (spec.md §7's "bad FASTQ state machine transition") — Source's own
// (batch, ok) shape has no room for an error return, so FastqSource
// holds onto it the way the underlying scanner already does.
type FastqSource struct {
	sc        *seqio.FastqScanner
	batchSize int
	batchID   int64
	nextID    int32
	err       error
}

// NewFastqSource constructs a FastqSource reading from sc.
func NewFastqSource(sc *seqio.FastqScanner, batchSize int) *FastqSource {
	if batchSize < 1 {
		batchSize = 1
	}
	return &FastqSource{sc: sc, batchSize: batchSize}
}

// Next implements the Source function shape; pass s.Next directly to Map.
func (s *FastqSource) Next() (seqio.QueryBatch, bool) {
	if s.err != nil {
		return seqio.QueryBatch{}, false
	}
	batch, err := seqio.ReadFastqBatch(s.sc, s.batchSize, s.batchID, s.nextID)
	if err != nil {
		s.err = err
		return seqio.QueryBatch{}, false
	}
	if len(batch.Records) == 0 {
		return seqio.QueryBatch{}, false
	}
	s.batchID++
	s.nextID += int32(len(batch.Records))
	return batch, true
}

// Err reports the error, if any, that stopped Next from yielding more
// batches. A nil Err after Next returns ok=false means clean EOF.
func (s *FastqSource) Err() error { return s.err }

// Config bundles the tunables spec.md §6's "Default parameters" names.
type Config struct {
	W, K, B     int
	Percentiles []float64
	Budget      extend.Budget
	Scoring     dpiface.ScoringParams
	Workers     int
	AllVsAll    bool
	// BatchSize is only consulted by AllVsAll, which has to build its
	// own Source over an in-memory read set; Map callers supply their
	// own batching via Source.
	BatchSize int
}

// DefaultConfig matches spec.md §6's stated defaults.
func DefaultConfig() Config {
	return Config{
		W:           10,
		K:           15,
		B:           14,
		Percentiles: refindex.DefaultPercentiles,
		Budget:      extend.DefaultBudget(),
		Scoring:     dpiface.DefaultScoringParams(),
		Workers:     1,
		BatchSize:   64,
	}
}

// Engine is a built index plus everything needed to map queries against
// it: the DP kernel context, derived mapq coefficients, and the
// precomputed per-reference forward and reversed code arrays every
// worker's Sections implementation shares read-only (spec.md §5: "the
// index is immutable after build and shared read-only across workers").
type Engine struct {
	Refs   []seqio.RefSeq
	Index  *refindex.Index
	Config Config

	kernel       dpiface.Kernel
	ctx          dpiface.Context
	mq           extend.MapQParams
	circularRefs []chain.RefLength

	refFwd map[int32][]uint8
	refRev map[int32][]uint8
	refLen map[int32]int64
}

// NewEngine builds the minimizer index over refs and initializes kernel
// with cfg's scoring parameters.
func NewEngine(refs []seqio.RefSeq, kernel dpiface.Kernel, cfg Config) (*Engine, error) {
	ctx, err := kernel.Init(cfg.Scoring)
	if err != nil {
		return nil, &FatalError{Err: errors.Wrap(err, "mapping: kernel init failed")}
	}

	e := &Engine{
		Refs:   refs,
		Index:  refindex.Build(refs, cfg.W, cfg.K, cfg.B, cfg.Percentiles),
		Config: cfg,
		kernel: kernel,
		ctx:    ctx,
		mq:     extend.DeriveMapQParams(cfg.Scoring.Matrix),
		refFwd: make(map[int32][]uint8, len(refs)),
		refRev: make(map[int32][]uint8, len(refs)),
		refLen: make(map[int32]int64, len(refs)),
	}
	for _, r := range refs {
		bases := r.Bases()
		fwd := make([]uint8, len(bases))
		for i, c := range bases {
			fwd[i] = uint8(c)
		}
		e.refFwd[r.ID] = fwd
		e.refRev[r.ID] = reverseBytes(fwd)
		e.refLen[r.ID] = r.Length
		if r.Circular {
			e.circularRefs = append(e.circularRefs, chain.RefLength{RefID: r.ID, Len: r.Length})
		}
	}
	return e, nil
}

// workerState is the per-goroutine scratch a single Map call's worker
// pool hands to mapOne: DP context, alignment arena, extension
// scheduler, and seed collector, all reused across queries the way
// spec.md §5 describes ("each worker owns an independent buffer set...
// resetting, not freeing, between queries").
type workerState struct {
	dp        dpiface.DP
	arena     *dpiface.Arena
	sched     *extend.Scheduler
	collector *seed.Collector
}

func (e *Engine) newWorkerState() *workerState {
	return &workerState{
		dp:        e.ctx.DPInit(),
		arena:     dpiface.NewArena(),
		sched:     extend.NewScheduler(e.Config.Budget),
		collector: &seed.Collector{Index: e.Index, AllVsAll: e.Config.AllVsAll},
	}
}

// Map drives every query batch source yields through the engine and
// calls sink.Emit for each query's result, in source order (spec.md
// §4.8/§5's ordering guarantees, via package pipeline).
func (e *Engine) Map(source Source, sink Sink) error {
	n := e.Config.Workers
	if n < 1 {
		n = 1
	}
	states := make([]*workerState, n)

	pSource := func() (interface{}, bool) {
		b, ok := source()
		if !ok {
			return nil, false
		}
		return b, true
	}
	pWorker := func(tid int, payload interface{}) (interface{}, error) {
		if states[tid] == nil {
			states[tid] = e.newWorkerState()
		}
		st := states[tid]
		batch := payload.(seqio.QueryBatch)
		out := make([]*QueryResult, len(batch.Records))
		for i, rec := range batch.Records {
			res, err := e.mapOne(st, rec)
			if err != nil {
				return nil, errors.Wrapf(err, "mapping: query %q (id %d)", rec.Name, rec.ID)
			}
			out[i] = res
		}
		return out, nil
	}
	pDrain := func(payload interface{}) error {
		for _, res := range payload.([]*QueryResult) {
			if err := sink.Emit(res); err != nil {
				return err
			}
		}
		return nil
	}

	return pipeline.Run(n, pSource, pWorker, pDrain)
}

// mapOne runs one query through sketch -> collect -> chain -> extend ->
// post-process. Seeds are split by strand before chaining: dpiface's
// Sections contract only carries an extension-direction flag, not a
// strand, so each strand's chains are extended against their own
// correctly-oriented (forward, or reverse-complemented) query Sections,
// then the two strands' result bins are merged before PostProcess ranks
// and classifies them together.
func (e *Engine) mapOne(st *workerState, rec seqio.QueryRecord) (*QueryResult, error) {
	st.dp.Flush()
	st.sched.Reset()
	st.arena.Reset()

	fwd := make([]uint8, len(rec.Seq))
	for i, c := range rec.Seq {
		fwd[i] = uint8(c)
	}
	qlen := len(fwd)

	tier := 0
	seeds, rescues := st.collector.Collect(fwd, rec.ID, qlen, e.Config.W, e.Config.K, tier)
	for len(rescues) > 0 {
		tier++
		if tier >= len(e.Index.Thresholds) {
			break
		}
		seed.SortRescuesByCount(rescues)
		var more []seed.Seed
		more, rescues = st.collector.ExpandRescues(rescues, rec.ID, qlen, e.Config.K, tier)
		seeds = append(seeds, more...)
	}
	if len(seeds) == 0 {
		return &QueryResult{Query: rec}, nil
	}

	var fwdSeeds, revSeeds []seed.Seed
	for _, s := range seeds {
		if s.Strand == 0 {
			fwdSeeds = append(fwdSeeds, s)
		} else {
			revSeeds = append(revSeeds, s)
		}
	}

	var bins []*extend.ResultBin
	if len(fwdSeeds) > 0 {
		bins = append(bins, e.extendStrand(st, rec.ID, fwdSeeds, fwd)...)
	}
	if len(revSeeds) > 0 {
		bins = append(bins, e.extendStrand(st, rec.ID, revSeeds, revcomp(fwd))...)
	}
	if len(bins) == 0 {
		return &QueryResult{Query: rec}, nil
	}

	bins = st.sched.PostProcess(bins, e.mq)
	return &QueryResult{Query: rec, Bins: bins}, nil
}

// extendStrand chains and extends one strand's seeds against queryCodes
// (already forward- or reverse-complement-oriented to match that
// strand).
func (e *Engine) extendStrand(st *workerState, queryID int32, seeds []seed.Seed, queryCodes []uint8) []*extend.ResultBin {
	sort.Sort(seed.ByRefVU(seeds))
	result := chain.BuildChains(seeds, e.Config.Budget.TgLen)
	if len(e.circularRefs) > 0 {
		chain.LinkCircular(result.Seeds, result.Leaves, result.Chains, e.circularRefs, e.Config.Budget.TgLen)
	}
	sec := &querySections{engine: e, fwd: queryCodes, rev: reverseBytes(queryCodes)}
	return st.sched.Run(result, queryID, sec, st.dp, st.arena)
}

// querySections implements extend.Sections for one query orientation
// (spec.md §4.7's DP sees both the reference and the query through
// Forward/Reverse tail sections). Reference code arrays are shared,
// read-only slices owned by Engine; only the query's two small arrays
// are per-query.
type querySections struct {
	engine   *Engine
	fwd, rev []uint8
}

func (s *querySections) Ref(refID int32, reverse bool) dpiface.Section {
	if reverse {
		return dpiface.Section{Codes: s.engine.refRev[refID], ID: refID, Start: s.engine.refLen[refID] - 1}
	}
	return dpiface.Section{Codes: s.engine.refFwd[refID], ID: refID, Start: 0}
}

func (s *querySections) Query(reverse bool) dpiface.Section {
	if reverse {
		return dpiface.Section{Codes: s.rev, ID: 0, Start: int64(len(s.fwd) - 1)}
	}
	return dpiface.Section{Codes: s.fwd, ID: 0, Start: 0}
}

func reverseBytes(codes []uint8) []uint8 {
	out := make([]uint8, len(codes))
	for i, c := range codes {
		out[len(codes)-1-i] = c
	}
	return out
}

// revcomp reverse-complements 2-bit base codes (0=A,1=C,2=G,3=T; any
// other value, i.e. N=4, is copied unchanged, and the sketcher treats it
// as a window break, so no seed is ever collected across one).
func revcomp(codes []uint8) []uint8 {
	out := make([]uint8, len(codes))
	for i, c := range codes {
		var comp uint8
		if c <= 3 {
			comp = 3 - c
		} else {
			comp = c
		}
		out[len(codes)-1-i] = comp
	}
	return out
}

// AllVsAll computes all-versus-all overlaps within a read set (spec.md
// §1): every read doubles as both a reference and a query, with
// ref_id < query_id pairs skipped via seed.Collector's AllVsAll diagonal
// lower-triangle elimination (spec.md §4.4), so each pair of reads is
// only ever mapped in one direction.
func AllVsAll(reads []seqio.QueryRecord, kernel dpiface.Kernel, cfg Config, sink Sink) error {
	cfg.AllVsAll = true
	refs := make([]seqio.RefSeq, len(reads))
	for i, r := range reads {
		packed := make([]seqio.Code, len(r.Seq)+2*seqio.PackMargin)
		for j := 0; j < seqio.PackMargin; j++ {
			packed[j] = seqio.CodeN
			packed[len(packed)-1-j] = seqio.CodeN
		}
		copy(packed[seqio.PackMargin:], r.Seq)
		refs[i] = seqio.RefSeq{ID: r.ID, Name: r.Name, Length: int64(len(r.Seq)), Packed: packed}
	}

	e, err := NewEngine(refs, kernel, cfg)
	if err != nil {
		return err
	}

	batchSize := cfg.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}
	next := 0
	batchID := int64(0)
	source := func() (seqio.QueryBatch, bool) {
		if next >= len(reads) {
			return seqio.QueryBatch{}, false
		}
		end := next + batchSize
		if end > len(reads) {
			end = len(reads)
		}
		b := seqio.QueryBatch{BatchID: batchID, Records: reads[next:end]}
		next = end
		batchID++
		return b, true
	}
	return e.Map(source, sink)
}

// Map builds an Engine over refs and runs source's query batches through
// it, emitting results to sink in source order. A convenience wrapper
// for callers that don't need to reuse the built Engine across multiple
// Map calls.
func Map(refs []seqio.RefSeq, kernel dpiface.Kernel, cfg Config, source Source, sink Sink) error {
	e, err := NewEngine(refs, kernel, cfg)
	if err != nil {
		return err
	}
	return e.Map(source, sink)
}
