// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package extend

import (
	"sort"
	"strings"
	"testing"

	"github.com/grailbio/seqalign/chain"
	"github.com/grailbio/seqalign/dpiface"
	"github.com/grailbio/seqalign/dpiface/fakedp"
	"github.com/grailbio/seqalign/refindex"
	"github.com/grailbio/seqalign/seed"
	"github.com/grailbio/seqalign/seqio"
	"github.com/grailbio/seqalign/util"
	"github.com/grailbio/seqalign/uvspace"
)

func encode(s string) []uint8 {
	out := make([]uint8, len(s))
	for i, c := range s {
		switch c {
		case 'A':
			out[i] = 0
		case 'C':
			out[i] = 1
		case 'G':
			out[i] = 2
		case 'T':
			out[i] = 3
		}
	}
	return out
}

func reversed(codes []uint8) []uint8 {
	out := make([]uint8, len(codes))
	for i, c := range codes {
		out[len(codes)-1-i] = c
	}
	return out
}

// fixedSections is a test-only dpiface.Sections-shaped helper backed by
// one reference and one query sequence held fully in memory.
type fixedSections struct {
	refFwd, refRev     []uint8
	queryFwd, queryRev []uint8
}

func newFixedSections(refCodes, queryCodes []uint8) *fixedSections {
	return &fixedSections{
		refFwd: refCodes, refRev: reversed(refCodes),
		queryFwd: queryCodes, queryRev: reversed(queryCodes),
	}
}

func (s *fixedSections) Ref(refID int32, reverse bool) dpiface.Section {
	if reverse {
		return dpiface.Section{Codes: s.refRev, ID: refID, Start: int64(len(s.refFwd) - 1)}
	}
	return dpiface.Section{Codes: s.refFwd, ID: refID, Start: 0}
}

func (s *fixedSections) Query(reverse bool) dpiface.Section {
	if reverse {
		return dpiface.Section{Codes: s.queryRev, ID: 0, Start: int64(len(s.queryFwd) - 1)}
	}
	return dpiface.Section{Codes: s.queryFwd, ID: 0, Start: 0}
}

// TestRunProducesAlignmentForExactMatch exercises the full seed -> chain
// -> extend pipeline end to end: an exact substring of the reference
// should chain into one chain and extend into a high-identity, primary
// alignment with a confident mapq.
func TestRunProducesAlignmentForExactMatch(t *testing.T) {
	refSeq := "ACGTACGTTTGGGCCCAAATTTGGGCCCACGTACGTGGGCATGACTAGT"
	ref := seqio.RefSeq{ID: 0, Name: "r0", Length: int64(len(refSeq)), Packed: seqio.PackReference([]byte(refSeq))}
	idx := refindex.Build([]seqio.RefSeq{ref}, 3, 11, 4, nil)

	query := refSeq[10:40]
	qCodes := encode(query)

	c := &seed.Collector{Index: idx}
	seeds, rescues := c.Collect(qCodes, 1, len(query), 3, 11, len(idx.Thresholds)-1)
	if len(rescues) != 0 {
		t.Fatalf("unexpected rescues: %v", rescues)
	}
	if len(seeds) == 0 {
		t.Fatal("expected seeds for an exact substring match")
	}
	sort.Sort(seed.ByRefVU(seeds))

	result := chain.BuildChains(seeds, 100)
	if len(result.Chains) == 0 {
		t.Fatal("expected at least one chain")
	}

	sec := newFixedSections(encode(refSeq), qCodes)
	k := fakedp.New()
	ctx, err := k.Init(dpiface.DefaultScoringParams())
	if err != nil {
		t.Fatal(err)
	}
	dp := ctx.DPInit()
	arena := dpiface.NewArena()

	budget := Budget{MaxChainTrials: 1000, MaxSeedTrials: 8, MinScore: 5, MinRatio: 0.3, TgLen: 7000}
	sched := NewScheduler(budget)
	bins := sched.Run(result, 1, sec, dp, arena)
	if len(bins) == 0 {
		t.Fatal("expected at least one result bin")
	}

	mq := DeriveMapQParams(dpiface.DefaultScoringParams().Matrix)
	bins = sched.PostProcess(bins, mq)
	if len(bins) == 0 {
		t.Fatal("expected surviving bins after PostProcess")
	}
	if bins[0].Secondary {
		t.Error("the top-scoring bin should be classified as primary")
	}
	if bins[0].Score <= 0 {
		t.Errorf("expected a positive aggregate score, got %d", bins[0].Score)
	}

	// Cross-check the DP's own notion of identity against an
	// independent edit-distance computation: for an exact-match query
	// the best alignment's ref span should equal the query verbatim, so
	// util.Levenshtein between them should be 0.
	aln := bins[0].Alignments[0]
	seg := aln.Segments[0]
	refSpan := refSeq[seg.RefStart : seg.RefStart+seg.RefLen]
	querySpan := query[seg.QueryStart : seg.QueryStart+seg.QueryLen]
	if seg.RefLen == seg.QueryLen {
		if d := util.Levenshtein(refSpan, querySpan, "", ""); d != 0 {
			t.Errorf("util.Levenshtein(ref span, query span) = %d, want 0 for an exact match", d)
		}
	}
}

// TestRunJoinsCircularOriginIntoOneAlignment is scenario S4 run end to end
// (seed -> chain -> LinkCircular -> extend): a query built by concatenating
// the tail and head of a circular reference (as if read across the origin)
// chains into two separate chains before LinkCircular, and must extend into
// exactly one ResultBin afterward, not two.
func TestRunJoinsCircularOriginIntoOneAlignment(t *testing.T) {
	refSeq := "ACGTACGTTTGGGCCCAAATTTGGGCCCACGTACGTGGGCATGACTAGT"
	ref := seqio.RefSeq{ID: 0, Name: "r0", Length: int64(len(refSeq)), Circular: true, Packed: seqio.PackReference([]byte(refSeq))}
	idx := refindex.Build([]seqio.RefSeq{ref}, 3, 11, 4, nil)

	// Read across the origin: tail of the reference followed by its head.
	query := refSeq[35:] + refSeq[:16]
	qCodes := encode(query)

	c := &seed.Collector{Index: idx}
	seeds, rescues := c.Collect(qCodes, 1, len(query), 3, 11, len(idx.Thresholds)-1)
	if len(rescues) != 0 {
		t.Fatalf("unexpected rescues: %v", rescues)
	}
	if len(seeds) == 0 {
		t.Fatal("expected seeds on both sides of the origin")
	}
	sort.Sort(seed.ByRefVU(seeds))

	result := chain.BuildChains(seeds, 100)
	if len(result.Chains) < 2 {
		t.Fatalf("got %d chains before circular linking, want at least 2 (origin crossing splits the query)", len(result.Chains))
	}

	chain.LinkCircular(result.Seeds, result.Leaves, result.Chains, []chain.RefLength{{RefID: 0, Len: ref.Length}}, 100)

	absorbed := 0
	for _, lf := range result.Leaves {
		if lf.Absorbed {
			absorbed++
		}
	}
	if absorbed == 0 {
		t.Fatal("expected LinkCircular to absorb the wrapped chain's leaf")
	}

	// The extension fixture gets a non-matching tail appended past the
	// reference's real (circular) length: a fixedSections array is plain
	// linear storage with no wraparound, so without this the forward fill
	// from the tail chain would run off the end of Codes exactly at the
	// reference's length, leaving no room for the subsequent reverse fill
	// to retrace from that boundary. The padding mismatches on both ref
	// and query, so the best-scoring cell still lands exactly at the
	// circular origin, not inside the padding.
	sec := newFixedSections(encode(refSeq+"TGCATGCATGCA"), qCodes)
	k := fakedp.New()
	ctx, err := k.Init(dpiface.DefaultScoringParams())
	if err != nil {
		t.Fatal(err)
	}
	dp := ctx.DPInit()
	arena := dpiface.NewArena()

	budget := Budget{MaxChainTrials: 1000, MaxSeedTrials: 8, MinScore: 5, MinRatio: 0.3, TgLen: 7000}
	sched := NewScheduler(budget)
	bins := sched.Run(result, 1, sec, dp, arena)
	if len(bins) != 1 {
		t.Fatalf("got %d result bins for a query spanning the circular origin, want exactly 1", len(bins))
	}
}

// TestRunDedupsSameAntiDiagonal is scenario S5: two seeds on the same
// diagonal, far enough apart to clear the scheduler's exclusion zone
// (extend.ExclusionZone) so both are actually tried, both inside one
// exact-match region. The farther (earlier) seed's DP traceback reaches the
// same downstream max cell as the closer (later) one already recorded, so
// the dedup hash must suppress it rather than record a second alignment.
func TestRunDedupsSameAntiDiagonal(t *testing.T) {
	common := strings.Repeat("ACGT", 50) // 200 bases, one long exact match
	// Diverging tails past the shared match: without these, the forward
	// fill from either seed would run off the end of the Codes array
	// exactly at the match's end, leaving no headroom for the reverse
	// fill that retraces from there.
	refSeq := common + "TGCATGCATG"
	querySeq := common + "GATCGATCGA"

	mk := func(refPos, queryPos int64) seed.Seed {
		p := uvspace.FromRefQuery(refPos, queryPos)
		return seed.Seed{U: p.U, V: p.V, RefID: 0, ChainLink: seed.Unchained}
	}
	seeds := []seed.Seed{mk(10, 10), mk(160, 160)}
	sort.Sort(seed.ByRefVU(seeds))

	result := chain.BuildChains(seeds, 100)
	if len(result.Chains) != 1 {
		t.Fatalf("got %d chains, want 1 (both seeds lie on the same diagonal within the window)", len(result.Chains))
	}

	sec := newFixedSections(encode(refSeq), encode(querySeq))
	k := fakedp.New()
	ctx, err := k.Init(dpiface.DefaultScoringParams())
	if err != nil {
		t.Fatal(err)
	}
	dp := ctx.DPInit()
	arena := dpiface.NewArena()

	budget := Budget{MaxChainTrials: 1000, MaxSeedTrials: 8, MinScore: 5, MinRatio: 0.3, TgLen: 7000}
	sched := NewScheduler(budget)
	bins := sched.Run(result, 1, sec, dp, arena)
	if len(bins) != 1 {
		t.Fatalf("got %d result bins, want 1", len(bins))
	}
	if len(bins[0].Alignments) != 1 {
		t.Errorf("got %d alignments for two seeds on the same anti-diagonal, want 1 (dedup should suppress the farther seed's duplicate traceback)", len(bins[0].Alignments))
	}
}

func TestPostProcessDropsBelowMinRatio(t *testing.T) {
	sched := NewScheduler(Budget{MinRatio: 0.5})
	bins := []*ResultBin{
		{Alignments: []*dpiface.Alignment{{Score: 100, Identity: 1}}, QueryLB: 0, QueryUB: 100},
		{Alignments: []*dpiface.Alignment{{Score: 40, Identity: 1}}, QueryLB: 500, QueryUB: 540},
	}
	out := sched.PostProcess(bins, MapQParams{MCoef: 0.25, XCoef: 0.25})
	if len(out) != 1 {
		t.Fatalf("got %d surviving bins, want 1 (second bin's score is below min_ratio*best)", len(out))
	}
	if out[0].Score != 100 {
		t.Errorf("surviving bin has score %d, want 100", out[0].Score)
	}
}

func TestPostProcessClassifiesOverlapAsSecondary(t *testing.T) {
	sched := NewScheduler(Budget{MinRatio: 0.1})
	bins := []*ResultBin{
		{Alignments: []*dpiface.Alignment{{Score: 100, Identity: 1}}, QueryLB: 0, QueryUB: 100},
		{Alignments: []*dpiface.Alignment{{Score: 90, Identity: 1}}, QueryLB: 5, QueryUB: 95}, // fully inside the first
		{Alignments: []*dpiface.Alignment{{Score: 80, Identity: 1}}, QueryLB: 200, QueryUB: 300}, // disjoint
	}
	out := sched.PostProcess(bins, MapQParams{MCoef: 0.25, XCoef: 0.25})
	if len(out) != 3 {
		t.Fatalf("got %d bins, want 3", len(out))
	}
	bySpan := map[int64]*ResultBin{}
	for _, b := range out {
		bySpan[b.QueryLB] = b
	}
	if bySpan[0].Secondary {
		t.Error("the best-scoring bin must be primary")
	}
	if !bySpan[5].Secondary {
		t.Error("a lower-scoring bin fully covered by a better primary should be secondary")
	}
	if bySpan[200].Secondary {
		t.Error("a disjoint lower-scoring bin should be supplementary, not secondary")
	}
}

// TestPostProcessMapQSaturatesAtSixty is scenario S6: a read with exactly
// one chain and no second-best primary. As its score grows far past
// min_score, pe = 1/(ulen^2+1) shrinks toward 0 and mapq = clip(0,
// -10*log10(pe), 60) saturates at the 60 ceiling.
func TestPostProcessMapQSaturatesAtSixty(t *testing.T) {
	sched := NewScheduler(Budget{MinRatio: 0.1, MinScore: 50})
	bins := []*ResultBin{
		{Alignments: []*dpiface.Alignment{{Score: 1000, Identity: 1}}, QueryLB: 0, QueryUB: 100},
	}
	out := sched.PostProcess(bins, MapQParams{MCoef: 0.25, XCoef: 0.25})
	if len(out) != 1 {
		t.Fatalf("got %d bins, want 1", len(out))
	}
	if out[0].MapQ != 60 {
		t.Errorf("mapq = %d, want 60 (single chain, no second-best, score >> min_score)", out[0].MapQ)
	}
}
