package seed

import (
	"testing"

	"github.com/grailbio/seqalign/refindex"
	"github.com/grailbio/seqalign/seqio"
)

func encode(seq string) []uint8 {
	out := make([]uint8, len(seq))
	for i, c := range seq {
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

func buildTestIndex(t *testing.T, seq string, w, k, b int) *refindex.Index {
	t.Helper()
	ref := seqio.RefSeq{ID: 0, Name: "r0", Length: int64(len(seq)), Packed: seqio.PackReference([]byte(seq))}
	return refindex.Build([]seqio.RefSeq{ref}, w, k, b, nil)
}

func TestCollectFindsExactMatch(t *testing.T) {
	ref := "AAAAACCCCCGGGGGTTTTTACGTACGTGGGCATGACTAGT"
	idx := buildTestIndex(t, ref, 3, 7, 4)

	query := ref[10:30] // an exact substring of ref
	c := &Collector{Index: idx}
	seeds, rescues := c.Collect(encode(query), 1, len(query), 3, 7, len(idx.Thresholds)-1)
	if len(rescues) != 0 {
		t.Fatalf("unexpected rescues: %v", rescues)
	}
	if len(seeds) == 0 {
		t.Fatal("expected at least one seed for an exact substring match")
	}
	for _, s := range seeds {
		if s.RefID != 0 {
			t.Errorf("seed has RefID %d, want 0", s.RefID)
		}
		if s.ChainLink != Unchained {
			t.Errorf("seed has ChainLink %d, want Unchained", s.ChainLink)
		}
	}
}

func TestCollectAllVsAllSkipsLowerTriangle(t *testing.T) {
	ref := "AAAAACCCCCGGGGGTTTTTACGTACGTGGGCATGACTAGT"
	idx := buildTestIndex(t, ref, 3, 7, 4)

	query := ref[10:30]
	c := &Collector{Index: idx, AllVsAll: true}

	// queryID 0: RefID(0) < queryID(0) is false, so same-id self-hits are kept.
	seeds, _ := c.Collect(encode(query), 0, len(query), 3, 7, len(idx.Thresholds)-1)
	if len(seeds) == 0 {
		t.Fatal("expected seeds when RefID == queryID")
	}

	// queryID 1: RefID(0) < queryID(1), so every hit against ref 0 is skipped.
	seeds, _ = c.Collect(encode(query), 1, len(query), 3, 7, len(idx.Thresholds)-1)
	if len(seeds) != 0 {
		t.Fatalf("expected no seeds when RefID < queryID in all-vs-all mode, got %d", len(seeds))
	}
}

func TestRescueThenExpand(t *testing.T) {
	// Build an index where one key (AAAAA) is very frequent and others
	// are unique. Build with no percentile filter (so nothing is dropped),
	// then set Thresholds by hand: tier 0 only allows count<=1 through
	// immediately, tier 1 allows anything up to 100 — deterministic,
	// rather than depending on exactly what quantile the real counts fall
	// into.
	ref := "AAAAAAAAAAAAAAAAAAAAACGTACGTGGGCATGACTAGTACCCCCGGGGGTTTTT"
	idx := refindex.Build([]seqio.RefSeq{{ID: 0, Name: "r0", Length: int64(len(ref)), Packed: seqio.PackReference([]byte(ref))}}, 1, 5, 4, nil)
	idx.Thresholds = []int{1, 100}

	c := &Collector{Index: idx}
	query := "AAAAA"
	seeds, rescues := c.Collect(encode(query), 1, len(query), 1, 5, 0)
	if len(seeds) != 0 {
		t.Fatalf("expected AAAAA to be deferred at tier 0, got %d seeds", len(seeds))
	}
	if len(rescues) == 0 {
		t.Fatal("expected AAAAA to produce a rescue entry at tier 0")
	}

	lastTier := len(idx.Thresholds) - 1
	expanded, remaining := c.ExpandRescues(rescues, 1, len(query), 5, lastTier)
	if len(expanded) == 0 && len(remaining) == len(rescues) {
		t.Error("expanding rescues at the loosest tier made no progress")
	}
}
