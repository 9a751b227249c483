// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package fakedp

import (
	"testing"

	"github.com/grailbio/seqalign/dpiface"
)

func codes(s string) []uint8 {
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
		default:
			out[i] = 4
		}
	}
	return out
}

func newDP(t *testing.T) dpiface.DP {
	t.Helper()
	k := New()
	ctx, err := k.Init(dpiface.DefaultScoringParams())
	if err != nil {
		t.Fatal(err)
	}
	return ctx.DPInit()
}

func TestExactMatchScoresFullLength(t *testing.T) {
	d := newDP(t)
	seq := "ACGTACGTACGT"
	refSec := dpiface.Section{Codes: codes(seq), ID: 0, Start: 100}
	querySec := dpiface.Section{Codes: codes(seq), ID: 1, Start: 0}

	cell := d.FillRoot(refSec, querySec, 100, 0, dpiface.Forward)
	if cell.Max != int32(len(seq)) {
		t.Fatalf("max score = %d, want %d (all matches)", cell.Max, len(seq))
	}

	refPos, queryPos, pathLen := d.SearchMax(cell)
	if refPos != 100+int64(len(seq)) || queryPos != int64(len(seq)) {
		t.Errorf("SearchMax = (%d,%d), want (%d,%d)", refPos, queryPos, 100+len(seq), len(seq))
	}
	if pathLen != int64(2*len(seq)) {
		t.Errorf("pathLen = %d, want %d", pathLen, 2*len(seq))
	}

	arena := dpiface.NewArena()
	aln, err := d.Trace(cell, arena)
	if err != nil {
		t.Fatal(err)
	}
	if aln == nil {
		t.Fatal("expected a non-nil alignment for an exact match")
	}
	if aln.Identity != 1.0 {
		t.Errorf("identity = %v, want 1.0", aln.Identity)
	}
	if aln.Dcnt != 0 {
		t.Errorf("dcnt = %d, want 0", aln.Dcnt)
	}
	if len(aln.Segments) != 1 || aln.Segments[0].RefLen != int64(len(seq)) || aln.Segments[0].QueryLen != int64(len(seq)) {
		t.Errorf("segment = %+v, want full-length match", aln.Segments)
	}
}

func TestMismatchLowersIdentity(t *testing.T) {
	d := newDP(t)
	ref := "ACGTACGTACGT"
	query := "ACGTTCGTACGT" // one substitution at position 4

	refSec := dpiface.Section{Codes: codes(ref), ID: 0, Start: 0}
	querySec := dpiface.Section{Codes: codes(query), ID: 1, Start: 0}
	cell := d.FillRoot(refSec, querySec, 0, 0, dpiface.Forward)

	arena := dpiface.NewArena()
	aln, err := d.Trace(cell, arena)
	if err != nil {
		t.Fatal(err)
	}
	if aln == nil {
		t.Fatal("expected an alignment")
	}
	if aln.Dcnt == 0 {
		t.Error("expected at least one substitution recorded")
	}
	if aln.Identity >= 1.0 {
		t.Errorf("identity = %v, want < 1.0 with a substitution present", aln.Identity)
	}
}

func TestReverseExtensionWalksBackward(t *testing.T) {
	d := newDP(t)
	seq := "ACGTACGT"
	// Reverse sections are already presented in extension order: base 0
	// of Codes is at Start, walking toward decreasing coordinates.
	refSec := dpiface.Section{Codes: codes(seq), ID: 0, Start: 1000}
	querySec := dpiface.Section{Codes: codes(seq), ID: 1, Start: 50}

	cell := d.FillRoot(refSec, querySec, 1000, 50, dpiface.Reverse)
	refPos, queryPos, _ := d.SearchMax(cell)
	if refPos != 1000-int64(len(seq)) || queryPos != 50-int64(len(seq)) {
		t.Errorf("SearchMax = (%d,%d), want (%d,%d)", refPos, queryPos, 1000-len(seq), 50-len(seq))
	}
}

func TestBoundaryStatusWhenFillConsumesWholeSection(t *testing.T) {
	d := newDP(t)
	seq := "ACGTACGT"
	refSec := dpiface.Section{Codes: codes(seq), ID: 0, Start: 0}
	querySec := dpiface.Section{Codes: codes(seq), ID: 1, Start: 0}
	cell := d.FillRoot(refSec, querySec, 0, 0, dpiface.Forward)
	if !cell.Status.Is(dpiface.StatusRefBoundary) || !cell.Status.Is(dpiface.StatusQueryBoundary) {
		t.Errorf("status = %v, want both boundary bits set (whole exact-match section consumed)", cell.Status)
	}
}
