// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package seqio

import (
	"strings"
	"testing"
)

func TestReadFastaAssignsSequentialIDsAndCircularFlag(t *testing.T) {
	const data = ">chr1 some description\n" +
		"ACGTACGT\n" +
		"ACGT\n" +
		">plasmid1\n" +
		"TTTTGGGGCCCCAAAA\n"

	refs, err := ReadFasta(strings.NewReader(data), map[string]bool{"plasmid1": true})
	if err != nil {
		t.Fatalf("ReadFasta failed: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("got %d refs, want 2", len(refs))
	}
	if refs[0].ID != 0 || refs[0].Name != "chr1" || refs[0].Length != 12 {
		t.Errorf("refs[0] = %+v, want ID=0 Name=chr1 Length=12", refs[0])
	}
	if refs[0].Circular {
		t.Error("chr1 should not be marked circular")
	}
	if refs[1].ID != 1 || refs[1].Name != "plasmid1" || refs[1].Length != 16 {
		t.Errorf("refs[1] = %+v, want ID=1 Name=plasmid1 Length=16", refs[1])
	}
	if !refs[1].Circular {
		t.Error("plasmid1 should be marked circular")
	}

	bases := refs[0].Bases()
	got := DecodeASCII(make([]byte, len(bases)), bases)
	if string(got) != "ACGTACGTACGT" {
		t.Errorf("refs[0].Bases() decodes to %q, want ACGTACGTACGT", got)
	}
}

func TestReadFastaRejectsDataBeforeHeader(t *testing.T) {
	_, err := ReadFasta(strings.NewReader("ACGT\n>chr1\nACGT\n"), nil)
	if err == nil {
		t.Fatal("expected an error for sequence data preceding any header")
	}
}

func TestReadFastaEmptyStreamIsNotAnError(t *testing.T) {
	refs, err := ReadFasta(strings.NewReader(""), nil)
	if err != nil {
		t.Fatalf("ReadFasta failed on empty input: %v", err)
	}
	if len(refs) != 0 {
		t.Errorf("got %d refs, want 0", len(refs))
	}
}
