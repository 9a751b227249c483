// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package seqio

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"
)

const fastaBufferInitSize = 1 << 20

// ReadFasta reads a whole FASTA stream into a slice of RefSeq, in the order
// the sequences appear. Ids are assigned sequentially starting at 0, per
// spec.md §9's "sequential [0, n_seq) unless the caller provides explicit
// ids" default. Sequences named in circularNames get Circular set.
//
// Adapted from encoding/fasta/fasta.go's eager in-memory reader (teacher);
// this version skips faidx-style indexing, since SPEC_FULL only needs a
// reference source good enough to build a refindex.Index in tests.
func ReadFasta(r io.Reader, circularNames map[string]bool) ([]RefSeq, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, fastaBufferInitSize)

	var refs []RefSeq
	var seqName string
	var seq strings.Builder
	haveSeq := false

	flush := func() {
		if !haveSeq {
			return
		}
		ascii := seq.String()
		refs = append(refs, RefSeq{
			ID:       int32(len(refs)),
			Name:     seqName,
			Length:   int64(len(ascii)),
			Packed:   PackReference([]byte(ascii)),
			Circular: circularNames[seqName],
		})
		seq.Reset()
	}

	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' {
			flush()
			seqName = strings.Split(line[1:], " ")[0]
			haveSeq = true
			continue
		}
		if !haveSeq {
			return nil, errors.Errorf("malformed FASTA: sequence data before any header")
		}
		seq.WriteString(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "couldn't read FASTA data")
	}
	flush()
	return refs, nil
}
