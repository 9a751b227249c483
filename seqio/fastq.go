// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package seqio

import (
	"bufio"
	"io"

	"github.com/pkg/errors"
)

// ErrState enumerates the FASTQ scanner's failure states. Adapted from
// encoding/fastq/scanner.go's validation (teacher); spec.md §7 calls this out
// explicitly: "Malformed sequence (bad FASTQ state machine transition): the
// source marks the file with error state = 3".
type ErrState int

const (
	// StateOK means no error has occurred.
	StateOK ErrState = 0
	// StateShort means the stream ended mid-record.
	StateShort ErrState = 1
	// StateInvalid means a record's line prefix ('@' or '+') was wrong.
	StateInvalid ErrState = 2
	// StateMalformed is spec.md §7's "error state = 3": seq/qual length
	// mismatch, the one condition the teacher's scanner explicitly chose not
	// to validate but spec.md calls out by name.
	StateMalformed ErrState = 3
)

func (s ErrState) Error() string {
	switch s {
	case StateShort:
		return "truncated FASTQ record"
	case StateInvalid:
		return "invalid FASTQ record: expected '@id' / '+' line"
	case StateMalformed:
		return "malformed FASTQ record: sequence/quality length mismatch"
	default:
		return "no error"
	}
}

// FastqScanner reads FASTQ records one at a time. It is not thread-safe.
type FastqScanner struct {
	b     *bufio.Scanner
	state ErrState
}

// NewFastqScanner constructs a scanner reading from r.
func NewFastqScanner(r io.Reader) *FastqScanner {
	return &FastqScanner{b: bufio.NewScanner(r)}
}

// fastqRecord is one raw (string) FASTQ record before base encoding.
type fastqRecord struct {
	id, seq, qual string
}

// scanOne reads the next 4-line record. It returns false at clean EOF (state
// stays StateOK) or after recording a failure state.
func (f *FastqScanner) scanOne(rec *fastqRecord) bool {
	if f.state != StateOK {
		return false
	}
	if !f.b.Scan() {
		return false // clean EOF
	}
	id := f.b.Bytes()
	if len(id) == 0 || id[0] != '@' {
		f.state = StateInvalid
		return false
	}
	rec.id = string(id[1:])
	if !f.mustScan() {
		return false
	}
	rec.seq = f.b.Text()
	if !f.mustScan() {
		return false
	}
	plus := f.b.Bytes()
	if len(plus) == 0 || plus[0] != '+' {
		f.state = StateInvalid
		return false
	}
	if !f.mustScan() {
		return false
	}
	rec.qual = f.b.Text()
	if len(rec.qual) != len(rec.seq) {
		f.state = StateMalformed
		return false
	}
	return true
}

func (f *FastqScanner) mustScan() bool {
	if !f.b.Scan() {
		if f.b.Err() == nil {
			f.state = StateShort
		}
		return false
	}
	return true
}

// Err returns the scanner's current error state (StateOK if none).
func (f *FastqScanner) Err() error {
	if f.state == StateOK {
		return f.b.Err()
	}
	return f.state
}

// ReadFastqBatch reads up to n records into a QueryBatch with the given
// BatchID, assigning sequential query ids starting at idBase. It returns
// fewer than n records (possibly zero) at EOF, and a non-nil error if the
// stream ended in a malformed state (spec.md §7: "no partial alignments
// emitted" on malformed sequence, which callers enforce by discarding a
// batch that errored).
func ReadFastqBatch(f *FastqScanner, n int, batchID int64, idBase int32) (QueryBatch, error) {
	batch := QueryBatch{BatchID: batchID}
	var rec fastqRecord
	for i := 0; i < n; i++ {
		if !f.scanOne(&rec) {
			break
		}
		codes := make([]Code, len(rec.seq))
		EncodeASCII(codes, []byte(rec.seq))
		batch.Records = append(batch.Records, QueryRecord{
			ID:   idBase + int32(i),
			Name: rec.id,
			Seq:  codes,
			Qual: []byte(rec.qual),
		})
	}
	if err := f.Err(); err != nil {
		return batch, errors.Wrap(err, "ReadFastqBatch")
	}
	return batch, nil
}
