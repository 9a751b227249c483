// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package seqio provides the minimal reference/query sequence plumbing the
// mapping engine needs: a 5-symbol base code, 2-bit-oriented pack/unpack and
// reverse-complement helpers, and small eager FASTA/FASTQ readers good enough
// to drive the pipeline end to end in tests and examples.
//
// The production "read next batch of query records" source and the
// FASTA/FASTQ/BAM parser it wraps are external collaborators (spec.md
// §1(2)); this package is not that parser. It exists so the engine can be
// exercised without one.
package seqio

import "fmt"

// Code is a 2-bit-packable base code. The packed representation used by the
// minimizer sketcher only ever sees A/C/G/T (N breaks a k-mer window, per
// spec.md §4.1); CodeN is kept here because reference records retain N bases
// verbatim for coordinate bookkeeping and margin padding (spec.md §3).
type Code uint8

const (
	CodeA Code = 0
	CodeC Code = 1
	CodeG Code = 2
	CodeT Code = 3
	CodeN Code = 4
)

// baseToCode maps an ASCII base (upper or lower case) to its Code. Adapted
// from biosimd's static lookup-table idiom (DESIGN NOTES: "Static lookup
// tables... re-express as const arrays; they are pure data").
var baseToCode = [256]Code{}

// codeToBase is the inverse of baseToCode, used when reconstructing ASCII
// sequence for error messages and test fixtures.
var codeToBase = [5]byte{'A', 'C', 'G', 'T', 'N'}

// complementCode maps a Code to the Code of its complementary base.
// CodeN complements to itself.
var complementCode = [5]Code{CodeT, CodeG, CodeC, CodeA, CodeN}

func init() {
	for i := range baseToCode {
		baseToCode[i] = CodeN
	}
	baseToCode['A'], baseToCode['a'] = CodeA, CodeA
	baseToCode['C'], baseToCode['c'] = CodeC, CodeC
	baseToCode['G'], baseToCode['g'] = CodeG, CodeG
	baseToCode['T'], baseToCode['t'] = CodeT, CodeT
}

// EncodeASCII converts an ASCII sequence into Codes, writing into dst (which
// must have len(dst) >= len(seq)) and returning the used prefix.
func EncodeASCII(dst []Code, seq []byte) []Code {
	dst = dst[:len(seq)]
	for i, b := range seq {
		dst[i] = baseToCode[b]
	}
	return dst
}

// DecodeASCII is the inverse of EncodeASCII.
func DecodeASCII(dst []byte, codes []Code) []byte {
	dst = dst[:len(codes)]
	for i, c := range codes {
		if int(c) >= len(codeToBase) {
			panic(fmt.Sprintf("invalid base code %d at position %d", c, i))
		}
		dst[i] = codeToBase[c]
	}
	return dst
}

// ReverseComplement reverse-complements codes in place.
func ReverseComplement(codes []Code) {
	n := len(codes)
	for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
		codes[i], codes[j] = complementCode[codes[j]], complementCode[codes[i]]
	}
	if n&1 == 1 {
		mid := n / 2
		codes[mid] = complementCode[codes[mid]]
	}
}

// PackMargin is the number of Code(N) padding bases written on each side of a
// packed reference sequence, matching spec.md §3's "head/tail margin of
// N-filled bytes for branchless SIMD loads at boundaries". Our pack/unpack
// helpers don't do SIMD themselves, but downstream callers that slide a
// window across Packed may safely read PackMargin bases past either end.
const PackMargin = 16

// PackReference encodes an ASCII reference sequence into Codes with a
// head/tail N margin.
func PackReference(seq []byte) []Code {
	out := make([]Code, len(seq)+2*PackMargin)
	for i := 0; i < PackMargin; i++ {
		out[i] = CodeN
		out[len(out)-1-i] = CodeN
	}
	EncodeASCII(out[PackMargin:PackMargin+len(seq)], seq)
	return out
}
