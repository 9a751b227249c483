// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package minimizer extracts (w,k)-minimizers from a stream of 2-bit base
// codes. It is restartable: a Cap captures exactly the rolling state needed
// to resume sketching a later, overlapping segment of the same sequence.
//
// Grounded on biosimd's rolling packed-kmer idiom (teacher); the hash
// function swaps the source's crc32 for farm.Hash64WithSeed, the same
// function fusion/kmer_index.go uses to hash a kmer into a shard (teacher),
// keeping the engine on a single well-distributed hash family shared with
// package refindex.
package minimizer

import (
	farm "github.com/dgryski/go-farm"
)

// Minimizer is one emitted minimizer, packed as hash<<8 | windowPos<<1 |
// strand per spec's output encoding. windowPos is the 0-based offset of the
// minimal k-mer within its w-window (0..w-1); the consumer reconstructs the
// minimizer's absolute sequence position by adding windowPos to the base
// offset of the window's first k-mer.
type Minimizer uint64

// Pack builds a Minimizer from its fields. windowPos must fit in 7 bits
// (w <= 128); strand must be 0 or 1.
func Pack(hash uint64, windowPos uint32, strand uint8) Minimizer {
	return Minimizer(hash<<8 | uint64(windowPos&0x7f)<<1 | uint64(strand&1))
}

func (m Minimizer) Hash() uint64      { return uint64(m) >> 8 }
func (m Minimizer) WindowPos() uint32 { return uint32((uint64(m) >> 1) & 0x7f) }
func (m Minimizer) Strand() uint8     { return uint8(m & 1) }

// Cap is the sketcher's restart state: enough to resume mid-sequence on a
// caller-supplied overlapping continuation (spec's "restartable from a cap").
type Cap struct {
	WindowIndex int
	LastHash    uint64
	HaveLast    bool
	ForwardKmer uint64
	ReverseKmer uint64
}

// ringEntry is one k-mer hash tracked inside the current w-window.
type ringEntry struct {
	hash      uint64
	strand    uint8
	kmerIndex int
}

// Sketcher extracts minimizers from a stream of base codes fed one at a
// time via Push. Codes other than 0..3 (A/C/G/T) are treated as window
// breaks (an N resets the rolling k-mer registers, since no canonical
// k-mer spans an N).
type Sketcher struct {
	w, k int
	mask uint64

	fw, rv uint64
	filled int

	ring    []ringEntry
	ringPos int
	ring1   int // number of valid entries in ring, saturating at w

	windowIndex int
	lastHash    uint64
	haveLast    bool
}

// NewSketcher constructs a sketcher for window size w and k-mer length k.
// k must be <= 31 so that 2*k bits fit in a uint64 k-mer register.
func NewSketcher(w, k int) *Sketcher {
	if k <= 0 || k > 31 {
		panic("minimizer: k must be in [1, 31]")
	}
	if w <= 0 || w > 128 {
		panic("minimizer: w must be in [1, 128]")
	}
	s := &Sketcher{
		w:    w,
		k:    k,
		mask: (uint64(1) << (2 * uint(k))) - 1,
		ring: make([]ringEntry, w),
	}
	return s
}

// Restore resets the sketcher to resume from a previously captured Cap. It
// assumes the rolling k-mer registers in c are already warmed up (i.e. c
// was captured after at least k bases were fed since the last N-break);
// for a cold start, construct a new Sketcher instead.
func (s *Sketcher) Restore(c Cap) {
	s.fw = c.ForwardKmer
	s.rv = c.ReverseKmer
	s.filled = s.k
	s.windowIndex = c.WindowIndex
	s.lastHash = c.LastHash
	s.haveLast = c.HaveLast
	s.ringPos = 0
	s.ring1 = 0
}

// Cap returns the sketcher's current restart state.
func (s *Sketcher) Cap() Cap {
	return Cap{
		WindowIndex: s.windowIndex,
		LastHash:    s.lastHash,
		HaveLast:    s.haveLast,
		ForwardKmer: s.fw,
		ReverseKmer: s.rv,
	}
}

func hashKmer(km uint64) uint64 {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(km >> (8 * uint(i)))
	}
	return farm.Hash64WithSeed(buf[:], km) ^ km
}

// Sketch feeds codes (2-bit base codes 0..3; any other value is treated as
// an N and breaks the current window) through the sketcher, calling emit
// for each minimizer whose window minimum differs from the previous
// emission. emit receives the absolute index of the minimizer k-mer's last
// base (0-based, counted from the start of the first call since
// construction or Restore) alongside the packed Minimizer. Sketch returns the sketcher's Cap after
// consuming all of codes, so the caller can resume on a continuation.
func (s *Sketcher) Sketch(codes []uint8, emit func(pos int, m Minimizer)) Cap {
	for _, c := range codes {
		s.push(c, emit)
	}
	return s.Cap()
}

// push consumes one base code. Positions are counted per base consumed
// (0-based, from sketcher construction or the last Restore), matching the
// "last base of the k-mer" convention so window arithmetic stays well
// defined across N-breaks.
func (s *Sketcher) push(c uint8, emit func(pos int, m Minimizer)) {
	pos := s.windowIndex
	s.windowIndex++

	if c > 3 {
		s.fw, s.rv, s.filled = 0, 0, 0
		s.ringPos, s.ring1 = 0, 0
		return
	}
	s.fw = ((s.fw << 2) | uint64(c)) & s.mask
	s.rv = (s.rv >> 2) | ((uint64(3^c) << (2 * uint(s.k-1))) & s.mask)
	if s.filled < s.k {
		s.filled++
		if s.filled < s.k {
			return
		}
	}

	var km uint64
	var strand uint8
	if s.fw < s.rv {
		km, strand = s.fw, 0
	} else {
		km, strand = s.rv, 1
	}
	hash := hashKmer(km)

	s.ring[s.ringPos] = ringEntry{hash: hash, strand: strand, kmerIndex: pos}
	s.ringPos = (s.ringPos + 1) % s.w
	if s.ring1 < s.w {
		s.ring1++
	}

	if s.ring1 == s.w {
		windowStart := pos - s.w + 1
		best := s.ring[0]
		for i := 1; i < s.w; i++ {
			e := s.ring[i]
			if e.hash < best.hash || (e.hash == best.hash && e.kmerIndex < best.kmerIndex) {
				best = e
			}
		}
		if !s.haveLast || best.hash != s.lastHash {
			s.lastHash = best.hash
			s.haveLast = true
			emit(best.kmerIndex, Pack(best.hash, uint32(best.kmerIndex-windowStart), best.strand))
		}
	}
}
