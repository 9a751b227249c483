// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package refindex

// Hit is one reference occurrence of a minimizer: which reference, at what
// position, on which strand.
type Hit struct {
	RefID  int32
	Pos    int64
	Strand uint8
}

// Robinhood values in this index are a single uint64 packed one of two
// ways (spec's "high bit set to distinguish"):
//
//   - inline (bit 63 clear): a single Hit, (pos << tagBits) | tag, where
//     tag = ref_id<<1 | strand.
//   - indirect (bit 63 set): a (base, count) pair into the owning
//     bucket's values slice.
const (
	indirectFlag = uint64(1) << 63

	tagBits = 24
	tagMask = uint64(1)<<tagBits - 1

	countBits = 20
	countMask = uint64(1)<<countBits - 1
)

func packInline(h Hit) uint64 {
	tag := (uint64(uint32(h.RefID)) << 1) | uint64(h.Strand&1)
	return (uint64(h.Pos) << tagBits) | (tag & tagMask)
}

func unpackInline(v uint64) Hit {
	tag := v & tagMask
	pos := int64(v >> tagBits)
	return Hit{RefID: int32(tag >> 1), Pos: pos, Strand: uint8(tag & 1)}
}

func packIndirect(base, count int) uint64 {
	return indirectFlag | (uint64(base) << countBits) | (uint64(count) & countMask)
}

func unpackIndirect(v uint64) (base, count int) {
	base = int((v &^ indirectFlag) >> countBits)
	count = int(v & countMask)
	return base, count
}

func isIndirect(v uint64) bool { return v&indirectFlag != 0 }
