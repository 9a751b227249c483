// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package seed turns a query's minimizers plus reference index lookups
// into a (u,v)-sortable seed array, deferring over-repetitive keys to a
// rescue array that later, looser passes can expand (spec.md §4.4). Pure
// Go; grounded on the (u,v) arithmetic in package uvspace and the
// occurrence tiers package refindex computes at build time.
package seed

// Unchained is the ChainLink sentinel for a seed that hasn't been placed
// into a chain yet.
const Unchained = int32(-1)

// Seed is one (ref_id, ref_pos) vs. (query_pos) match, in (u,v) space.
// Sorting a slice of Seed by (RefID, V, U) places collinear anti-diagonal
// neighbors adjacent, which is what package chain requires.
type Seed struct {
	U, V      int64
	RefID     int32
	ChainLink int32
	// Strand is 0 if the query and reference minimizer agreed on
	// canonical orientation (a forward-strand match), 1 if not.
	Strand uint8
}

// ByRefVU sorts a Seed slice by (RefID, V, U), the order package chain's
// sweep expects.
type ByRefVU []Seed

func (s ByRefVU) Len() int      { return len(s) }
func (s ByRefVU) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s ByRefVU) Less(i, j int) bool {
	if s[i].RefID != s[j].RefID {
		return s[i].RefID < s[j].RefID
	}
	if s[i].V != s[j].V {
		return s[i].V < s[j].V
	}
	return s[i].U < s[j].U
}
