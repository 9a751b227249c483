// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package circular provides small helpers for working with circular
// references: sequences whose coordinate space wraps at Length back to 0
// (e.g. bacterial plasmids, mitochondrial genomes). The chain package uses
// NextExp2 to size the per-reference scratch buffers it allocates while
// looking for a chain whose tail wraps across the origin (spec.md §4.6).
package circular
