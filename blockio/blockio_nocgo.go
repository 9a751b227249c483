// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

//go:build !cgo
// +build !cgo

package blockio

import (
	"io"

	"github.com/klauspost/compress/gzip"
)

// deflateFactory wraps klauspost's pure-Go gzip writer, the non-cgo
// fallback compressor (same package encoding/bam/shardedbam.go imports
// for its own gzip.Writer use). Reused via Reset across blocks.
type deflateFactory struct {
	level int
	w     *gzip.Writer
}

func newDeflateFactory(level int) compressFactory {
	return &deflateFactory{level: level}
}

func (f *deflateFactory) create(w io.Writer) (io.WriteCloser, error) {
	if f.w == nil {
		var err error
		f.w, err = gzip.NewWriterLevel(w, f.level)
		if err != nil {
			return nil, err
		}
		return f.w, nil
	}
	f.w.Reset(w)
	return f.w, nil
}
