// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

//go:build cgo
// +build cgo

package blockio

import (
	"io"

	"github.com/grailbio/base/compress/libdeflate"
	"github.com/yasushi-saito/zlibng"
)

// deflateFactory wraps libdeflate's cgo-backed gzip-compatible writer,
// reused via Reset across blocks the way encoding/bgzf/writer.go's own
// deflateFactory does.
type deflateFactory struct {
	level int
	w     *libdeflate.Writer
}

func newDeflateFactory(level int) compressFactory {
	return &deflateFactory{level: level}
}

func (f *deflateFactory) create(w io.Writer) (io.WriteCloser, error) {
	if f.w == nil {
		var err error
		f.w, err = libdeflate.NewWriterLevel(w, f.level)
		if err != nil {
			return nil, err
		}
		return f.w, nil
	}
	f.w.Reset(w)
	return f.w, nil
}

// rleFactory wraps zlibng's RLE-strategy writer (CodecZlibNGRLE),
// grounded on encoding/bgzf/writer_cgo.go's gzipFactory, minus the bgzf
// Extra-subfield header bookkeeping this stream's frame format doesn't
// need.
type rleFactory struct {
	level int
	w     *zlibng.Writer
}

func (f *rleFactory) create(w io.Writer) (io.WriteCloser, error) {
	gw, err := zlibng.NewWriter(w, zlibng.Opts{Level: f.level, Strategy: zlibng.RLEStrategy})
	if err != nil {
		return nil, err
	}
	f.w = gw
	return f.w, nil
}

func init() {
	newRLEFactory = func(level int) (compressFactory, bool) {
		return &rleFactory{level: level}, true
	}
}
