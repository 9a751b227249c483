// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package blockio implements spec.md §4.9's framed compressed block
// stream, used to store a prebuilt refindex.Index. Wire format: repeated
// `MAGIC[4]="PG00" | codec[1] | block_len[u32 LE] | compressed_bytes` frames,
// terminated by a block_len = 0xFFFFFFFF sentinel frame. Raw payload is
// split into 1 MiB blocks per spec.md.
//
// Grounded on encoding/bgzf/writer.go (teacher): same cgo/no-cgo
// compressor-factory split, just without the bgzf format's own 64 KiB
// block ceiling and gzip-specific Extra-subfield bookkeeping (this
// stream's own frame header already carries a length and codec tag, so
// it doesn't need bgzf's "store the compressed size inside the gzip
// Extra field" trick). Compression is parallelized by reusing package
// pipeline exactly as spec.md §4.9 directs: pipeline's own ordered drain
// already reorders out-of-order worker completions back into block
// order, so there's no separate reordering heap in this package.
package blockio

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"io"
	"io/ioutil"

	"github.com/golang/snappy"
	"github.com/pkg/errors"

	"github.com/grailbio/seqalign/pipeline"
)

// Magic is the 4-byte frame tag.
const Magic = "PG00"

// BlockSize is the raw (uncompressed) payload size per block.
const BlockSize = 1 << 20

// terminatorLen is the block_len sentinel that ends the stream.
const terminatorLen = 0xFFFFFFFF

// frameHeaderLen is MAGIC + codec byte + block_len.
const frameHeaderLen = 4 + 1 + 4

// Codec selects the block compressor. Write uses one codec for every block
// of a call and records it in each frame's codec byte, an extension of
// spec.md §4.9's wire format: the base spec's stream is deflate-only, this
// adds a snappy option for workloads that prefer lower CPU cost over ratio.
type Codec uint8

const (
	CodecDeflate Codec = iota
	CodecSnappy
	// CodecZlibNGRLE compresses with zlib-ng's RLE strategy, a cgo-only
	// option (see blockio_cgo.go) grounded on the teacher's own
	// encoding/bgzf.NewWriterParams, whose doc comment names
	// zlibng.RLEStrategy as the reason that entry point exists at all.
	// Workloads with long homopolymer/low-complexity runs (e.g. ONT
	// reads) compress faster under RLE than under libdeflate's default
	// strategy. Writing this codec without a cgo build fails with a
	// clear error rather than silently falling back to deflate.
	CodecZlibNGRLE
)

// DefaultLevel is the compression level Write uses when the caller
// doesn't need to tune it.
const DefaultLevel = gzip.DefaultCompression

// compressFactory creates a compressed writer over some underlying
// io.Writer. Two implementations exist, chosen at build time:
// blockio_cgo.go wraps github.com/grailbio/base/compress/libdeflate,
// blockio_nocgo.go wraps github.com/klauspost/compress/gzip — both
// produce standard gzip streams, so a single stdlib compress/gzip.Reader
// decodes either one; there is no decode-side build tag.
type compressFactory interface {
	create(w io.Writer) (io.WriteCloser, error)
}

// newRLEFactory is filled in by blockio_cgo.go's init; the nocgo build
// leaves it reporting "unavailable" rather than silently substituting a
// different codec.
var newRLEFactory = func(level int) (compressFactory, bool) { return nil, false }

func compressBlock(factory compressFactory, raw []byte, codec Codec, level int) ([]byte, error) {
	var compressed bytes.Buffer
	switch codec {
	case CodecSnappy:
		compressed.Write(snappy.Encode(nil, raw))
	case CodecDeflate:
		w, err := factory.create(&compressed)
		if err != nil {
			return nil, errors.Wrap(err, "blockio: create compressor")
		}
		if _, err := w.Write(raw); err != nil {
			return nil, errors.Wrap(err, "blockio: compress block")
		}
		if err := w.Close(); err != nil {
			return nil, errors.Wrap(err, "blockio: close compressor")
		}
	case CodecZlibNGRLE:
		rleFactory, ok := newRLEFactory(level)
		if !ok {
			return nil, errors.New("blockio: CodecZlibNGRLE requires a cgo build")
		}
		w, err := rleFactory.create(&compressed)
		if err != nil {
			return nil, errors.Wrap(err, "blockio: create RLE compressor")
		}
		if _, err := w.Write(raw); err != nil {
			return nil, errors.Wrap(err, "blockio: compress block")
		}
		if err := w.Close(); err != nil {
			return nil, errors.Wrap(err, "blockio: close RLE compressor")
		}
	default:
		return nil, errors.Errorf("blockio: unknown codec %d", codec)
	}
	if compressed.Len() >= terminatorLen {
		return nil, errors.Errorf("blockio: compressed block too large: %d bytes", compressed.Len())
	}

	frame := make([]byte, 0, frameHeaderLen+compressed.Len())
	frame = append(frame, Magic...)
	frame = append(frame, byte(codec))
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(compressed.Len()))
	frame = append(frame, lenBuf[:]...)
	frame = append(frame, compressed.Bytes()...)
	return frame, nil
}

func decompressBlock(codec Codec, payload []byte) ([]byte, error) {
	switch codec {
	case CodecSnappy:
		return snappy.Decode(nil, payload)
	case CodecDeflate, CodecZlibNGRLE:
		// Both libdeflate and zlib-ng write standard gzip streams, so
		// the stdlib reader decodes either one regardless of which
		// build produced them.
		r, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, errors.Wrap(err, "blockio: open decompressor")
		}
		defer r.Close()
		return ioutil.ReadAll(r)
	default:
		return nil, errors.Errorf("blockio: unknown codec %d", codec)
	}
}

func writeTerminator(w io.Writer) error {
	var buf [frameHeaderLen]byte
	copy(buf[:4], Magic)
	buf[4] = byte(CodecDeflate)
	binary.LittleEndian.PutUint32(buf[5:9], terminatorLen)
	_, err := w.Write(buf[:])
	return err
}

// Write compresses data into the framed block stream and writes it to w.
// n is the worker count handed to package pipeline for parallel block
// compression (n<1 behaves like 1, i.e. a single worker goroutine).
func Write(w io.Writer, data []byte, n int, codec Codec, level int) error {
	workers := n
	if workers < 1 {
		workers = 1
	}
	factories := make([]compressFactory, workers)
	for i := range factories {
		factories[i] = newDeflateFactory(level)
	}

	nBlocks := (len(data) + BlockSize - 1) / BlockSize
	next := 0
	source := func() (interface{}, bool) {
		if next >= nBlocks {
			return nil, false
		}
		start := next * BlockSize
		end := start + BlockSize
		if end > len(data) {
			end = len(data)
		}
		next++
		return data[start:end], true
	}
	worker := func(tid int, payload interface{}) (interface{}, error) {
		// Each worker goroutine owns tid exclusively for the life of the
		// Run call, so reusing factories[tid]'s compressor across calls
		// (via Reset, not a fresh allocation) is safe.
		return compressBlock(factories[tid], payload.([]byte), codec, level)
	}
	drain := func(payload interface{}) error {
		_, err := w.Write(payload.([]byte))
		return err
	}
	if err := pipeline.Run(n, source, worker, drain); err != nil {
		return err
	}
	return writeTerminator(w)
}

// Read decodes a framed block stream written by Write, returning the
// concatenated raw payload (round-trip property: Read(Write(X)) == X,
// spec.md §8 invariant 8).
func Read(r io.Reader) ([]byte, error) {
	var out bytes.Buffer
	hdr := make([]byte, frameHeaderLen)
	for {
		if _, err := io.ReadFull(r, hdr); err != nil {
			return nil, errors.Wrap(err, "blockio: read frame header")
		}
		if string(hdr[:4]) != Magic {
			return nil, errors.Errorf("blockio: bad magic %q", hdr[:4])
		}
		codec := Codec(hdr[4])
		blockLen := binary.LittleEndian.Uint32(hdr[5:9])
		if blockLen == terminatorLen {
			return out.Bytes(), nil
		}
		payload := make([]byte, blockLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, errors.Wrap(err, "blockio: read frame payload")
		}
		raw, err := decompressBlock(codec, payload)
		if err != nil {
			return nil, err
		}
		out.Write(raw)
	}
}
