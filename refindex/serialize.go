// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package refindex

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/grailbio/seqalign/blockio"
	"github.com/grailbio/seqalign/robinhood"
	"github.com/grailbio/seqalign/seqio"
	"github.com/pkg/errors"
)

// magic identifies a serialized refindex file.
var magic = [4]byte{'S', 'Q', 'I', 'X'}

const formatVersion = 1

// Serialize writes idx in the flat, offset-based layout spec.md describes:
// a fixed header, the reference records (including their packed bases),
// then each bucket's robinhood table and indirect-value array in turn.
// There's no separate pointer-fixup pass here (unlike the spec's literal
// "offsets fixed up by base-addition" description): Go slices already
// carry their own length, so decoding is just sequential reads rather than
// a single mmap-and-relocate step. See Load for the mmap-backed read side.
func (idx *Index) Serialize(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(magic[:]); err != nil {
		return errors.Wrap(err, "refindex: write magic")
	}
	header := struct {
		Version  uint32
		W, K, B  int32
		NThresh  uint32
		NRefs    uint32
		NBuckets uint32
	}{
		Version:  formatVersion,
		W:        int32(idx.W),
		K:        int32(idx.K),
		B:        int32(idx.B),
		NThresh:  uint32(len(idx.Thresholds)),
		NRefs:    uint32(len(idx.Refs)),
		NBuckets: uint32(len(idx.buckets)),
	}
	if err := binary.Write(bw, binary.LittleEndian, header); err != nil {
		return errors.Wrap(err, "refindex: write header")
	}
	for _, t := range idx.Thresholds {
		if err := binary.Write(bw, binary.LittleEndian, int64(t)); err != nil {
			return errors.Wrap(err, "refindex: write thresholds")
		}
	}
	for _, ref := range idx.Refs {
		if err := writeRefRecord(bw, ref); err != nil {
			return err
		}
	}
	for _, b := range idx.buckets {
		if err := b.table.Serialize(bw); err != nil {
			return errors.Wrap(err, "refindex: write bucket table")
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(b.values))); err != nil {
			return errors.Wrap(err, "refindex: write bucket value count")
		}
		for _, h := range b.values {
			if err := binary.Write(bw, binary.LittleEndian, h); err != nil {
				return errors.Wrap(err, "refindex: write bucket values")
			}
		}
	}
	return bw.Flush()
}

func writeRefRecord(w io.Writer, ref seqio.RefSeq) error {
	nameBytes := []byte(ref.Name)
	fields := struct {
		ID       int32
		Length   int64
		Circular uint8
		NameLen  uint32
		PackLen  uint32
	}{
		ID:       ref.ID,
		Length:   ref.Length,
		Circular: boolByte(ref.Circular),
		NameLen:  uint32(len(nameBytes)),
		PackLen:  uint32(len(ref.Packed)),
	}
	if err := binary.Write(w, binary.LittleEndian, fields); err != nil {
		return errors.Wrap(err, "refindex: write ref fields")
	}
	if _, err := w.Write(nameBytes); err != nil {
		return errors.Wrap(err, "refindex: write ref name")
	}
	packed := make([]byte, len(ref.Packed))
	for i, c := range ref.Packed {
		packed[i] = byte(c)
	}
	if _, err := w.Write(packed); err != nil {
		return errors.Wrap(err, "refindex: write ref bases")
	}
	return nil
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// Load mmaps path and decodes an Index from it: the whole file is faulted
// in lazily by the kernel rather than read() into a heap buffer up front,
// which matters for the large packed-sequence tail spec.md's format
// dumps alongside the tables. Decoding itself still copies each field out
// of the mapping into the Index's own slices (a full pointer-fixup,
// load-in-place decoder is more machinery than this package needs).
func Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "refindex: open")
	}
	defer f.Close()

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, errors.Wrap(err, "refindex: mmap")
	}
	defer m.Unmap()
	return decode(bytes.NewReader(m))
}

// Deserialize decodes an Index from an ordinary, non-mmapped reader (used
// in tests, and whenever path-based mmap isn't available).
func Deserialize(r io.Reader) (*Index, error) {
	return decode(r)
}

// SaveCompressed writes idx to path as a blockio-framed compressed block
// stream (spec.md §4.9): idx is serialized into memory first, then the
// whole buffer runs through blockio.Write, so a saved index is the same
// wire format as the rest of the pipeline's compressed artifacts rather
// than a bare dump. workers is passed straight through to blockio.Write
// for parallel block compression.
func (idx *Index) SaveCompressed(path string, workers int, codec blockio.Codec, level int) error {
	var buf bytes.Buffer
	if err := idx.Serialize(&buf); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "refindex: create")
	}
	defer f.Close()
	if err := blockio.Write(f, buf.Bytes(), workers, codec, level); err != nil {
		return errors.Wrap(err, "refindex: write compressed block stream")
	}
	return nil
}

// LoadCompressed is Load's counterpart for a file written by
// SaveCompressed. Unlike Load, there's no mmap shortcut: the frames have
// to be decompressed into an in-memory buffer before decode can read
// them, so this trades Load's lazy page-in for blockio's compression.
func LoadCompressed(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "refindex: open")
	}
	defer f.Close()
	raw, err := blockio.Read(f)
	if err != nil {
		return nil, errors.Wrap(err, "refindex: read compressed block stream")
	}
	return decode(bytes.NewReader(raw))
}

func decode(r io.Reader) (*Index, error) {
	var gotMagic [4]byte
	if _, err := io.ReadFull(r, gotMagic[:]); err != nil {
		return nil, errors.Wrap(err, "refindex: read magic")
	}
	if gotMagic != magic {
		return nil, errors.Errorf("refindex: bad magic %q", gotMagic)
	}
	var header struct {
		Version  uint32
		W, K, B  int32
		NThresh  uint32
		NRefs    uint32
		NBuckets uint32
	}
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, errors.Wrap(err, "refindex: read header")
	}
	if header.Version != formatVersion {
		return nil, errors.Errorf("refindex: unsupported format version %d", header.Version)
	}
	idx := &Index{W: int(header.W), K: int(header.K), B: int(header.B)}

	idx.Thresholds = make([]int, header.NThresh)
	for i := range idx.Thresholds {
		var t int64
		if err := binary.Read(r, binary.LittleEndian, &t); err != nil {
			return nil, errors.Wrap(err, "refindex: read thresholds")
		}
		idx.Thresholds[i] = int(t)
	}

	idx.Refs = make([]seqio.RefSeq, header.NRefs)
	for i := range idx.Refs {
		ref, err := readRefRecord(r)
		if err != nil {
			return nil, err
		}
		idx.Refs[i] = ref
	}

	idx.buckets = make([]bucket, header.NBuckets)
	for i := range idx.buckets {
		tbl, err := robinhood.Deserialize(r, true)
		if err != nil {
			return nil, errors.Wrap(err, "refindex: read bucket table")
		}
		var nValues uint32
		if err := binary.Read(r, binary.LittleEndian, &nValues); err != nil {
			return nil, errors.Wrap(err, "refindex: read bucket value count")
		}
		values := make([]Hit, nValues)
		for j := range values {
			if err := binary.Read(r, binary.LittleEndian, &values[j]); err != nil {
				return nil, errors.Wrap(err, "refindex: read bucket values")
			}
		}
		idx.buckets[i] = bucket{table: tbl, values: values}
	}
	return idx, nil
}

func readRefRecord(r io.Reader) (seqio.RefSeq, error) {
	var fields struct {
		ID       int32
		Length   int64
		Circular uint8
		NameLen  uint32
		PackLen  uint32
	}
	if err := binary.Read(r, binary.LittleEndian, &fields); err != nil {
		return seqio.RefSeq{}, errors.Wrap(err, "refindex: read ref fields")
	}
	nameBytes := make([]byte, fields.NameLen)
	if _, err := io.ReadFull(r, nameBytes); err != nil {
		return seqio.RefSeq{}, errors.Wrap(err, "refindex: read ref name")
	}
	packedBytes := make([]byte, fields.PackLen)
	if _, err := io.ReadFull(r, packedBytes); err != nil {
		return seqio.RefSeq{}, errors.Wrap(err, "refindex: read ref bases")
	}
	packed := make([]seqio.Code, len(packedBytes))
	for i, b := range packedBytes {
		packed[i] = seqio.Code(b)
	}
	return seqio.RefSeq{
		ID:       fields.ID,
		Name:     string(nameBytes),
		Length:   fields.Length,
		Packed:   packed,
		Circular: fields.Circular != 0,
	}, nil
}
