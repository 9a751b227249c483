package seqio

// RefSeq is a single reference sequence record (spec.md §3): id, name,
// length, packed bases, and the circular flag the chain package's circular
// linker (spec.md §4.6) keys off of.
type RefSeq struct {
	ID       int32
	Name     string
	Length   int64
	Packed   []Code // PackMargin N bases on each side; see bases.go.
	Circular bool
}

// Bases returns the unpadded base codes, i.e. Packed without the head/tail N
// margin.
func (r *RefSeq) Bases() []Code {
	return r.Packed[PackMargin : PackMargin+r.Length]
}

// QueryRecord is one query sequence, matching the "reserved u64" convention
// of spec.md §6 (reserved is used downstream to attach the alignment set;
// here it's simply an arbitrary caller payload).
type QueryRecord struct {
	ID       int32
	Name     string
	Seq      []Code
	Qual     []byte // empty if the source has no quality values
	Reserved uint64
}

// QueryBatch is a group of query records read together, the unit the
// pipeline (spec.md §4.8) moves between source, worker, and drain.
type QueryBatch struct {
	BatchID int64
	Records []QueryRecord
}
