package arrowipc

import (
	"errors"
	"fmt"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"

	"treemerge/internal/merge"
	"treemerge/internal/schema"
	"treemerge/internal/value"
)

// ErrFingerprintMismatch is returned by Open when the stored fingerprint does
// not match the stored configuration, i.e. one of them was edited after the
// stream was written.
var ErrFingerprintMismatch = errors.New("arrowipc: configuration fingerprint mismatch")

// Reader iterates the rows of a stream written by Sink, either the main
// stream or the generated sidecar. Rows come back as events; in a sidecar
// only Partition and Generated are set.
//
// A Reader is not safe for concurrent use.
type Reader struct {
	path string
	f    *os.File
	r    *ipc.Reader
	cfg  *schema.Configuration

	cols []column
	// eventCol is -1 for a sidecar stream.
	eventCol int

	// rec is the current batch and row the next row in it.
	rec  arrow.Record
	row  int
	rows int64
	// inPart is the row's position within its partition.
	inPart int64
	ev     merge.Event
	header merge.Record
	err    error
}

// Open opens path and decodes the configuration from the schema metadata.
// When the stream carries a fingerprint, the decoded configuration must hash
// to it.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("arrowipc: open: %w", err)
	}
	r, err := ipc.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("arrowipc: read %s: %w", path, err)
	}
	rd := &Reader{path: path, f: f, r: r, eventCol: -1}
	if err := rd.resolve(r.Schema()); err != nil {
		rd.Close()
		return nil, err
	}
	return rd, nil
}

// resolve decodes and verifies the configuration, then maps every branch and
// match present in sc onto its column. Absent branches are skipped.
func (rd *Reader) resolve(sc *arrow.Schema) error {
	md := sc.Metadata()
	i := md.FindKey(MetaConfiguration)
	if i < 0 {
		return fmt.Errorf("arrowipc: %s: no %s metadata", rd.path, MetaConfiguration)
	}
	cfg, err := schema.ParseConfiguration([]byte(md.Values()[i]))
	if err != nil {
		return err
	}
	// A stream without a fingerprint is accepted unchecked.
	if j := md.FindKey(MetaFingerprint); j >= 0 {
		if got := cfg.FingerprintHex(); got != md.Values()[j] {
			return fmt.Errorf("%w: %s: stored %s, configuration hashes to %s", ErrFingerprintMismatch, rd.path, md.Values()[j], got)
		}
	}
	rd.cfg = cfg

	if idx := sc.FieldIndices(ColPartition); len(idx) != 1 || idx[0] != 0 {
		return fmt.Errorf("arrowipc: %s: first column must be %s", rd.path, ColPartition)
	}
	if idx := sc.FieldIndices(ColEvent); len(idx) == 1 {
		rd.eventCol = idx[0]
	}
	for _, b := range cfg.Branches {
		idx := sc.FieldIndices(b.Name)
		if len(idx) == 0 {
			continue
		}
		kind := colRecords
		if b.Name == merge.BranchEvents {
			kind = colHeader
		}
		rd.cols = append(rd.cols, column{kind: kind, name: b.Name, branch: b, index: idx[0]})
	}
	for _, m := range cfg.Matches {
		if idx := sc.FieldIndices(m.Name); len(idx) == 1 {
			rd.cols = append(rd.cols, column{kind: colMatches, name: m.Name, index: idx[0]})
		}
	}
	return nil
}

// Configuration returns the configuration stored with the stream.
func (rd *Reader) Configuration() *schema.Configuration { return rd.cfg }

// Next decodes the next row. It returns false at the end of the stream or
// on error; check Err.
func (rd *Reader) Next() bool {
	if rd.err != nil {
		return false
	}
	// Skip exhausted and empty batches.
	for rd.rec == nil || rd.row >= int(rd.rec.NumRows()) {
		if !rd.r.Next() {
			if err := rd.r.Err(); err != nil {
				rd.err = fmt.Errorf("arrowipc: read %s: %w", rd.path, err)
			}
			return false
		}
		rd.rec = rd.r.Record()
		rd.row = 0
	}
	if err := rd.decode(rd.row); err != nil {
		rd.err = err
		return false
	}
	rd.row++
	rd.rows++
	return true
}

// Event returns the row decoded by the last Next. It is overwritten by the
// following call.
func (rd *Reader) Event() *merge.Event { return &rd.ev }

// Err returns the first error met by Next.
func (rd *Reader) Err() error { return rd.err }

// Close releases the IPC reader and closes the file.
func (rd *Reader) Close() error {
	rd.r.Release()
	return rd.f.Close()
}

// decode fills rd.ev from row of the current batch.
func (rd *Reader) decode(row int) error {
	ev := &rd.ev
	// Index restarts whenever the partition column changes; rows of one
	// partition are contiguous.
	partition := rd.rec.Column(0).(*array.String).Value(row)
	if rd.rows > 0 && partition == ev.Partition {
		rd.inPart++
	} else {
		rd.inPart = 0
	}
	ev.Reset()
	ev.Partition = partition
	ev.Index, ev.Global = rd.inPart, rd.rows
	// A sidecar has no event column; Global is then the row number.
	if rd.eventCol >= 0 {
		ev.Global = rd.rec.Column(rd.eventCol).(*array.Int64).Value(row)
	}
	for _, c := range rd.cols {
		arr := rd.rec.Column(c.index)
		switch c.kind {
		case colHeader:
			st, ok := arr.(*array.Struct)
			if !ok {
				return fmt.Errorf("arrowipc: column %s is %s, want struct", c.name, arr.DataType())
			}
			rd.header.Values = rd.header.Values[:0]
			for i, f := range c.branch.Fields {
				rd.header.Values = append(rd.header.Values, valueAt(st.Field(i), row, f.Type))
			}
			ev.Header = &rd.header
		case colRecords:
			recs, err := decodeRecords(arr, row, c.branch)
			if err != nil {
				return err
			}
			switch c.name {
			case merge.BranchCandidates:
				ev.Candidates = recs
			case merge.BranchSimulated:
				ev.Simulated = recs
			case merge.BranchGenerated:
				ev.Generated = recs
			}
		case colMatches:
			l, ok := arr.(*array.List)
			if !ok {
				return fmt.Errorf("arrowipc: column %s is %s, want list", c.name, arr.DataType())
			}
			start, end := l.ValueOffsets(row)
			st := l.ListValues().(*array.Struct)
			cand := st.Field(0).(*array.Int32)
			sim := st.Field(1).(*array.Int32)
			for i := int(start); i < int(end); i++ {
				ev.Matches = append(ev.Matches, merge.Match{Candidate: cand.Value(i), Simulated: sim.Value(i)})
			}
		}
	}
	return nil
}

// decodeRecords reads one list cell; a null cell is no records.
func decodeRecords(arr arrow.Array, row int, b *schema.Branch) ([]merge.Record, error) {
	l, ok := arr.(*array.List)
	if !ok {
		return nil, fmt.Errorf("arrowipc: column %s is %s, want list", b.Name, arr.DataType())
	}
	if l.IsNull(row) {
		return nil, nil
	}
	start, end := l.ValueOffsets(row)
	st := l.ListValues().(*array.Struct)
	ids := st.Field(0).(*array.Int32)
	out := make([]merge.Record, 0, end-start)
	for i := int(start); i < int(end); i++ {
		rec := merge.Record{ID: ids.Value(i), Values: make([]value.Value, len(b.Fields))}
		for k, f := range b.Fields {
			rec.Values[k] = valueAt(st.Field(k+1), i, f.Type)
		}
		out = append(out, rec)
	}
	return out, nil
}

// valueAt reads element i as a value of type t.
func valueAt(arr arrow.Array, i int, t value.LogicalType) value.Value {
	if arr.IsNull(i) {
		return value.Null(t)
	}
	switch a := arr.(type) {
	case *array.Float32:
		return value.Float(a.Value(i))
	case *array.Int32:
		return value.Int(a.Value(i))
	}
	return value.Null(t)
}
