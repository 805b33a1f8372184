package arrowipc

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/dustin/go-humanize"

	"treemerge/internal/merge"
	"treemerge/internal/metrics"
	"treemerge/internal/schema"
	"treemerge/internal/value"
)

// DefaultBatchSize is the number of events per record batch.
const DefaultBatchSize = 1024

// errNotBegun is returned by writes that precede Begin.
var errNotBegun = errors.New("arrowipc: sink not begun")

// Options configure a Sink.
type Options struct {
	// Path is the main output file; parent directories are created.
	Path string
	// BatchSize is the number of rows per record batch; <= 0 means
	// DefaultBatchSize.
	BatchSize int
	// SentinelNulls writes value.Sentinel instead of nulls and declares the
	// value fields non-nullable.
	SentinelNulls bool
	// Allocator backs the record builders; memory.DefaultAllocator when nil.
	Allocator memory.Allocator
	// Job labels metrics.
	Job string
}

// Sink implements merge.Sink over an Arrow IPC stream file.
//
// Every event becomes one row of the main stream: partition, global event
// number, the Events header as a struct, and one list-of-struct column per
// record collection and match. With per-partition placement, generated
// records go to a sidecar stream (see GeneratedPath) written lazily on the
// first WriteGenerated call.
//
// Rows are buffered in a RecordBuilder and flushed every BatchSize rows and
// on Close. The schema metadata carries the serialized Configuration and
// its fingerprint so that Open can rebuild and verify the layout.
//
// A Sink is not safe for concurrent use; the merge driver calls it from a
// single goroutine.
type Sink struct {
	opts Options
	cfg  *schema.Configuration
	plan plan

	main    *stream
	sidecar *stream
	started time.Time
}

// New returns a Sink. The file is created by Begin.
func New(opts Options) (*Sink, error) {
	if opts.Path == "" {
		return nil, errors.New("arrowipc: output path is required")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Allocator == nil {
		opts.Allocator = memory.DefaultAllocator
	}
	return &Sink{opts: opts}, nil
}

var _ merge.Sink = (*Sink)(nil)

// Begin plans the column layout for cfg and creates the main stream. It
// fails when called twice or when cfg has a field type with no Arrow
// mapping.
func (s *Sink) Begin(_ context.Context, cfg *schema.Configuration) error {
	if s.cfg != nil {
		return errors.New("arrowipc: Begin called twice")
	}
	p, err := planFor(cfg)
	if err != nil {
		return err
	}
	sc, err := arrowSchema(cfg, p.main, true, !s.opts.SentinelNulls)
	if err != nil {
		return err
	}
	if s.main, err = openStream(s.opts.Path, sc, s.opts.Allocator); err != nil {
		return err
	}
	s.cfg, s.plan, s.started = cfg, p, time.Now()
	log.Printf("arrowipc: writing path=%s columns=%d batch_size=%d sentinel_nulls=%t",
		s.opts.Path, len(sc.Fields()), s.opts.BatchSize, s.opts.SentinelNulls)
	return nil
}

// WriteEvent appends ev as one row. Missing values are written as nulls, or
// as value.Sentinel with SentinelNulls. A full batch is flushed before
// returning.
func (s *Sink) WriteEvent(_ context.Context, ev *merge.Event) error {
	if s.main == nil {
		return errNotBegun
	}
	for _, c := range s.plan.main {
		if c.kind == colHeader && ev.Header == nil {
			return fmt.Errorf("arrowipc: event %d of %s has no %s record", ev.Index, ev.Partition, c.name)
		}
	}
	b := s.main.b
	b.Field(0).(*array.StringBuilder).Append(ev.Partition)
	b.Field(1).(*array.Int64Builder).Append(ev.Global)
	for _, c := range s.plan.main {
		fb := b.Field(c.index)
		switch c.kind {
		case colHeader:
			sb := fb.(*array.StructBuilder)
			sb.Append(true)
			s.appendValues(sb, 0, c.branch, *ev.Header)
		case colRecords:
			s.appendList(fb.(*array.ListBuilder), c.branch, ev.Records(c.name))
		case colMatches:
			lb := fb.(*array.ListBuilder)
			lb.Append(true)
			sb := lb.ValueBuilder().(*array.StructBuilder)
			for _, m := range ev.Matches {
				sb.Append(true)
				sb.FieldBuilder(0).(*array.Int32Builder).Append(m.Candidate)
				sb.FieldBuilder(1).(*array.Int32Builder).Append(m.Simulated)
			}
		}
	}
	return s.main.rowAdded(s.opts.BatchSize)
}

// WriteGenerated appends one sidecar row holding the partition's generated
// records.
func (s *Sink) WriteGenerated(_ context.Context, partition string, recs []merge.Record) error {
	if s.main == nil {
		return errNotBegun
	}
	if len(s.plan.sidecar) == 0 {
		return fmt.Errorf("arrowipc: generated records are not placed per partition")
	}
	if s.sidecar == nil {
		sc, err := arrowSchema(s.cfg, s.plan.sidecar, false, !s.opts.SentinelNulls)
		if err != nil {
			return err
		}
		if s.sidecar, err = openStream(GeneratedPath(s.opts.Path), sc, s.opts.Allocator); err != nil {
			return err
		}
	}
	b := s.sidecar.b
	b.Field(0).(*array.StringBuilder).Append(partition)
	c := s.plan.sidecar[0]
	s.appendList(b.Field(c.index).(*array.ListBuilder), c.branch, recs)
	return s.sidecar.rowAdded(s.opts.BatchSize)
}

// Close flushes buffered rows and closes the streams. A sink that never
// began writes nothing.
func (s *Sink) Close(context.Context) error {
	if s.main == nil {
		log.Printf("arrowipc: nothing written path=%s", s.opts.Path)
		return nil
	}
	err := s.main.close()
	if s.sidecar != nil {
		if serr := s.sidecar.close(); err == nil {
			err = serr
		}
	}
	metrics.RecordBatches(s.jobName(), int64(s.main.batches))
	size := ""
	if fi, statErr := os.Stat(s.opts.Path); statErr == nil {
		size = humanize.Bytes(uint64(fi.Size()))
	}
	log.Printf("arrowipc: closed path=%s events=%s batches=%d size=%s elapsed=%s",
		s.opts.Path, humanize.Comma(s.main.total), s.main.batches, size, time.Since(s.started).Truncate(time.Millisecond))
	s.main, s.sidecar = nil, nil
	return err
}

// jobName is the metrics job label.
func (s *Sink) jobName() string {
	if s.opts.Job == "" {
		return "treemerge"
	}
	return s.opts.Job
}

// appendList writes recs as one list cell: a struct per record, ID first.
func (s *Sink) appendList(lb *array.ListBuilder, b *schema.Branch, recs []merge.Record) {
	lb.Append(true)
	sb := lb.ValueBuilder().(*array.StructBuilder)
	for _, r := range recs {
		sb.Append(true)
		sb.FieldBuilder(0).(*array.Int32Builder).Append(r.ID)
		s.appendValues(sb, 1, b, r)
	}
}

// appendValues writes r's values into sb's field builders starting at
// offset.
func (s *Sink) appendValues(sb *array.StructBuilder, offset int, b *schema.Branch, r merge.Record) {
	for i, f := range b.Fields {
		v := value.Null(f.Type)
		if i < len(r.Values) {
			v = r.Values[i]
		}
		fb := sb.FieldBuilder(offset + i)
		switch f.Type {
		case value.Float32:
			fb32 := fb.(*array.Float32Builder)
			switch {
			case v.Valid():
				fb32.Append(v.Float32())
			case s.opts.SentinelNulls:
				fb32.Append(value.Sentinel)
			default:
				fb32.AppendNull()
			}
		default:
			ib := fb.(*array.Int32Builder)
			switch {
			case v.Valid():
				ib.Append(v.Int32())
			case s.opts.SentinelNulls:
				ib.Append(value.Sentinel)
			default:
				ib.AppendNull()
			}
		}
	}
}

// stream is one IPC file with its record builder.
type stream struct {
	path string
	f    *os.File
	w    *ipc.Writer
	b    *array.RecordBuilder
	// rows counts rows buffered in b since the last flush.
	rows int
	// total counts rows already written.
	total   int64
	batches int
}

// openStream creates path (and its directory) and writes the schema.
func openStream(path string, sc *arrow.Schema, mem memory.Allocator) (*stream, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("arrowipc: mkdir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("arrowipc: create: %w", err)
	}
	return &stream{
		path: path,
		f:    f,
		w:    ipc.NewWriter(f, ipc.WithSchema(sc), ipc.WithAllocator(mem)),
		b:    array.NewRecordBuilder(mem, sc),
	}, nil
}

// rowAdded flushes once batchSize rows are buffered.
func (s *stream) rowAdded(batchSize int) error {
	s.rows++
	if s.rows >= batchSize {
		return s.flush()
	}
	return nil
}

// flush writes the buffered rows as one record batch.
func (s *stream) flush() error {
	if s.rows == 0 {
		return nil
	}
	rec := s.b.NewRecord()
	defer rec.Release()
	if err := s.w.Write(rec); err != nil {
		return fmt.Errorf("arrowipc: write %s: %w", s.path, err)
	}
	s.total += int64(s.rows)
	s.rows = 0
	s.batches++
	return nil
}

// close flushes, then closes the writer and the file. The first error wins.
func (s *stream) close() error {
	err := s.flush()
	s.b.Release()
	if cerr := s.w.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("arrowipc: close writer: %w", cerr)
	}
	if cerr := s.f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("arrowipc: close %s: %w", s.path, cerr)
	}
	return err
}
