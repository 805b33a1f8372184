package flatten

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/dustin/go-humanize"

	"treemerge/internal/value"
)

// File formats.
const (
	// FormatParquet writes Snappy-compressed Parquet with the Arrow schema
	// stored in the file.
	FormatParquet = "parquet"
	// FormatArrow writes an Arrow IPC file (random access, not a stream).
	FormatArrow = "arrow"
)

// DefaultBatchSize is the number of rows per record batch (and parquet row
// group).
const DefaultBatchSize = 64 * 1024

// FormatFor guesses the format from the path's extension; anything but
// .arrow and .feather is parquet.
func FormatFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".arrow", ".feather":
		return FormatArrow
	}
	return FormatParquet
}

// FileOptions configure a FileWriter.
type FileOptions struct {
	// Path is created with its parent directories; an existing file is
	// replaced.
	Path string
	// Format is FormatParquet or FormatArrow; FormatFor(Path) when empty.
	Format string
	// BatchSize is rows per record batch; DefaultBatchSize when <= 0.
	BatchSize int
	// SentinelNulls writes -999 instead of nulls.
	SentinelNulls bool
	// Allocator backs the record builder; memory.DefaultAllocator when nil.
	Allocator memory.Allocator
}

// recordWriter is satisfied by both pqarrow.FileWriter and ipc.FileWriter.
type recordWriter interface {
	Write(rec arrow.Record) error
	Close() error
}

// FileWriter writes flat rows to a Parquet or Arrow IPC file. Rows are
// buffered in a RecordBuilder and written every BatchSize rows, so memory is
// bounded by one batch whatever the input size.
type FileWriter struct {
	opts FileOptions

	f *os.File
	w recordWriter
	b *array.RecordBuilder
	// pending counts rows buffered in b.
	pending int
	total   int64
	batches int
	started time.Time
}

var _ Writer = (*FileWriter)(nil)

// NewFileWriter checks opts and fills defaults. The file is created by
// Begin.
func NewFileWriter(opts FileOptions) (*FileWriter, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("flatten: output path is required")
	}
	if opts.Format == "" {
		opts.Format = FormatFor(opts.Path)
	}
	switch opts.Format {
	case FormatParquet, FormatArrow:
	default:
		return nil, fmt.Errorf("flatten: unknown format %q", opts.Format)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Allocator == nil {
		opts.Allocator = memory.DefaultAllocator
	}
	return &FileWriter{opts: opts}, nil
}

// Schema returns the Arrow schema of the flat table for cols.
func Schema(cols []Column, nullable bool) *arrow.Schema {
	fields := []arrow.Field{
		{Name: ColPartition, Type: arrow.BinaryTypes.String},
		{Name: ColEvent, Type: arrow.PrimitiveTypes.Int64},
		{Name: ColID, Type: arrow.PrimitiveTypes.Int32},
	}
	for _, c := range cols {
		dt := arrow.DataType(arrow.PrimitiveTypes.Int32)
		if c.Type == value.Float32 {
			dt = arrow.PrimitiveTypes.Float32
		}
		fields = append(fields, arrow.Field{Name: c.Name, Type: dt, Nullable: nullable})
	}
	return arrow.NewSchema(fields, nil)
}

// Begin creates the file and its writer for cols.
func (fw *FileWriter) Begin(_ context.Context, cols []Column) error {
	if fw.w != nil {
		return fmt.Errorf("flatten: %s already begun", fw.opts.Path)
	}
	if dir := filepath.Dir(fw.opts.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("flatten: mkdir %s: %w", dir, err)
		}
	}
	f, err := os.Create(fw.opts.Path)
	if err != nil {
		return fmt.Errorf("flatten: create: %w", err)
	}
	sc := Schema(cols, !fw.opts.SentinelNulls)

	var w recordWriter
	switch fw.opts.Format {
	case FormatParquet:
		props := parquet.NewWriterProperties(
			parquet.WithCreatedBy("treemerge"),
			parquet.WithCompression(compress.Codecs.Snappy),
			parquet.WithAllocator(fw.opts.Allocator),
		)
		w, err = pqarrow.NewFileWriter(sc, f, props, pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	case FormatArrow:
		w, err = ipc.NewFileWriter(f, ipc.WithSchema(sc), ipc.WithAllocator(fw.opts.Allocator))
	}
	if err != nil {
		f.Close()
		return fmt.Errorf("flatten: new %s writer: %w", fw.opts.Format, err)
	}

	fw.f, fw.w = f, w
	fw.b = array.NewRecordBuilder(fw.opts.Allocator, sc)
	fw.started = time.Now()
	log.Printf("flatten: writing path=%s format=%s columns=%d", fw.opts.Path, fw.opts.Format, len(cols))
	return nil
}

// WriteRow buffers row; values are copied, so row may be reused.
func (fw *FileWriter) WriteRow(_ context.Context, row Row) error {
	if fw.w == nil {
		return fmt.Errorf("flatten: %s not begun", fw.opts.Path)
	}
	fw.b.Field(0).(*array.StringBuilder).Append(row.Partition)
	fw.b.Field(1).(*array.Int64Builder).Append(row.Event)
	fw.b.Field(2).(*array.Int32Builder).Append(row.ID)
	for i, v := range row.Values {
		fb := fw.b.Field(3 + i)
		switch {
		case !v.Valid() && !fw.opts.SentinelNulls:
			fb.AppendNull()
		case v.Type() == value.Float32:
			x := v.Float32()
			if !v.Valid() {
				x = value.Sentinel
			}
			fb.(*array.Float32Builder).Append(x)
		default:
			x := v.Int32()
			if !v.Valid() {
				x = value.Sentinel
			}
			fb.(*array.Int32Builder).Append(x)
		}
	}
	fw.pending++
	if fw.pending >= fw.opts.BatchSize {
		return fw.flush()
	}
	return nil
}

// flush writes the buffered rows as one record batch.
func (fw *FileWriter) flush() error {
	if fw.pending == 0 {
		return nil
	}
	rec := fw.b.NewRecord()
	defer rec.Release()
	if err := fw.w.Write(rec); err != nil {
		return fmt.Errorf("flatten: write batch: %w", err)
	}
	fw.total += int64(fw.pending)
	fw.batches++
	fw.pending = 0
	return nil
}

// Close flushes buffered rows and finishes the file. An empty table is still
// a valid file with the full schema.
func (fw *FileWriter) Close(context.Context) error {
	if fw.w == nil {
		return nil
	}
	err := fw.flush()
	if cerr := fw.w.Close(); err == nil {
		err = cerr
	}
	fw.b.Release()
	// The parquet writer closes the file itself.
	if ferr := fw.f.Close(); err == nil && ferr != nil && !errors.Is(ferr, os.ErrClosed) {
		err = ferr
	}
	fw.w = nil

	size := ""
	if fi, statErr := os.Stat(fw.opts.Path); statErr == nil {
		size = humanize.Bytes(uint64(fi.Size()))
	}
	log.Printf("flatten: closed path=%s rows=%s batches=%d size=%s elapsed=%s",
		fw.opts.Path, humanize.Comma(fw.total), fw.batches, size, time.Since(fw.started).Truncate(time.Millisecond))
	if err != nil {
		return fmt.Errorf("flatten: close %s: %w", fw.opts.Path, err)
	}
	return nil
}
