package storage

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/dustin/go-humanize"
)

// Batcher buffers rows for one table and copies them through a Repository
// every size rows. It is the push-style sibling of LoadBatches for callers
// that produce rows synchronously.
//
// A Batcher is not safe for concurrent use. A failed flush drops the batch:
// callers abort the run on error rather than retry.
type Batcher struct {
	repo    Repository
	table   string
	columns []string
	size    int

	rows [][]any
	// total counts rows copied, including partial counts from failed copies.
	total   int64
	batches int64
	// started is set by the first Add.
	started time.Time
}

// NewBatcher returns a Batcher; size <= 0 means 1000.
func NewBatcher(repo Repository, table string, columns []string, size int) *Batcher {
	if size <= 0 {
		size = 1000
	}
	return &Batcher{repo: repo, table: table, columns: columns, size: size, rows: make([][]any, 0, size)}
}

// Add buffers row, flushing when the batch is full. The row slice is kept
// until the next flush and must not be reused by the caller.
func (b *Batcher) Add(ctx context.Context, row []any) error {
	if len(row) != len(b.columns) {
		return fmt.Errorf("storage: %s: row has %d values, want %d", b.table, len(row), len(b.columns))
	}
	if b.started.IsZero() {
		b.started = time.Now()
	}
	b.rows = append(b.rows, row)
	if len(b.rows) >= b.size {
		return b.Flush(ctx)
	}
	return nil
}

// Flush copies any buffered rows. The buffer is emptied even when the copy
// fails.
func (b *Batcher) Flush(ctx context.Context) error {
	if len(b.rows) == 0 {
		return nil
	}
	n, err := b.repo.CopyFrom(ctx, b.table, b.columns, b.rows)
	b.total += n
	b.rows = b.rows[:0]
	if err != nil {
		log.Printf("loader: table=%s copy failed after=%d total=%d err=%v", b.table, n, b.total, err)
		return fmt.Errorf("storage: copy into %s: %w", b.table, err)
	}
	b.batches++
	log.Printf("loader: table=%s batch #%d inserted=%d total_inserted=%s elapsed=%s",
		b.table, b.batches, n, humanize.Comma(b.total), time.Since(b.started).Truncate(time.Millisecond))
	return nil
}

// Total returns the rows copied so far.
func (b *Batcher) Total() int64 { return b.total }

// Batches returns the number of successful flushes.
func (b *Batcher) Batches() int64 { return b.batches }

// Pending returns the number of buffered rows.
func (b *Batcher) Pending() int { return len(b.rows) }
