// Package storage contains backend-agnostic contracts and utilities.
// This file implements a generic, batched loader that drains rows from a
// channel and hands each batch to a bulk-insert function (CopyFn).
//
// Backends implement CopyFn with their most efficient primitive: pgx
// CopyFrom on Postgres, bulk copy on SQL Server, multi-row INSERT elsewhere.
// The loader itself knows nothing about SQL.
//
// Cancellation: LoadBatches checks ctx between rows. Rows still buffered when
// ctx is done are dropped and ctx.Err() is returned together with the stats
// of the batches already copied.
//
// Logging: every ProgressEvery batches a progress line is emitted with the
// running row total and rows/sec since the start; a summary line follows a
// successful drain. A failed copy logs the table and the rows reported so far.
//
// Metrics: the batch count and one "load" step (success or failure, with its
// duration) are recorded under LoadOptions.Job.
package storage

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/dustin/go-humanize"

	"treemerge/internal/metrics"
)

// CopyFn abstracts a backend's bulk insert capability. Implementations insert
// rows (each aligned to the columns order) and return the number of rows the
// backend reported as written, even on error. CopyFn is called repeatedly and
// must return promptly once ctx is done.
type CopyFn func(ctx context.Context, columns []string, rows [][]any) (int64, error)

// TableCopyFn binds a repository table to a CopyFn, so that LoadBatches can
// feed a Repository directly.
func TableCopyFn(repo Repository, table string) CopyFn {
	return func(ctx context.Context, columns []string, rows [][]any) (int64, error) {
		return repo.CopyFrom(ctx, table, columns, rows)
	}
}

// LoadOptions configure LoadBatches.
type LoadOptions struct {
	// Table names the destination in logs.
	Table string

	// Columns is passed unchanged to every CopyFn call.
	Columns []string

	// BatchSize is the maximum number of rows per CopyFn call; it must be > 0.
	// The last batch may be shorter.
	BatchSize int

	// Job labels metrics.
	Job string
	// ProgressEvery logs a progress line every that many batches; <= 0 logs
	// only the summary.
	ProgressEvery int
}

// LoadStats summarize a LoadBatches call.
type LoadStats struct {
	// Rows is the sum of the counts returned by CopyFn, including a failed
	// call's partial count.
	Rows int64
	// Batches counts successful CopyFn calls.
	Batches int64
	Elapsed time.Duration
}

// LoadBatches drains rows from in, groups them into batches of
// opts.BatchSize and calls copyFn for each non-empty batch. It returns what
// copyFn reported and the first error encountered.
//
// The first copy error stops the load; in is not drained after that, so the
// producer must also watch ctx. A closed in flushes the final partial batch.
//
// Cancellation: returns (stats, ctx.Err()) when canceled.
func LoadBatches(ctx context.Context, in <-chan []any, copyFn CopyFn, opts LoadOptions) (LoadStats, error) {
	var st LoadStats
	if opts.BatchSize <= 0 {
		return st, errors.New("storage: load: batch size must be > 0")
	}
	if copyFn == nil {
		return st, errors.New("storage: load: nil copy func")
	}

	start := time.Now()
	batch := make([][]any, 0, opts.BatchSize)
	finish := func(err error) (LoadStats, error) {
		st.Elapsed = time.Since(start)
		metrics.RecordBatches(opts.Job, st.Batches)
		metrics.RecordStep(opts.Job, "load", err, st.Elapsed)
		return st, err
	}
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := copyFn(ctx, opts.Columns, batch)
		st.Rows += n
		// Reuse the backing array; copyFn must not retain rows.
		batch = batch[:0]
		if err != nil {
			log.Printf("loader: table=%s copy failed after=%d rows=%d err=%v", opts.Table, n, st.Rows, err)
			return err
		}
		st.Batches++
		if opts.ProgressEvery > 0 && st.Batches%int64(opts.ProgressEvery) == 0 {
			el := time.Since(start)
			log.Printf("loader: table=%s batches=%d rows=%s rps=%.0f elapsed=%s",
				opts.Table, st.Batches, humanize.Comma(st.Rows), float64(st.Rows)/el.Seconds(), el.Truncate(time.Millisecond))
		}
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return finish(ctx.Err())
		case row, ok := <-in:
			if !ok {
				err := flush()
				if err == nil {
					log.Printf("loader: table=%s done rows=%s batches=%d elapsed=%s",
						opts.Table, humanize.Comma(st.Rows), st.Batches, time.Since(start).Truncate(time.Millisecond))
				}
				return finish(err)
			}
			batch = append(batch, row)
			if len(batch) == opts.BatchSize {
				if err := flush(); err != nil {
					return finish(err)
				}
			}
		}
	}
}
