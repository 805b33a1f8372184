package flatten

import (
	"context"
	"errors"
	"fmt"
	"log"

	"treemerge/internal/ddl"
	"treemerge/internal/storage"
	"treemerge/internal/value"
)

// TableOptions configure a TableWriter.
type TableOptions struct {
	// Kind is the storage backend kind, used for table creation.
	Kind string
	// Table is the destination table, normalized with storage.NormalizeIdent.
	Table string
	// AutoCreate creates the table in Begin when it does not exist.
	AutoCreate bool
	// BatchSize is rows per copy; 5000 when <= 0.
	BatchSize int
	// SentinelNulls writes -999 instead of NULL.
	SentinelNulls bool
	// Buffer is the row channel capacity between the writer and the loader.
	Buffer int
	// Job labels metrics.
	Job string
}

// TableWriter streams flat rows into a relational table. Rows are handed to
// storage.LoadBatches over a channel and copied in batches by a background
// loader.
type TableWriter struct {
	repo storage.Repository
	opts TableOptions
	def  ddl.TableDef

	rows chan []any
	// done is closed when the loader returns; n and err are set before.
	done chan struct{}
	n    int64
	err  error
}

var _ Writer = (*TableWriter)(nil)

// NewTableWriter returns a writer over repo, which the caller owns.
func NewTableWriter(repo storage.Repository, opts TableOptions) (*TableWriter, error) {
	if repo == nil {
		return nil, errors.New("flatten: nil repository")
	}
	if opts.Table == "" {
		return nil, errors.New("flatten: table name is required")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5000
	}
	if opts.Buffer <= 0 {
		opts.Buffer = opts.BatchSize
	}
	opts.Table = storage.NormalizeIdent(opts.Table)
	return &TableWriter{repo: repo, opts: opts}, nil
}

// Definition returns the table definition for cols: the three fixed columns
// followed by one nullable column per value column.
func Definition(table string, cols []Column) ddl.TableDef {
	def := ddl.TableDef{FQN: table, Columns: []ddl.ColumnDef{
		{Name: ColPartition, SQLType: ddl.KindText},
		{Name: ColEvent, SQLType: ddl.KindInt64},
		{Name: ColID, SQLType: ddl.KindInt32},
	}}
	for _, c := range cols {
		kind := ddl.KindInt32
		if c.Type == value.Float32 {
			kind = ddl.KindFloat32
		}
		def.Columns = append(def.Columns, ddl.ColumnDef{Name: c.Name, SQLType: kind, Nullable: true})
	}
	return def
}

// Begin creates the table when asked to and starts the background loader.
// The loader runs under ctx; cancelling it stops the copy.
func (tw *TableWriter) Begin(ctx context.Context, cols []Column) error {
	if tw.rows != nil {
		return fmt.Errorf("flatten: table %s already begun", tw.opts.Table)
	}
	tw.def = Definition(tw.opts.Table, cols)
	if tw.opts.AutoCreate {
		if err := storage.EnsureTable(ctx, tw.opts.Kind, tw.repo, tw.def); err != nil {
			return fmt.Errorf("flatten: %w", err)
		}
	}

	tw.rows = make(chan []any, tw.opts.Buffer)
	tw.done = make(chan struct{})
	copyFn := storage.TableCopyFn(tw.repo, tw.def.FQN)
	lopts := storage.LoadOptions{
		Table:         tw.def.FQN,
		Columns:       tw.def.ColumnNames(),
		BatchSize:     tw.opts.BatchSize,
		Job:           tw.opts.Job,
		ProgressEvery: 10,
	}
	go func() {
		defer close(tw.done)
		var st storage.LoadStats
		st, tw.err = storage.LoadBatches(ctx, tw.rows, copyFn, lopts)
		tw.n = st.Rows
	}()
	log.Printf("flatten: loading table=%s kind=%s columns=%d", tw.def.FQN, tw.opts.Kind, len(tw.def.Columns))
	return nil
}

// WriteRow converts row and hands it to the loader. It blocks while the
// channel is full and fails fast once the loader has stopped.
func (tw *TableWriter) WriteRow(ctx context.Context, row Row) error {
	if tw.rows == nil {
		return fmt.Errorf("flatten: table %s not begun", tw.opts.Table)
	}
	out := make([]any, 0, 3+len(row.Values))
	out = append(out, row.Partition, row.Event, row.ID)
	for _, v := range row.Values {
		if tw.opts.SentinelNulls {
			out = append(out, v.WithSentinel())
		} else {
			out = append(out, v.Any())
		}
	}
	select {
	case tw.rows <- out:
		return nil
	case <-tw.done:
		// The loader stopped early; its error is reported by Close.
		if tw.err != nil {
			return tw.err
		}
		return errors.New("flatten: loader stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the row stream and waits for the loader to copy what is left.
func (tw *TableWriter) Close(context.Context) error {
	if tw.rows == nil {
		return nil
	}
	close(tw.rows)
	<-tw.done
	tw.rows = nil
	log.Printf("flatten: loaded table=%s rows=%d", tw.def.FQN, tw.n)
	return tw.err
}
