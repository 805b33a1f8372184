package sqlsink

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dustin/go-humanize"

	"treemerge/internal/merge"
	"treemerge/internal/metrics"
	"treemerge/internal/schema"
	"treemerge/internal/storage"
	"treemerge/internal/value"
)

// errNotBegun is returned by writes that precede Begin.
var errNotBegun = errors.New("sqlsink: sink not begun")

// Options configure a Sink.
type Options struct {
	// Kind is the storage kind, used to pick the DDL bootstrapper.
	Kind string
	// TablePrefix is prepended to every table base name.
	TablePrefix string
	// AutoCreate creates missing tables in Begin.
	AutoCreate bool
	// BatchSize is the number of rows per copy; <= 0 uses the storage
	// default.
	BatchSize int
	// SentinelNulls writes value.Sentinel instead of NULL for missing
	// values.
	SentinelNulls bool
	// Job labels metrics.
	Job string
}

// Sink implements merge.Sink over a storage.Repository. The caller owns the
// repository.
//
// Rows are buffered per table in a storage.Batcher and copied in batches;
// the fields table is written and flushed in Begin so that a run that fails
// later still documents its layout. Close flushes whatever is left and
// joins the flush errors of all tables.
type Sink struct {
	repo storage.Repository
	opts Options

	cfg     *schema.Configuration
	targets []target
	// batchers is keyed by table base name.
	batchers map[string]*storage.Batcher
	started  time.Time
}

var _ merge.Sink = (*Sink)(nil)

// New returns a Sink writing through repo. Nothing is created until Begin.
// AutoCreate requires Kind so that the right DDL dialect is chosen.
func New(repo storage.Repository, opts Options) (*Sink, error) {
	if repo == nil {
		return nil, errors.New("sqlsink: repository is required")
	}
	if opts.AutoCreate && opts.Kind == "" {
		return nil, errors.New("sqlsink: auto-create needs the storage kind")
	}
	if opts.Job == "" {
		opts.Job = "treemerge"
	}
	return &Sink{repo: repo, opts: opts}, nil
}

// Begin creates the tables when asked to and records the field layout.
func (s *Sink) Begin(ctx context.Context, cfg *schema.Configuration) error {
	if s.cfg != nil {
		return errors.New("sqlsink: Begin called twice")
	}
	targets, err := plan(s.opts.TablePrefix, cfg)
	if err != nil {
		return err
	}
	if s.opts.AutoCreate {
		for _, t := range targets {
			if err := storage.EnsureTable(ctx, s.opts.Kind, s.repo, t.def); err != nil {
				return fmt.Errorf("sqlsink: %w", err)
			}
		}
	}
	s.batchers = make(map[string]*storage.Batcher, len(targets))
	for _, t := range targets {
		s.batchers[t.base] = storage.NewBatcher(s.repo, t.def.FQN, t.def.ColumnNames(), s.opts.BatchSize)
	}
	s.cfg, s.targets, s.started = cfg, targets, time.Now()

	// One fields row per slot, so readers can rebuild the layout from SQL.
	fields := s.batchers[TableFields]
	for _, b := range cfg.Branches {
		for slot, f := range b.Fields {
			if err := fields.Add(ctx, []any{cfg.RunID, b.Name, int32(slot), f.Name, f.Type.String()}); err != nil {
				return err
			}
		}
	}
	if err := fields.Flush(ctx); err != nil {
		return err
	}
	log.Printf("sqlsink: begin kind=%s prefix=%q tables=%d run_id=%s", s.opts.Kind, s.opts.TablePrefix, len(targets), cfg.RunID)
	return nil
}

// WriteEvent buffers one row per record and per match of ev, keyed by
// ev.Global. Generated records placed on the first event carry that event's
// ID.
func (s *Sink) WriteEvent(ctx context.Context, ev *merge.Event) error {
	if s.cfg == nil {
		return errNotBegun
	}
	run := s.cfg.RunID
	for _, t := range s.targets {
		if t.branch == nil {
			continue
		}
		switch t.branch.Name {
		case merge.BranchEvents:
			if ev.Header == nil {
				return fmt.Errorf("sqlsink: event %d has no %s record", ev.Global, t.branch.Name)
			}
			row := s.row(t, ev.Header.Values, run, ev.Global, ev.Partition, ev.Index)
			if err := s.batchers[t.base].Add(ctx, row); err != nil {
				return err
			}
		case merge.BranchCandidates, merge.BranchSimulated:
			if err := s.addRecords(ctx, t, ev.Records(t.branch.Name), run, ev.Global); err != nil {
				return err
			}
		case merge.BranchGenerated:
			for _, r := range ev.Generated {
				if err := s.batchers[t.base].Add(ctx, s.row(t, r.Values, run, ev.Partition, ev.Global, r.ID)); err != nil {
					return err
				}
			}
		}
	}
	// The match table exists only with simulation.
	if b, ok := s.batchers[tableMatches]; ok {
		for _, m := range ev.Matches {
			if err := b.Add(ctx, []any{run, ev.Global, m.Candidate, m.Simulated}); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteGenerated stores generated records with a NULL event_id.
func (s *Sink) WriteGenerated(ctx context.Context, partition string, recs []merge.Record) error {
	if s.cfg == nil {
		return errNotBegun
	}
	for _, t := range s.targets {
		if t.branch == nil || t.branch.Name != merge.BranchGenerated {
			continue
		}
		for _, r := range recs {
			if err := s.batchers[t.base].Add(ctx, s.row(t, r.Values, s.cfg.RunID, partition, nil, r.ID)); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("sqlsink: no %s table", merge.BranchGenerated)
}

// Close flushes every table. It does not close the repository.
func (s *Sink) Close(ctx context.Context) error {
	if s.cfg == nil {
		return nil
	}
	var (
		errs    []error
		total   int64
		batches int64
	)
	for _, t := range s.targets {
		b := s.batchers[t.base]
		if err := b.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
		total += b.Total()
		batches += b.Batches()
	}
	metrics.RecordBatches(s.opts.Job, batches)
	log.Printf("sqlsink: closed tables=%d rows=%s batches=%d elapsed=%s",
		len(s.targets), humanize.Comma(total), batches, time.Since(s.started).Truncate(time.Millisecond))
	return errors.Join(errs...)
}

// addRecords buffers recs as rows of t.
func (s *Sink) addRecords(ctx context.Context, t target, recs []merge.Record, run string, event int64) error {
	b := s.batchers[t.base]
	for _, r := range recs {
		if err := b.Add(ctx, s.row(t, r.Values, run, event, r.ID)); err != nil {
			return err
		}
	}
	return nil
}

// row builds a fresh row: the fixed leading values followed by one value
// per branch field.
func (s *Sink) row(t target, vals []value.Value, lead ...any) []any {
	row := make([]any, 0, len(t.def.Columns))
	row = append(row, lead...)
	for i, f := range t.branch.Fields {
		v := value.Null(f.Type)
		if i < len(vals) {
			v = vals[i]
		}
		if s.opts.SentinelNulls {
			row = append(row, v.WithSentinel())
		} else {
			row = append(row, v.Any())
		}
	}
	return row
}
