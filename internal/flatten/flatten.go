// Package flatten turns one branch of a merged event stream into a plain
// table: one row per record, tagged with the partition and event it came
// from. Rows can be narrowed to a preserve list of fields and filtered with
// range cuts before they reach a Writer.
//
// This file implements the selection and the row loop; file.go and table.go
// hold the Writer implementations (CSV/Parquet/Arrow files and SQL tables).
//
// Selection rules:
//
//  1. The branch must exist in the stream's configuration.
//  2. Preserve names are field names of that branch, each at most once. The
//     output keeps their order.
//  3. Cuts may reference any field of the branch; a record is kept only
//     when every cut has a range containing the value. Bounds are inclusive
//     and a null value fails the cut.
//
// Logging: one summary line per Run. Metrics: one flatten step and the number
// of rows written, under Options.Job.
package flatten

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
	"treemerge/internal/value"
)

// Fixed leading columns of every flat row.
const (
	ColPartition = "partition"
	// ColEvent is the run-wide event number.
	ColEvent = "event"
	// ColID is the record ID within its event collection.
	ColID = "id"
)

// Selection errors. Both are returned before the Writer is begun.
var (
	ErrUnknownBranch = errors.New("flatten: branch not in configuration")
	ErrUnknownField  = errors.New("flatten: field not in branch")
)

// Range is the closed interval [Lo, Hi].
type Range struct {
	Lo float64 `json:"lo" yaml:"lo"`
	Hi float64 `json:"hi" yaml:"hi"`
}

// contains reports whether v lies in r, bounds included.
func (r Range) contains(v float64) bool { return v >= r.Lo && v <= r.Hi }

// Cut keeps a record when Field lies in any of Ranges. Null values never
// pass.
type Cut struct {
	// Field is an output field name of the flattened branch.
	Field string `json:"field" yaml:"field"`
	// Ranges are alternatives; one hit is enough.
	Ranges []Range `json:"ranges" yaml:"ranges"`
}

// Options configure Run.
type Options struct {
	// Branch is flattened; merge.BranchCandidates when empty.
	Branch string
	// Preserve lists the fields written, in order. Empty keeps every field.
	Preserve []string
	// Cuts must all pass for a record to be written. They may use fields
	// outside Preserve.
	Cuts []Cut
	// PrependBranch names output columns <branch>_<field>.
	PrependBranch bool
	// Job labels logs and metrics.
	Job string
}

// Column is one value column after the fixed ones.
type Column struct {
	// Name is the output column name, with the branch prefix if requested.
	Name string
	Type value.LogicalType
}

// Row is one flattened record. Values follow the columns passed to
// Writer.Begin and are only valid during WriteRow.
type Row struct {
	Partition string
	// Event is merge.Event.Global of the source event.
	Event  int64
	ID     int32
	Values []value.Value
}

// Writer receives flat rows. Begin is called once with the value columns
// before any row; Close is called exactly once, even after a failure.
type Writer interface {
	Begin(ctx context.Context, cols []Column) error
	WriteRow(ctx context.Context, row Row) error
	Close(ctx context.Context) error
}

// Source yields merged events; arrowipc.Reader satisfies it.
type Source interface {
	Configuration() *schema.Configuration
	Next() bool
	Event() *merge.Event
	Err() error
}

// Stats summarizes a Run.
type Stats struct {
	Events int64
	// Records counts records of the branch seen, before cuts.
	Records int64
	// Rows counts rows written.
	Rows int64
}

// cut is a Cut resolved to a field slot.
type cut struct {
	slot   int
	ranges []Range
}

// selection is the resolved form of Options for one configuration.
type selection struct {
	branch string
	// slots[i] is the branch slot feeding output column cols[i].
	slots []int
	cols  []Column
	cuts  []cut
}

// selectColumns resolves opts against cfg.
func selectColumns(cfg *schema.Configuration, opts Options) (*selection, error) {
	name := opts.Branch
	if name == "" {
		name = merge.BranchCandidates
	}
	b, ok := cfg.Branch(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBranch, name)
	}
	sel := &selection{branch: name}

	outName := func(f string) string {
		if opts.PrependBranch {
			return name + "_" + f
		}
		return f
	}
	if len(opts.Preserve) == 0 {
		for i, f := range b.Fields {
			sel.slots = append(sel.slots, i)
			sel.cols = append(sel.cols, Column{Name: outName(f.Name), Type: f.Type})
		}
	} else {
		seen := map[string]bool{}
		for _, f := range opts.Preserve {
			slot, ok := b.FieldID(f)
			if !ok {
				return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, name, f)
			}
			if seen[f] {
				return nil, fmt.Errorf("flatten: field %s preserved twice", f)
			}
			seen[f] = true
			sel.slots = append(sel.slots, slot)
			sel.cols = append(sel.cols, Column{Name: outName(f), Type: b.Fields[slot].Type})
		}
	}
	for _, c := range sel.cols {
		switch c.Name {
		case ColPartition, ColEvent, ColID:
			return nil, fmt.Errorf("flatten: field %s clashes with a fixed column", c.Name)
		}
	}

	for _, c := range opts.Cuts {
		slot, ok := b.FieldID(c.Field)
		if !ok {
			return nil, fmt.Errorf("%w: cut on %s.%s", ErrUnknownField, name, c.Field)
		}
		if len(c.Ranges) == 0 {
			return nil, fmt.Errorf("flatten: cut on %s has no ranges", c.Field)
		}
		sel.cuts = append(sel.cuts, cut{slot: slot, ranges: c.Ranges})
	}
	return sel, nil
}

// pass reports whether r survives every cut.
func (s *selection) pass(r merge.Record) bool {
	for _, c := range s.cuts {
		if c.slot >= len(r.Values) {
			return false
		}
		v := r.Values[c.slot]
		if !v.Valid() {
			return false
		}
		x := float64(v.Int32())
		if v.Type() == value.Float32 {
			x = float64(v.Float32())
		}
		hit := false
		for _, rg := range c.ranges {
			if rg.contains(x) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

// Columns returns the value columns Run would write for cfg and opts.
func Columns(cfg *schema.Configuration, opts Options) ([]Column, error) {
	sel, err := selectColumns(cfg, opts)
	if err != nil {
		return nil, err
	}
	return sel.cols, nil
}

// Run drains src and writes one row per kept record of the selected branch.
// w is always closed, and its error is returned when nothing failed earlier.
func Run(ctx context.Context, src Source, opts Options, w Writer) (st Stats, err error) {
	job := opts.Job
	if job == "" {
		job = "treemerge"
	}
	start := time.Now()
	defer func() {
		metrics.RecordStep(job, "flatten", err, time.Since(start))
		metrics.RecordRow(job, "flat", st.Rows)
	}()

	sel, err := selectColumns(src.Configuration(), opts)
	if err != nil {
		return st, err
	}
	if err := w.Begin(ctx, sel.cols); err != nil {
		return st, fmt.Errorf("flatten: begin: %w", err)
	}
	defer func() {
		if cerr := w.Close(ctx); cerr != nil && err == nil {
			err = fmt.Errorf("flatten: close: %w", cerr)
		}
	}()

	// vals is reused for every row; writers copy what they keep.
	vals := make([]value.Value, len(sel.slots))
	for src.Next() {
		if err := ctx.Err(); err != nil {
			return st, fmt.Errorf("flatten: %w", err)
		}
		ev := src.Event()
		st.Events++
		for _, r := range ev.Records(sel.branch) {
			st.Records++
			if !sel.pass(r) {
				continue
			}
			for i, slot := range sel.slots {
				if slot < len(r.Values) {
					vals[i] = r.Values[slot]
				} else {
					vals[i] = value.Null(sel.cols[i].Type)
				}
			}
			row := Row{Partition: ev.Partition, Event: ev.Global, ID: r.ID, Values: vals}
			if err := w.WriteRow(ctx, row); err != nil {
				return st, fmt.Errorf("flatten: write: %w", err)
			}
			st.Rows++
		}
	}
	if err := src.Err(); err != nil {
		return st, fmt.Errorf("flatten: read: %w", err)
	}

	log.Printf("flatten: branch=%s columns=%d events=%s records=%s rows=%s elapsed=%s",
		sel.branch, len(sel.cols), humanize.Comma(st.Events), humanize.Comma(st.Records),
		humanize.Comma(st.Rows), time.Since(start).Truncate(time.Millisecond))
	return st, nil
}
