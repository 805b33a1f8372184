// Package inspect describes a partitioned source before it is merged: which
// partitions and tables it holds, the columns and types of every table, and
// whether the tables the merge layout expects are present and consistent.
// A report can seed a starter pipeline configuration.
//
// Inspect reads every selected table in full, so it costs about as much I/O
// as a merge; Options.Limit bounds it. It never fails on layout problems:
// those are listed per partition in Partition.Problems, while I/O errors and
// an unknown partition in Options.Partitions abort the report.
//
// Checks mirror what the merge driver rejects:
//
//  1. A table the layout names is missing (EventMetadataOnly tables only
//     count when event metadata is enabled).
//  2. A column has no supported type and is not removed by the filter.
//  3. Lock-step tables (Candidates and, with simulation, Simulated) or the
//     tables of one entity disagree on row count.
package inspect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"treemerge/internal/config"
	"treemerge/internal/datasource"
	"treemerge/internal/merge"
	"treemerge/internal/schema"
	"treemerge/internal/table"
	"treemerge/internal/value"
)

// Column describes one source column.
type Column struct {
	Name string `json:"name" yaml:"name"`
	// Type is the source type tag, "unsupported" when it has no mapping.
	Type string `json:"type" yaml:"type"`
	// Native is the type the container declared, for unsupported columns.
	Native string `json:"native,omitempty" yaml:"native,omitempty"`
	// Nulls counts null rows.
	Nulls     int  `json:"nulls" yaml:"nulls"`
	Supported bool `json:"supported" yaml:"supported"`
}

// Table describes one physical table of a partition.
type Table struct {
	Name string `json:"name" yaml:"name"`
	// Entity is the merged entity the layout assigns the table to, if any.
	Entity  string   `json:"entity,omitempty" yaml:"entity,omitempty"`
	Rows int `json:"rows" yaml:"rows"`
	// Columns are in the table's own order.
	Columns []Column `json:"columns" yaml:"columns"`
}

// Partition describes one partition. Problems lists layout violations that
// would make a merge of this partition fail.
type Partition struct {
	Name     string   `json:"name" yaml:"name"`
	Tables   []Table  `json:"tables" yaml:"tables"`
	Problems []string `json:"problems,omitempty" yaml:"problems,omitempty"`
}

// Report is the result of Inspect.
type Report struct {
	// Partitions are in selection order.
	Partitions []Partition `json:"partitions" yaml:"partitions"`
	// Skipped are partitions present in the source but not selected.
	Skipped []string `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	// Configuration is the layout a merge would discover on the first
	// partition; nil when discovery failed or was not requested.
	Configuration *schema.Configuration `json:"configuration,omitempty" yaml:"configuration,omitempty"`
	// DiscoveryErr is the discovery failure as text.
	DiscoveryErr string `json:"discovery_error,omitempty" yaml:"discovery_error,omitempty"`
}

// Options configure Inspect.
type Options struct {
	// Layout names the tables to look for and their entities.
	Layout merge.Layout
	// Partitions restricts the report; empty means all.
	Partitions []string
	// Skip lists partitions never described; nil means datasource.DefaultSkip.
	Skip []string
	// Limit caps the number of partitions described; <= 0 is unbounded.
	Limit int
	// Discover runs layout discovery with Merge on the first described
	// partition.
	Discover bool
	// Merge supplies the filter, name style and enabled entities used by
	// the checks and by discovery.
	Merge merge.Options
}

// Inspect describes the selected partitions of src in order. Partitions not
// selected are listed in Report.Skipped.
func Inspect(ctx context.Context, src datasource.Container, opts Options) (Report, error) {
	var rep Report
	all, err := src.Partitions(ctx)
	if err != nil {
		return rep, fmt.Errorf("inspect: list partitions: %w", err)
	}
	skip := opts.Skip
	if skip == nil {
		skip = datasource.DefaultSkip
	}
	selected, err := datasource.Select(all, opts.Partitions, skip)
	if err != nil {
		return rep, fmt.Errorf("inspect: %w", err)
	}
	if opts.Limit > 0 && len(selected) > opts.Limit {
		selected = selected[:opts.Limit]
	}
	kept := make(map[string]bool, len(selected))
	for _, p := range selected {
		kept[p] = true
	}
	for _, p := range all {
		if !kept[p] {
			rep.Skipped = append(rep.Skipped, p)
		}
	}

	roles := entityOf(opts.Layout)
	for _, name := range selected {
		pr, err := describe(ctx, src, name, roles)
		if err != nil {
			return rep, err
		}
		pr.Problems = check(pr, opts.Layout, opts.Merge)
		rep.Partitions = append(rep.Partitions, pr)
	}

	if opts.Discover && len(selected) > 0 {
		mopts := opts.Merge
		mopts.Layout = opts.Layout
		cfg, err := merge.Discover(ctx, mopts, src, selected[0])
		if err != nil {
			rep.DiscoveryErr = err.Error()
		} else {
			rep.Configuration = cfg
		}
	}
	log.Printf("inspect: partitions=%d skipped=%d", len(rep.Partitions), len(rep.Skipped))
	return rep, nil
}

// entityOf maps every layout table name onto its entity.
func entityOf(l merge.Layout) map[string]string {
	out := map[string]string{}
	for _, e := range []struct {
		name string
		l    merge.EntityLayout
	}{
		{merge.BranchEvents, l.Events},
		{merge.BranchCandidates, l.Candidates},
		{merge.BranchSimulated, l.Simulated},
		{merge.BranchGenerated, l.Generated},
	} {
		for _, t := range e.l.Tables {
			out[t.Name] = e.name
		}
	}
	return out
}

// describe loads every table of partition name, sorted by table name.
func describe(ctx context.Context, src datasource.Container, name string, roles map[string]string) (Partition, error) {
	pr := Partition{Name: name}
	p, err := src.Partition(ctx, name)
	if err != nil {
		return pr, fmt.Errorf("inspect: %w", err)
	}
	defer p.Close()

	names, err := p.Tables(ctx)
	if err != nil {
		return pr, fmt.Errorf("inspect: partition %s: %w", name, err)
	}
	sort.Strings(names)
	for _, tn := range names {
		t, err := p.Table(ctx, tn)
		if err != nil {
			return pr, fmt.Errorf("inspect: partition %s: %w", name, err)
		}
		pr.Tables = append(pr.Tables, describeTable(t, roles[tn]))
	}
	return pr, nil
}

// describeTable summarizes t.
func describeTable(t *table.Table, entity string) Table {
	out := Table{Name: t.Name(), Entity: entity, Rows: t.NumRows()}
	for _, info := range t.Columns() {
		c, _ := t.Column(info.Name)
		out.Columns = append(out.Columns, Column{
			Name:      info.Name,
			Type:      info.Type.String(),
			Native:    info.Native,
			Nulls:     c.NullCount(),
			Supported: info.Type != value.Unsupported,
		})
	}
	return out
}

// check reports what a merge with l and opts would reject in pr.
func check(pr Partition, l merge.Layout, opts merge.Options) []string {
	byName := make(map[string]Table, len(pr.Tables))
	for _, t := range pr.Tables {
		byName[t.Name] = t
	}
	var problems []string

	active := func(specs []merge.TableSpec) []Table {
		var out []Table
		for _, s := range specs {
			if s.EventMetadataOnly && !opts.IncludeEventMetadata {
				continue
			}
			t, ok := byName[s.Name]
			if !ok {
				problems = append(problems, fmt.Sprintf("missing table %s", s.Name))
				continue
			}
			for _, c := range t.Columns {
				if c.Supported || opts.Filter.Skip(opts.NameStyle.OutputName(s.Prefix, c.Name)) {
					continue
				}
				problems = append(problems, fmt.Sprintf("unsupported column %s.%s (%s)", t.Name, c.Name, c.Native))
			}
			out = append(out, t)
		}
		return out
	}
	sameRows := func(what string, ts []Table) {
		for _, t := range ts[min(1, len(ts)):] {
			if t.Rows != ts[0].Rows {
				problems = append(problems, fmt.Sprintf("%s row counts differ: %s=%d %s=%d", what, ts[0].Name, ts[0].Rows, t.Name, t.Rows))
			}
		}
	}

	// Candidates and simulated rows pair up by position.
	lockstep := active(l.Candidates.Tables)
	if opts.IncludeSimulation {
		lockstep = append(lockstep, active(l.Simulated.Tables)...)
	}
	sameRows("lock-step", lockstep)
	if opts.IncludeEventMetadata {
		sameRows("events", active(l.Events.Tables))
	}
	if opts.IncludeSimulation {
		sameRows("generated", active(l.Generated.Tables))
	}
	return problems
}

// Suggest returns a starter pipeline for the inspected source: the layout
// tables present in the first partition decide whether event metadata and
// simulation are enabled.
func Suggest(rep Report, src config.Source, l merge.Layout) (config.Pipeline, error) {
	if len(rep.Partitions) == 0 {
		return config.Pipeline{}, errors.New("inspect: no partitions to suggest from")
	}
	present := map[string]bool{}
	for _, t := range rep.Partitions[0].Tables {
		present[t.Name] = true
	}
	has := func(e merge.EntityLayout) bool {
		if len(e.Tables) == 0 {
			return false
		}
		for _, t := range e.Tables {
			if !present[t.Name] {
				return false
			}
		}
		return true
	}

	layout := config.LayoutFrom(l)
	p := config.Pipeline{
		Job:                  "treemerge",
		IncludeEventMetadata: has(l.Events),
		IncludeSimulation:    has(l.Simulated),
		Source:               config.Source{Kind: src.Kind, Path: src.Path},
		Layout:               &layout,
		Output:               config.Output{Kind: config.OutputArrow, Path: "merged.arrow"},
	}
	config.ApplyDefaults(&p)
	return p, nil
}

// Print writes rep as aligned text.
func Print(w io.Writer, rep Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, p := range rep.Partitions {
		fmt.Fprintf(tw, "Partition %s\n", p.Name)
		for _, t := range p.Tables {
			entity := t.Entity
			if entity == "" {
				entity = "-"
			}
			fmt.Fprintf(tw, "  %s\t%s\trows=%s\tcolumns=%d\n", t.Name, entity, humanize.Comma(int64(t.Rows)), len(t.Columns))
			for _, c := range t.Columns {
				fmt.Fprintf(tw, "    %s\t%s\tnulls=%d\n", c.Name, c.Type, c.Nulls)
			}
		}
		for _, pb := range p.Problems {
			fmt.Fprintf(tw, "  problem: %s\n", pb)
		}
	}
	if len(rep.Skipped) > 0 {
		fmt.Fprintf(tw, "Skipped: %v\n", rep.Skipped)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if rep.DiscoveryErr != "" {
		_, err := fmt.Fprintf(w, "Discovery failed: %s\n", rep.DiscoveryErr)
		return err
	}
	if rep.Configuration != nil {
		return rep.Configuration.Print(w)
	}
	return nil
}
