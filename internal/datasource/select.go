package datasource

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"treemerge/internal/table"
)

// DefaultSkip lists bookkeeping entries that are never partitions.
var DefaultSkip = []string{"parentFiles"}

// Select picks the partitions to process. With an include list, its order
// wins and every name must exist; otherwise all partitions are kept in
// container order. Names in skip are dropped in both cases.
func Select(all, include, skip []string) ([]string, error) {
	skipped := make(map[string]struct{}, len(skip))
	for _, s := range skip {
		skipped[s] = struct{}{}
	}
	if len(include) == 0 {
		out := make([]string, 0, len(all))
		for _, p := range all {
			if _, ok := skipped[p]; !ok {
				out = append(out, p)
			}
		}
		return out, nil
	}

	// Explicit selections must name existing partitions.
	present := make(map[string]struct{}, len(all))
	for _, p := range all {
		present[p] = struct{}{}
	}
	out := make([]string, 0, len(include))
	for _, p := range include {
		if _, ok := present[p]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrPartitionNotFound, p)
		}
		if _, ok := skipped[p]; !ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// LoadTables loads the named tables of p. With workers > 1 the tables are
// read concurrently; the first error cancels the rest.
//
// The returned map is keyed by table name and complete on success. Errors
// are wrapped with the partition name and keep the source's sentinel (for
// example ErrTableNotFound) visible to errors.Is.
func LoadTables(ctx context.Context, p Partition, names []string, workers int) (map[string]*table.Table, error) {
	if workers < 1 {
		workers = 1
	}
	loaded := make([]*table.Table, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			t, err := p.Table(gctx, name)
			if err != nil {
				return fmt.Errorf("partition %s: %w", p.Name(), err)
			}
			loaded[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Results were written by index; no lock is needed after Wait.
	out := make(map[string]*table.Table, len(names))
	for i, name := range names {
		out[name] = loaded[i]
	}
	return out, nil
}
