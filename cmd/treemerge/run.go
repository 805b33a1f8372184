package main

import (
	"context"
	"fmt"

	"treemerge/internal/config"
	"treemerge/internal/datasource"
	"treemerge/internal/merge"
	"treemerge/internal/output/arrowipc"
	"treemerge/internal/output/sqlsink"
	"treemerge/internal/schema"
	"treemerge/internal/storage"

	// every source and storage kind is selectable from the config.
	_ "treemerge/internal/datasource/all"
	_ "treemerge/internal/storage/all"
)

// Seams for tests.
var (
	openSource = datasource.Open
	openRepo   = storage.New
)

// sources opens the configured container and resolves the partitions to
// merge.
func sources(ctx context.Context, p config.Pipeline) (datasource.Container, []string, error) {
	src, err := openSource(ctx, datasource.Config{Kind: p.Source.Kind, Path: p.Source.Path})
	if err != nil {
		return nil, nil, fmt.Errorf("open source: %w", err)
	}
	include, err := p.Source.PartitionList()
	if err != nil {
		src.Close()
		return nil, nil, err
	}
	all, err := src.Partitions(ctx)
	if err != nil {
		src.Close()
		return nil, nil, fmt.Errorf("list partitions: %w", err)
	}
	selected, err := datasource.Select(all, include, p.Source.SkipPartitions)
	if err != nil {
		src.Close()
		return nil, nil, err
	}
	return src, selected, nil
}

// newSink builds the configured sink. The returned release func closes
// whatever the sink depends on and must run after the sink is closed.
func newSink(ctx context.Context, p config.Pipeline) (merge.Sink, func(), error) {
	if p.Output.IsArrow() {
		s, err := arrowipc.New(arrowipc.Options{
			Path:          p.Output.Path,
			BatchSize:     p.Runtime.BatchSize,
			SentinelNulls: p.Output.SentinelNulls,
			Job:           p.Job,
		})
		return s, func() {}, err
	}

	repo, err := openRepo(ctx, storage.Config{Kind: p.Output.Kind, DSN: p.Output.DSN})
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}
	s, err := sqlsink.New(repo, sqlsink.Options{
		Kind:          p.Output.Kind,
		TablePrefix:   p.Output.TablePrefix,
		AutoCreate:    p.Output.AutoCreateTables,
		BatchSize:     p.Runtime.BatchSize,
		SentinelNulls: p.Output.SentinelNulls,
		Job:           p.Job,
	})
	if err != nil {
		repo.Close()
		return nil, nil, err
	}
	return s, repo.Close, nil
}

// run merges the configured source into the configured output. The sink is
// closed even when the merge fails.
func run(ctx context.Context, p config.Pipeline) (merge.Stats, error) {
	d, err := merge.New(p.MergeOptions())
	if err != nil {
		return merge.Stats{}, err
	}
	src, partitions, err := sources(ctx, p)
	if err != nil {
		return merge.Stats{}, err
	}
	defer src.Close()

	sink, release, err := newSink(ctx, p)
	if err != nil {
		return merge.Stats{}, err
	}
	defer release()

	st, err := d.Run(ctx, src, partitions, sink)
	if cerr := sink.Close(ctx); err == nil && cerr != nil {
		err = fmt.Errorf("close output: %w", cerr)
	}
	return st, err
}

// discover returns the field layout a run of p would produce, read from the
// first selected partition.
func discover(ctx context.Context, p config.Pipeline) (*schema.Configuration, error) {
	src, partitions, err := sources(ctx, p)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	if len(partitions) == 0 {
		return nil, fmt.Errorf("discover: no partitions selected")
	}
	return merge.Discover(ctx, p.MergeOptions(), src, partitions[0])
}
