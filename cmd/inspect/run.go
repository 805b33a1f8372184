package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"treemerge/internal/config"
	"treemerge/internal/datasource"
	"treemerge/internal/inspect"
	"treemerge/internal/merge"

	_ "treemerge/internal/datasource/all"
)

// openSource is replaced in tests.
var openSource = datasource.Open

// args are the parsed command-line settings.
type args struct {
	configPath string
	kind       string
	path       string
	partitions []string
	limit      int

	// simulation and eventMetadata stand in for the pipeline switches when
	// no config file is given.
	simulation    bool
	eventMetadata bool
	discover      bool

	format  string
	suggest bool
}

// pipeline resolves the pipeline the source is inspected for: the config
// file when given, with -kind and -path on top.
func (a args) pipeline() (config.Pipeline, error) {
	var p config.Pipeline
	if a.configPath != "" {
		var err error
		if p, err = config.Load(a.configPath); err != nil {
			return p, err
		}
	} else {
		p.IncludeSimulation = a.simulation
		p.IncludeEventMetadata = a.eventMetadata
	}
	if a.kind != "" {
		p.Source.Kind = a.kind
	}
	if a.path != "" {
		p.Source.Path = a.path
	}
	if len(a.partitions) > 0 {
		p.Source.Partitions, p.Source.PartitionsFile = a.partitions, ""
	}
	if p.Source.Kind == "" || p.Source.Path == "" {
		return p, errors.New("a source kind and path are required (-kind/-path or -config)")
	}
	config.ApplyDefaults(&p)
	return p, nil
}

// run inspects the resolved source and writes the report, or the suggested
// pipeline, to w. Layout problems are part of the report, not errors.
func run(ctx context.Context, a args, w io.Writer) error {
	p, err := a.pipeline()
	if err != nil {
		return err
	}
	include, err := p.Source.PartitionList()
	if err != nil {
		return err
	}
	src, err := openSource(ctx, datasource.Config{Kind: p.Source.Kind, Path: p.Source.Path})
	if err != nil {
		return err
	}
	defer src.Close()

	mopts := p.MergeOptions()
	rep, err := inspect.Inspect(ctx, src, inspect.Options{
		Layout:     mopts.Layout,
		Partitions: include,
		Skip:       p.Source.SkipPartitions,
		Limit:      a.limit,
		Discover:   a.discover,
		Merge:      mopts,
	})
	if err != nil {
		return err
	}

	if a.suggest {
		return suggest(w, rep, p.Source, mopts.Layout)
	}
	switch a.format {
	case "", "text":
		return inspect.Print(w, rep)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(rep)
	default:
		return fmt.Errorf("unknown format %q", a.format)
	}
}

// suggest writes a starter pipeline as YAML with two-space indentation.
func suggest(w io.Writer, rep inspect.Report, src config.Source, l merge.Layout) error {
	p, err := inspect.Suggest(rep, src, l)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return err
	}
	return enc.Close()
}
