package main

import (
	"context"
	"errors"
	"fmt"

	"treemerge/internal/flatten"
	"treemerge/internal/output/arrowipc"
	"treemerge/internal/storage"

	_ "treemerge/internal/storage/all"
)

// openRepo is replaced in tests.
var openRepo = storage.New

// args are the parsed command-line settings.
type args struct {
	// input is a stream written by the treemerge arrow output.
	input string
	opts  flatten.Options

	output string
	format string

	storageKind string
	dsn         string
	table       string
	autoCreate  bool

	batchSize     int
	sentinelNulls bool
}

// validate checks flag combinations; exactly one of -output and -storage is
// required.
func (a args) validate() error {
	if a.input == "" {
		return errors.New("-input is required")
	}
	switch {
	case a.output != "" && a.storageKind != "":
		return errors.New("-output and -storage are mutually exclusive")
	case a.output == "" && a.storageKind == "":
		return errors.New("one of -output or -storage is required")
	case a.storageKind != "" && (a.dsn == "" || a.table == ""):
		return errors.New("-storage needs -dsn and -table")
	}
	return nil
}

// newWriter builds the writer a selects and a release func for whatever it
// holds open beyond the writer itself.
func newWriter(ctx context.Context, a args) (flatten.Writer, func(), error) {
	if a.storageKind == "" {
		w, err := flatten.NewFileWriter(flatten.FileOptions{
			Path:          a.output,
			Format:        a.format,
			BatchSize:     a.batchSize,
			SentinelNulls: a.sentinelNulls,
		})
		return w, func() {}, err
	}
	repo, err := openRepo(ctx, storage.Config{Kind: a.storageKind, DSN: a.dsn})
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}
	w, err := flatten.NewTableWriter(repo, flatten.TableOptions{
		Kind:          a.storageKind,
		Table:         a.table,
		AutoCreate:    a.autoCreate,
		BatchSize:     a.batchSize,
		SentinelNulls: a.sentinelNulls,
		Job:           a.opts.Job,
	})
	if err != nil {
		repo.Close()
		return nil, nil, err
	}
	return w, repo.Close, nil
}

// run opens the merged input, which verifies its stored fingerprint, and
// streams the selected branch into the writer.
func run(ctx context.Context, a args) (flatten.Stats, error) {
	rd, err := arrowipc.Open(a.input)
	if err != nil {
		return flatten.Stats{}, err
	}
	defer rd.Close()

	w, release, err := newWriter(ctx, a)
	if err != nil {
		return flatten.Stats{}, err
	}
	defer release()
	return flatten.Run(ctx, rd, a.opts, w)
}
