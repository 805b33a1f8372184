package duckdb

import (
	"context"

	"treemerge/internal/storage"
)

// newRepository is a test hook that points to NewRepository by default.
var newRepository = NewRepository

var _ storage.Repository = (*wrappedRepo)(nil)

// init registers the "duckdb" kind and its DDL bootstrapper.
func init() {
	storage.Register("duckdb", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		r, closeFn, err := newRepository(ctx, Config{DSN: cfg.DSN})
		if err != nil {
			return nil, err
		}
		return &wrappedRepo{Repository: r, closeFn: closeFn}, nil
	})
	storage.RegisterDDL("duckdb", EnsureTable)
}

// wrappedRepo adapts *Repository to storage.Repository.
type wrappedRepo struct {
	*Repository
	closeFn func()
}

// Close releases the underlying handle.
func (w *wrappedRepo) Close() {
	if w.closeFn != nil {
		w.closeFn()
	}
}
