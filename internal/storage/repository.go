// Package storage contains the backend-agnostic contract for relational
// sinks, a factory keyed by backend kind, and batching helpers.
//
// Backends (postgres, mssql, sqlite, mysql, duckdb) register themselves from
// init; import treemerge/internal/storage/all to enable all of them.
//
// This file implements the Repository contract and the kind registry.
//
// Contract:
//
//  1. CopyFrom is the only write path. Each backend uses its fastest bulk
//     mechanism (COPY, bulk copy, appender, or a multi-row INSERT) and
//     returns how many rows reached the table, also on error.
//  2. Exec is for DDL and other single statements; it returns no rows.
//  3. Close releases the pool. Repositories are safe for concurrent use by
//     the loader and batchers of one run.
//
// Values passed to CopyFrom are nil (NULL), int32, int64, float32 or
// string; backends do not need to handle other types.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Repository is an open connection to a relational backend.
type Repository interface {
	// CopyFrom bulk-inserts rows (aligned to columns) into table and returns
	// the number of rows written.
	CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)
	// Exec runs a single statement, typically DDL.
	Exec(ctx context.Context, sql string) error
	// Close releases the connection pool.
	Close()
}

// Config selects a backend and its connection string.
type Config struct {
	// Kind selects the registered factory.
	Kind string
	// DSN is passed to the backend's driver unchanged.
	DSN string
}

// Factory opens a Repository for cfg.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

// Registry of factories by kind, filled from backend init functions.
var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register installs (or replaces) the factory for kind.
func Register(kind string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	factories[kind] = f
}

// New opens a Repository with the factory registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	regMu.RLock()
	f, ok := factories[cfg.Kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage: unsupported kind %q (registered: %v)", cfg.Kind, ListKinds())
	}
	return f(ctx, cfg)
}

// ListKinds returns the registered kinds, sorted.
func ListKinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// IsRegistered reports whether kind has a factory.
func IsRegistered(kind string) bool {
	regMu.RLock()
	defer regMu.RUnlock()
	_, ok := factories[kind]
	return ok
}
