// Package datasource opens partitioned inputs. A Container holds named
// partitions; each partition holds named physical tables that are loaded
// fully into memory as table.Table values.
//
// Kinds:
//
//	arrow    directory of partitions, one Arrow IPC stream per table
//	parquet  directory of partitions, one Parquet file per table
//	sqlite   one database, tables named "<partition>/<table>"
//
// Implementations register from init; import treemerge/internal/datasource/all
// to enable every kind. Memory is a Container for tests and for callers that
// build tables themselves.
//
// Readers map the four supported storage types onto value.SourceType and
// keep every other column as Unsupported, so a table with extra columns
// still loads. They never convert or truncate values: a stored value that
// does not fit its declared type is ErrValueOutOfRange.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"treemerge/internal/table"
)

var (
	// ErrTableNotFound is returned by Partition.Table for an absent table.
	ErrTableNotFound = errors.New("datasource: table not found")
	// ErrPartitionNotFound is returned for an absent partition.
	ErrPartitionNotFound = errors.New("datasource: partition not found")
	// ErrValueOutOfRange is returned when a stored value does not fit the
	// source type its column declares. Readers never truncate.
	ErrValueOutOfRange = errors.New("datasource: value out of range")
)

// Container is an opened input.
type Container interface {
	// Partitions lists partition names in container order.
	Partitions(ctx context.Context) ([]string, error)
	// Partition opens a partition; an absent one yields ErrPartitionNotFound.
	Partition(ctx context.Context, name string) (Partition, error)
	Close() error
}

// Partition is one directory-like unit of a Container.
type Partition interface {
	Name() string
	// Tables lists the table names in the partition.
	Tables(ctx context.Context) ([]string, error)
	// Table loads the named table. A missing table yields ErrTableNotFound.
	Table(ctx context.Context, name string) (*table.Table, error)
	Close() error
}

// Config selects and locates a source implementation.
type Config struct {
	// Kind is a registered kind, see ListKinds.
	Kind string
	// Path is a directory or a database file, depending on Kind.
	Path string
}

// Factory opens a Container for cfg.
type Factory func(ctx context.Context, cfg Config) (Container, error)

// Registry of factories by kind.
var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register installs (or replaces) the factory for kind. Source packages call
// it from init.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = f
}

// Open opens cfg with the factory registered for cfg.Kind.
func Open(ctx context.Context, cfg Config) (Container, error) {
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("datasource: unknown kind %q (registered: %v)", cfg.Kind, ListKinds())
	}
	return f(ctx, cfg)
}

// ListKinds returns the registered kinds, sorted.
func ListKinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
