// Package arrowdir reads partitions stored as directories of Arrow IPC
// stream files: <root>/<partition>/<table>.arrow.
//
// Each file is one table. Record batches are appended in stream order into
// a single in-memory table through arrowtab, which maps Arrow types onto
// source types (float32, int32, int16, int8) and keeps every other column as
// Unsupported. Partitions are the sorted subdirectories of the root.
package arrowdir

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"treemerge/internal/arrowtab"
	"treemerge/internal/datasource"
	"treemerge/internal/datasource/file"
	"treemerge/internal/table"
)

// Ext is the table file extension.
const Ext = ".arrow"

// init registers the "arrow" kind; cfg.Path is the root directory.
func init() {
	datasource.Register("arrow", func(ctx context.Context, cfg datasource.Config) (datasource.Container, error) {
		return Open(ctx, cfg.Path)
	})
}

// Container is a directory of partitions.
type Container struct {
	datasource.Dir
	// mem backs every reader opened by the container.
	mem memory.Allocator
}

// Open validates that root is readable.
func Open(ctx context.Context, root string) (*Container, error) {
	c := &Container{Dir: datasource.Dir{Root: root, Ext: Ext}, mem: memory.DefaultAllocator}
	if _, err := c.Dir.Partitions(ctx); err != nil {
		return nil, fmt.Errorf("arrowdir: %w", err)
	}
	return c, nil
}

// Partition returns the named partition, or ErrPartitionNotFound.
func (c *Container) Partition(ctx context.Context, name string) (datasource.Partition, error) {
	dir, err := c.PartitionDir(name)
	if err != nil {
		return nil, err
	}
	return &partition{c: c, name: name, dir: dir}, nil
}

// Close is a no-op; files are closed after each table read.
func (c *Container) Close() error { return nil }

type partition struct {
	c    *Container
	name string
	dir  string
}

func (p *partition) Name() string { return p.name }

func (p *partition) Tables(context.Context) ([]string, error) { return p.c.Dir.Tables(p.dir) }

// Table reads the whole stream of name. Cancellation is checked between
// record batches.
func (p *partition) Table(ctx context.Context, name string) (*table.Table, error) {
	path, err := p.c.TablePath(p.dir, name)
	if err != nil {
		return nil, err
	}
	f, err := file.NewLocal(path).Open(ctx)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rdr, err := ipc.NewReader(f, ipc.WithAllocator(p.c.mem))
	if err != nil {
		return nil, fmt.Errorf("arrowdir: %s: %w", path, err)
	}
	defer rdr.Release()

	acc := arrowtab.NewAccumulator(name, rdr.Schema())
	for rdr.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := acc.Append(rdr.Record()); err != nil {
			return nil, err
		}
	}
	if err := rdr.Err(); err != nil {
		return nil, fmt.Errorf("arrowdir: %s: %w", path, err)
	}
	return acc.Table()
}

func (p *partition) Close() error { return nil }
