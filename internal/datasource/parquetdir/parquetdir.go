// Package parquetdir reads partitions stored as directories of Parquet
// files: <root>/<partition>/<table>.parquet.
//
// A file is read whole with pqarrow and re-chunked into record batches of
// readChunk rows, which arrowtab accumulates into one in-memory table. The
// Parquet physical types are mapped through their Arrow equivalents, so the
// supported set is the one arrowtab supports.
package parquetdir

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"treemerge/internal/arrowtab"
	"treemerge/internal/datasource"
	"treemerge/internal/datasource/file"
	"treemerge/internal/table"
)

const (
	// Ext is the table file extension.
	Ext = ".parquet"

	// readChunk is the batch size used to walk the Arrow table.
	readChunk = 64 * 1024
)

// init registers the "parquet" kind; cfg.Path is the root directory.
func init() {
	datasource.Register("parquet", func(ctx context.Context, cfg datasource.Config) (datasource.Container, error) {
		return Open(ctx, cfg.Path)
	})
}

// Container is a directory of partitions.
type Container struct {
	datasource.Dir
	mem memory.Allocator
}

// Open validates that root is readable.
func Open(ctx context.Context, root string) (*Container, error) {
	c := &Container{Dir: datasource.Dir{Root: root, Ext: Ext}, mem: memory.DefaultAllocator}
	if _, err := c.Dir.Partitions(ctx); err != nil {
		return nil, fmt.Errorf("parquetdir: %w", err)
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

// Close is a no-op.
func (c *Container) Close() error { return nil }

type partition struct {
	c    *Container
	name string
	dir  string
}

func (p *partition) Name() string { return p.name }

func (p *partition) Tables(context.Context) ([]string, error) { return p.c.Dir.Tables(p.dir) }

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

	tbl, err := pqarrow.ReadTable(ctx, f, parquet.NewReaderProperties(p.c.mem), pqarrow.ArrowReadProperties{}, p.c.mem)
	if err != nil {
		return nil, fmt.Errorf("parquetdir: read %s: %w", path, err)
	}
	defer tbl.Release()

	tr := array.NewTableReader(tbl, readChunk)
	defer tr.Release()

	acc := arrowtab.NewAccumulator(name, tbl.Schema())
	for tr.Next() {
		if err := acc.Append(tr.Record()); err != nil {
			return nil, err
		}
	}
	if err := tr.Err(); err != nil {
		return nil, fmt.Errorf("parquetdir: %s: %w", path, err)
	}
	return acc.Table()
}

func (p *partition) Close() error { return nil }
