package parquetdir

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"treemerge/internal/arrowtab"
	"treemerge/internal/table"
)

// WriteTable stores t as <root>/<partition>/<t.Name()>.parquet, creating
// the partition directory when needed. The Arrow schema is stored in the file
// so that integer widths survive the round trip.
func WriteTable(root, partition string, t *table.Table) error {
	dir := filepath.Join(root, partition)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("parquetdir: mkdir %s: %w", dir, err)
	}
	f, err := os.Create(filepath.Join(dir, t.Name()+Ext))
	if err != nil {
		return fmt.Errorf("parquetdir: create: %w", err)
	}
	defer f.Close()

	rec := arrowtab.ToRecord(t, memory.DefaultAllocator)
	defer rec.Release()

	props := parquet.NewWriterProperties(parquet.WithCreatedBy("treemerge"))
	w, err := pqarrow.NewFileWriter(rec.Schema(), f, props, pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		return fmt.Errorf("parquetdir: new writer: %w", err)
	}
	if err := w.Write(rec); err != nil {
		_ = w.Close()
		return fmt.Errorf("parquetdir: write %s: %w", t.Name(), err)
	}
	return w.Close()
}
