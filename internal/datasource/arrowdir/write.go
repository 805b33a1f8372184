package arrowdir

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"treemerge/internal/arrowtab"
	"treemerge/internal/table"
)

// WriteTable stores t as <root>/<partition>/<t.Name()>.arrow, creating the
// partition directory when needed.
func WriteTable(root, partition string, t *table.Table) error {
	dir := filepath.Join(root, partition)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("arrowdir: mkdir %s: %w", dir, err)
	}
	f, err := os.Create(filepath.Join(dir, t.Name()+Ext))
	if err != nil {
		return fmt.Errorf("arrowdir: create: %w", err)
	}
	defer f.Close()

	rec := arrowtab.ToRecord(t, memory.DefaultAllocator)
	defer rec.Release()

	w := ipc.NewWriter(f, ipc.WithSchema(rec.Schema()))
	if err := w.Write(rec); err != nil {
		_ = w.Close()
		return fmt.Errorf("arrowdir: write %s: %w", t.Name(), err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("arrowdir: close writer: %w", err)
	}
	return f.Close()
}
