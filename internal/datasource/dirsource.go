package datasource

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Dir lists partitions laid out as subdirectories of a root, with one file
// per table named <table><ext>. File-based sources embed it.
type Dir struct {
	// Root holds one subdirectory per partition.
	Root string
	// Ext is the table file extension, including the dot.
	Ext string
}

// Partitions returns the sorted subdirectory names of Root.
func (d Dir) Partitions(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(d.Root)
	if err != nil {
		return nil, fmt.Errorf("datasource: list %s: %w", d.Root, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// PartitionDir returns the directory of the named partition.
func (d Dir) PartitionDir(name string) (string, error) {
	dir := filepath.Join(d.Root, name)
	st, err := os.Stat(dir)
	if err != nil || !st.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrPartitionNotFound, name)
	}
	return dir, nil
}

// Tables returns the sorted table names found in dir.
func (d Dir) Tables(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("datasource: list %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), d.Ext) {
			out = append(out, strings.TrimSuffix(e.Name(), d.Ext))
		}
	}
	sort.Strings(out)
	return out, nil
}

// TablePath returns the file backing table in dir, or ErrTableNotFound.
func (d Dir) TablePath(dir, table string) (string, error) {
	p := filepath.Join(dir, table+d.Ext)
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrTableNotFound, table)
		}
		return "", fmt.Errorf("datasource: stat %s: %w", p, err)
	}
	return p, nil
}
