// Package file opens local source files and reads partition list files.
//
// Table files are read start to end exactly once, so Open hints sequential
// access to the kernel where the platform supports it (posix_fadvise on
// Linux); elsewhere the hint is a no-op.
package file

import (
	"context"
	"fmt"
	"os"
)

// Local is a single file on the local disk.
type Local struct{ path string }

// NewLocal returns a Local bound to path. It is safe for concurrent use.
func NewLocal(path string) *Local { return &Local{path: path} }

// Path returns the file path.
func (l *Local) Path() string { return l.path }

// Open opens the file for a sequential scan. A context that is already done
// short-circuits without touching the filesystem. Filesystem errors are
// wrapped with the path and still match errors.Is(err, os.ErrNotExist).
func (l *Local) Open(ctx context.Context) (*os.File, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", l.path, err)
	}
	adviseSequential(f)
	return f, nil
}
