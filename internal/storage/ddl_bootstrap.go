package storage

import (
	"context"
	"fmt"
	"sync"

	"treemerge/internal/ddl"
)

// DDLBootstrapper creates def through repo if it does not exist yet, using
// the backend's dialect.
type DDLBootstrapper func(ctx context.Context, repo Repository, def ddl.TableDef) error

// Registry of bootstrappers by kind.
var (
	ddlMu  sync.RWMutex
	ddlFns = map[string]DDLBootstrapper{}
)

// RegisterDDL registers (or replaces) the bootstrapper for kind. Backends call
// it from init next to Register.
func RegisterDDL(kind string, fn DDLBootstrapper) {
	ddlMu.Lock()
	defer ddlMu.Unlock()
	ddlFns[kind] = fn
}

// EnsureTable creates def with the bootstrapper registered for kind. It is
// idempotent: an existing table is left as is, even when its columns differ
// from def.
func EnsureTable(ctx context.Context, kind string, repo Repository, def ddl.TableDef) error {
	ddlMu.RLock()
	fn, ok := ddlFns[kind]
	ddlMu.RUnlock()
	if !ok {
		return fmt.Errorf("storage: no DDL bootstrapper registered for kind=%q", kind)
	}
	if err := fn(ctx, repo, def); err != nil {
		return fmt.Errorf("storage: ensure table %s: %w", def.FQN, err)
	}
	return nil
}
