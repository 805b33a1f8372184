package postgres

import (
	"context"
	"fmt"

	"treemerge/internal/ddl"
	"treemerge/internal/storage"
	"treemerge/internal/storage/sqlutil"
)

// Dialect renders CREATE TABLE IF NOT EXISTS for Postgres.
var Dialect = ddl.Dialect{Quote: sqlutil.QuoteDouble, MapType: MapType, IfNotExists: true}

// MapType maps a logical kind to a Postgres type. Unknown kinds pass through.
func MapType(kind string) string {
	switch kind {
	case ddl.KindFloat32:
		return "REAL"
	case ddl.KindInt32:
		return "INTEGER"
	case ddl.KindInt64:
		return "BIGINT"
	case ddl.KindText:
		return "TEXT"
	default:
		return kind
	}
}

// EnsureTable creates def unless it exists.
func EnsureTable(ctx context.Context, repo storage.Repository, def ddl.TableDef) error {
	stmt, err := ddl.Render(def, Dialect)
	if err != nil {
		return fmt.Errorf("postgres: render ddl: %w", err)
	}
	return repo.Exec(ctx, stmt)
}
