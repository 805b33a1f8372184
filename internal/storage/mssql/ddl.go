package mssql

import (
	"context"
	"fmt"
	"strings"

	"treemerge/internal/ddl"
	"treemerge/internal/storage"
	"treemerge/internal/storage/sqlutil"
)

// Dialect renders CREATE TABLE for SQL Server. SQL Server has no
// IF NOT EXISTS; CreateSQL guards with OBJECT_ID instead.
var Dialect = ddl.Dialect{Quote: sqlutil.QuoteBracket, MapType: MapType}

// MapType maps a logical kind to a SQL Server type. Unknown kinds pass through.
func MapType(kind string) string {
	switch kind {
	case ddl.KindFloat32:
		return "REAL"
	case ddl.KindInt32:
		return "INT"
	case ddl.KindInt64:
		return "BIGINT"
	case ddl.KindText:
		return "NVARCHAR(255)"
	default:
		return kind
	}
}

// CreateSQL renders def wrapped in an existence check.
func CreateSQL(def ddl.TableDef) (string, error) {
	create, err := ddl.Render(def, Dialect)
	if err != nil {
		return "", err
	}
	name := strings.ReplaceAll(msFQN(def.FQN), "'", "''")
	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL\n%s", name, create), nil
}

// EnsureTable creates def unless it exists.
func EnsureTable(ctx context.Context, repo storage.Repository, def ddl.TableDef) error {
	stmt, err := CreateSQL(def)
	if err != nil {
		return fmt.Errorf("mssql: render ddl: %w", err)
	}
	return repo.Exec(ctx, stmt)
}
