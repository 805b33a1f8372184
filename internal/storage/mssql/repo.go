// Package mssql implements a Microsoft SQL Server storage.Repository using
// the go-mssqldb bulk copy API.
package mssql

import (
	"context"
	"database/sql"
	"fmt"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"treemerge/internal/ddl"
	"treemerge/internal/storage/sqlutil"
)

// Config holds MSSQL repository configuration.
type Config struct {
	// DSN is a sqlserver:// URL or an ADO-style connection string.
	DSN string
}

// Repository is an MSSQL-backed storage.Repository.
type Repository struct {
	db *sql.DB
}

// NewRepository validates cfg.DSN, connects, and returns a close function.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	if _, err := msdsn.Parse(cfg.DSN); err != nil {
		return nil, nil, fmt.Errorf("mssql: dsn: %w", err)
	}
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("mssql: open: %w", err)
	}
	if err := sqlutil.Ping(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("mssql: ping: %w", err)
	}
	return &Repository{db: db}, func() { _ = db.Close() }, nil
}

// CopyFrom bulk-inserts rows into table inside one transaction. The row
// count comes from the final bulk flush; on any error the transaction is
// rolled back and 0 is returned.
func (r *Repository) CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("mssql: begin tx: %w", err)
	}
	rollback := func() { _ = tx.Rollback() }

	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(msFQN(table), mssql.BulkOptions{}, columns...))
	if err != nil {
		rollback()
		return 0, fmt.Errorf("mssql: prepare bulk: %w", err)
	}
	// CopyIn buffers rows client-side; the empty Exec below sends them.
	args := make([]any, len(columns))
	for i, row := range rows {
		if len(row) != len(columns) {
			_ = stmt.Close()
			rollback()
			return 0, fmt.Errorf("mssql: bulk row %d has %d values, want %d", i, len(row), len(columns))
		}
		for j, v := range row {
			args[j] = toCopyVal(v)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			_ = stmt.Close()
			rollback()
			return 0, fmt.Errorf("mssql: bulk row %d: %w", i, err)
		}
	}
	res, err := stmt.ExecContext(ctx)
	if cerr := stmt.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		rollback()
		return 0, fmt.Errorf("mssql: bulk finalize: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		rollback()
		return 0, fmt.Errorf("mssql: rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("mssql: commit: %w", err)
	}
	return n, nil
}

// Exec runs one statement.
func (r *Repository) Exec(ctx context.Context, sqlText string) error {
	if _, err := r.db.ExecContext(ctx, sqlText); err != nil {
		return fmt.Errorf("mssql: exec: %w", err)
	}
	return nil
}

// toCopyVal widens 32-bit numerics to the 64-bit forms bulk copy converts
// natively; nil stays nil.
func toCopyVal(v any) any {
	switch x := v.(type) {
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	default:
		return v
	}
}

// msFQN quotes "dbo.table" as "[dbo].[table]".
func msFQN(name string) string {
	return ddl.Dialect{Quote: sqlutil.QuoteBracket}.QuoteFQN(name)
}
