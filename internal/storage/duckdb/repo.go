// Package duckdb provides a DuckDB-backed storage.Repository. DuckDB suits
// local analysis of a merged run; inserts go through database/sql.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/duckdb/duckdb-go/v2"

	"treemerge/internal/storage/sqlutil"
)

// Config holds DuckDB settings. An empty DSN opens an in-memory database.
type Config struct {
	DSN string
}

// Repository is a DuckDB-backed storage.Repository.
type Repository struct {
	db  *sql.DB
	ins sqlutil.Inserter
}

// NewRepository opens cfg.DSN and returns a close function.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	db, err := sql.Open("duckdb", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("duckdb: open: %w", err)
	}
	if err := sqlutil.Ping(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("duckdb: ping: %w", err)
	}
	r := &Repository{
		db:  db,
		ins: sqlutil.Inserter{DB: db, Name: "duckdb", Quote: sqlutil.QuoteDouble, Placeholder: sqlutil.DollarPlaceholder},
	}
	return r, func() { _ = db.Close() }, nil
}

// DB exposes the underlying handle.
func (r *Repository) DB() *sql.DB { return r.db }

// CopyFrom inserts rows into table in one transaction.
func (r *Repository) CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	return r.ins.CopyFrom(ctx, table, columns, rows)
}

// Exec runs one statement.
func (r *Repository) Exec(ctx context.Context, sqlText string) error {
	return r.ins.Exec(ctx, sqlText)
}
