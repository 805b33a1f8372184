// Package sqlite implements a SQLite-backed storage.Repository using
// database/sql and the pure-Go modernc driver. SQLite has no bulk-load API,
// so CopyFrom runs a prepared INSERT per row inside one transaction.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"treemerge/internal/storage/sqlutil"
)

// Config holds SQLite connection settings.
type Config struct {
	// DSN is passed to database/sql, e.g. "out.db" or ":memory:".
	DSN string
}

// Repository is a SQLite-backed storage.Repository.
type Repository struct {
	db  *sql.DB
	ins sqlutil.Inserter
}

// NewRepository opens cfg.DSN and returns a Repository plus a close function.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, nil, fmt.Errorf("sqlite: DSN must not be empty")
	}
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One writer; also keeps a ":memory:" database on a single connection.
	db.SetMaxOpenConns(1)
	if err := sqlutil.Ping(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return New(db), func() { _ = db.Close() }, nil
}

// New wraps an already open database.
func New(db *sql.DB) *Repository {
	return &Repository{
		db:  db,
		ins: sqlutil.Inserter{DB: db, Name: "sqlite", Quote: sqlutil.QuoteDouble},
	}
}

// DB exposes the underlying handle.
func (r *Repository) DB() *sql.DB { return r.db }

// CopyFrom inserts rows into table in one transaction.
func (r *Repository) CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	return r.ins.CopyFrom(ctx, table, columns, rows)
}

// Exec runs one statement, typically DDL.
func (r *Repository) Exec(ctx context.Context, sqlText string) error {
	return r.ins.Exec(ctx, sqlText)
}
