// Package mysql provides a MySQL-backed storage.Repository on
// go-sql-driver/mysql. Inserts run as prepared statements in one transaction.
package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"treemerge/internal/storage/sqlutil"
)

// Config holds MySQL connection settings.
type Config struct {
	DSN string // e.g. "user:pass@tcp(localhost:3306)/treemerge"
}

// Repository is a MySQL-backed storage.Repository.
type Repository struct {
	ins sqlutil.Inserter
}

// NewRepository validates and opens cfg.DSN and returns a close function.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	if _, err := mysql.ParseDSN(cfg.DSN); err != nil {
		return nil, nil, fmt.Errorf("mysql: dsn: %w", err)
	}
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("mysql: open: %w", err)
	}
	if err := sqlutil.Ping(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("mysql: ping: %w", err)
	}
	return New(db), func() { _ = db.Close() }, nil
}

// New wraps an already open database.
func New(db *sql.DB) *Repository {
	return &Repository{ins: sqlutil.Inserter{DB: db, Name: "mysql", Quote: sqlutil.QuoteBacktick}}
}

// CopyFrom inserts rows into table in one transaction.
func (r *Repository) CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	return r.ins.CopyFrom(ctx, table, columns, rows)
}

// Exec runs one statement.
func (r *Repository) Exec(ctx context.Context, sqlText string) error {
	return r.ins.Exec(ctx, sqlText)
}
