// Package sqlutil holds the database/sql plumbing shared by backends that
// lack a native bulk-load API: quoting helpers and a transactional
// prepared-INSERT CopyFrom.
package sqlutil

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"treemerge/internal/ddl"
)

// PingTimeout bounds the connectivity check in Ping.
const PingTimeout = 5 * time.Second

// Inserter implements CopyFrom and Exec over a *sql.DB.
type Inserter struct {
	// DB is owned by the backend repository.
	DB *sql.DB
	// Name prefixes error messages, e.g. "sqlite".
	Name string
	// Quote quotes one identifier segment.
	Quote func(string) string
	// Placeholder returns the bind marker for the 1-based argument i.
	Placeholder func(i int) string
}

// InsertSQL renders INSERT INTO <table> (<cols>) VALUES (<binds>).
func (in Inserter) InsertSQL(table string, columns []string) string {
	d := ddl.Dialect{Quote: in.Quote}
	cols := make([]string, len(columns))
	binds := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = d.QuoteFQN(c)
		if in.Placeholder != nil {
			binds[i] = in.Placeholder(i + 1)
		} else {
			binds[i] = "?"
		}
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.QuoteFQN(table), strings.Join(cols, ", "), strings.Join(binds, ", "))
}

// CopyFrom inserts rows into table inside one transaction with a single
// prepared statement. Every row must have len(columns) values.
func (in Inserter) CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(columns) == 0 {
		return 0, fmt.Errorf("%s: CopyFrom: columns must not be empty", in.Name)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := in.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: begin tx: %w", in.Name, err)
	}
	stmt, err := tx.PrepareContext(ctx, in.InsertSQL(table, columns))
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("%s: prepare insert: %w", in.Name, err)
	}
	defer stmt.Close()

	// Any failure rolls back the whole batch, so inserted is only returned
	// after commit.
	var inserted int64
	for i, row := range rows {
		if len(row) != len(columns) {
			_ = tx.Rollback()
			return 0, fmt.Errorf("%s: CopyFrom: row %d has %d values, want %d", in.Name, i, len(row), len(columns))
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("%s: insert row %d: %w", in.Name, i, err)
		}
		inserted++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%s: commit: %w", in.Name, err)
	}
	return inserted, nil
}

// Exec runs one statement. Blank statements are a no-op.
func (in Inserter) Exec(ctx context.Context, sqlText string) error {
	if strings.TrimSpace(sqlText) == "" {
		return nil
	}
	if _, err := in.DB.ExecContext(ctx, sqlText); err != nil {
		return fmt.Errorf("%s: exec: %w", in.Name, err)
	}
	return nil
}

// Ping checks connectivity with PingTimeout.
func Ping(ctx context.Context, db *sql.DB) error {
	pingCtx, cancel := context.WithTimeout(ctx, PingTimeout)
	defer cancel()
	return db.PingContext(pingCtx)
}

// QuoteDouble quotes an ANSI identifier, doubling embedded quotes.
func QuoteDouble(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

// QuoteBacktick quotes a MySQL identifier.
func QuoteBacktick(id string) string { return "`" + strings.ReplaceAll(id, "`", "``") + "`" }

// QuoteBracket quotes a SQL Server identifier.
func QuoteBracket(id string) string { return `[` + strings.ReplaceAll(id, `]`, `]]`) + `]` }

// DollarPlaceholder returns $i.
func DollarPlaceholder(i int) string { return fmt.Sprintf("$%d", i) }
