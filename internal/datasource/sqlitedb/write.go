package sqlitedb

import (
	"context"
	"fmt"
	"strings"

	"treemerge/internal/table"
	"treemerge/internal/value"
)

// declaredType is the inverse of SourceType; Unsupported becomes TEXT.
func declaredType(t value.SourceType) string {
	switch t {
	case value.SourceFloat32:
		return "REAL"
	case value.SourceInt32:
		return "INTEGER"
	case value.SourceInt16:
		return "SMALLINT"
	case value.SourceInt8:
		return "TINYINT"
	default:
		return "TEXT"
	}
}

// WriteTable creates "<partition>/<t.Name()>" in the database and copies
// t into it. Unsupported columns are created as TEXT and left NULL.
//
// The copy runs in one transaction with a prepared insert, so a failure
// leaves no partial table behind. Null flags on t are written as NULL,
// which Table reads back as null. The table must not already exist.
func (c *Container) WriteTable(ctx context.Context, partition string, t *table.Table) error {
	full := quoteIdent(partition + Sep + t.Name())
	infos := t.Columns()
	defs := make([]string, len(infos))
	names := make([]string, len(infos))
	marks := make([]string, len(infos))
	for i, info := range infos {
		names[i] = quoteIdent(info.Name)
		defs[i] = names[i] + " " + declaredType(info.Type)
		marks[i] = "?"
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitedb: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", full, strings.Join(defs, ", "))); err != nil {
		return fmt.Errorf("sqlitedb: create %s: %w", full, err)
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", full, strings.Join(names, ", "), strings.Join(marks, ", ")))
	if err != nil {
		return fmt.Errorf("sqlitedb: prepare insert: %w", err)
	}
	defer stmt.Close()

	row := make([]any, len(infos))
	for r := 0; r < t.NumRows(); r++ {
		for i, info := range infos {
			if info.Type == value.Unsupported {
				row[i] = nil
				continue
			}
			col, _ := t.Column(info.Name)
			row[i] = col.Value(r).Any()
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return fmt.Errorf("sqlitedb: insert %s row %d: %w", full, r, err)
		}
	}
	return tx.Commit()
}
