// Package sqlitedb reads partitions from a single SQLite database whose
// tables are named "<partition>/<table>".
//
// This file implements the "sqlite" container kind on top of
// modernc.org/sqlite (pure Go, no cgo). The layout is the one the write side
// of this package produces and the one the flatten command emits:
//
//   - Every partition is a prefix of table names; partition order is table
//     creation order (sqlite_master rowid).
//   - Column types come from the declared type in PRAGMA table_info, mapped
//     by SourceType. Undeclared or unknown types yield Unsupported columns
//     that still count rows but cannot be bound.
//   - Rows are read in rowid order, which is insertion order.
//
// Integrity:
//
// SQLite does not enforce declared types, so an INTEGER column may hold a
// value wider than the declared width. Such values are rejected with
// datasource.ErrValueOutOfRange instead of being truncated. NULLs are
// kept as null flags on the column.
package sqlitedb

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"treemerge/internal/datasource"
	"treemerge/internal/table"
	"treemerge/internal/value"
)

// Sep separates the partition and table parts of a SQLite table name.
const Sep = "/"

// init registers the "sqlite" kind; cfg.Path is the DSN.
func init() {
	datasource.Register("sqlite", func(ctx context.Context, cfg datasource.Config) (datasource.Container, error) {
		return Open(ctx, cfg.Path)
	})
}

// SourceType maps a declared SQLite column type onto a source type tag.
func SourceType(declared string) value.SourceType {
	switch strings.ToUpper(strings.TrimSpace(declared)) {
	case "REAL", "FLOAT":
		return value.SourceFloat32
	case "INT", "INTEGER", "INT32":
		return value.SourceInt32
	case "SMALLINT", "INT16":
		return value.SourceInt16
	case "TINYINT", "INT8":
		return value.SourceInt8
	default:
		return value.Unsupported
	}
}

// Container is an open SQLite database.
type Container struct {
	// db is shared by every partition of the container.
	db *sql.DB
}

// Open opens the database at dsn (a path or file: URI) and pings it.
func Open(ctx context.Context, dsn string) (*Container, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlitedb: DSN must not be empty")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitedb: open: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitedb: ping: %w", err)
	}
	return &Container{db: db}, nil
}

// tableNames lists every table in creation order.
func (c *Container) tableNames(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("sqlitedb: list tables: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("sqlitedb: list tables: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Partitions returns partition names in table creation order.
func (c *Container) Partitions(ctx context.Context) ([]string, error) {
	names, err := c.tableNames(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	var out []string
	for _, n := range names {
		part, _, ok := strings.Cut(n, Sep)
		if !ok {
			continue
		}
		if _, dup := seen[part]; !dup {
			seen[part] = struct{}{}
			out = append(out, part)
		}
	}
	return out, nil
}

// Partition returns the named partition, or ErrPartitionNotFound when no
// table carries its prefix.
func (c *Container) Partition(ctx context.Context, name string) (datasource.Partition, error) {
	parts, err := c.Partitions(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range parts {
		if p == name {
			return &partition{c: c, name: name}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", datasource.ErrPartitionNotFound, name)
}

// Close closes the database handle.
func (c *Container) Close() error { return c.db.Close() }

// partition is a view on the tables sharing one name prefix.
type partition struct {
	c    *Container
	name string
}

func (p *partition) Name() string { return p.name }

func (p *partition) Tables(ctx context.Context) ([]string, error) {
	names, err := p.c.tableNames(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, n := range names {
		if part, tbl, ok := strings.Cut(n, Sep); ok && part == p.name {
			out = append(out, tbl)
		}
	}
	return out, nil
}

// Close is a no-op; the Container owns the handle.
func (p *partition) Close() error { return nil }

// colSpec describes one column as declared in the schema.
type colSpec struct {
	name     string
	declared string
	typ      value.SourceType
}

// columns reads the declared columns of full; an unknown table yields none.
func (p *partition) columns(ctx context.Context, full string) ([]colSpec, error) {
	rows, err := p.c.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(full)))
	if err != nil {
		return nil, fmt.Errorf("sqlitedb: table_info %s: %w", full, err)
	}
	defer rows.Close()
	var out []colSpec
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("sqlitedb: table_info %s: %w", full, err)
		}
		out = append(out, colSpec{name: name, declared: typ, typ: SourceType(typ)})
	}
	return out, rows.Err()
}

// Table loads every row of name into memory. Only typed columns are
// selected; a table made only of unsupported columns is counted instead.
func (p *partition) Table(ctx context.Context, name string) (*table.Table, error) {
	full := p.name + Sep + name
	specs, err := p.columns(ctx, full)
	if err != nil {
		return nil, err
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: %s", datasource.ErrTableNotFound, name)
	}

	var selected []int
	var quoted []string
	for i, s := range specs {
		if s.typ != value.Unsupported {
			selected = append(selected, i)
			quoted = append(quoted, quoteIdent(s.name))
		}
	}

	var (
		n      int
		floats = make(map[int][]float32)
		ints   = make(map[int][]int64)
		nulls  = make(map[int][]int)
	)
	if len(selected) > 0 {
		q := fmt.Sprintf("SELECT %s FROM %s ORDER BY rowid", strings.Join(quoted, ", "), quoteIdent(full))
		rows, err := p.c.db.QueryContext(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("sqlitedb: select %s: %w", full, err)
		}
		defer rows.Close()

		dest := make([]any, len(selected))
		fv := make([]sql.NullFloat64, len(selected))
		iv := make([]sql.NullInt64, len(selected))
		for j, i := range selected {
			if specs[i].typ == value.SourceFloat32 {
				dest[j] = &fv[j]
			} else {
				dest[j] = &iv[j]
			}
		}
		for rows.Next() {
			if err := rows.Scan(dest...); err != nil {
				return nil, fmt.Errorf("sqlitedb: scan %s row %d: %w", full, n, err)
			}
			for j, i := range selected {
				if specs[i].typ == value.SourceFloat32 {
					if !fv[j].Valid {
						nulls[i] = append(nulls[i], n)
					}
					floats[i] = append(floats[i], float32(fv[j].Float64))
				} else {
					if !iv[j].Valid {
						nulls[i] = append(nulls[i], n)
					}
					if iv[j].Valid && !fits(specs[i].typ, iv[j].Int64) {
						return nil, fmt.Errorf("%w: %s.%s row %d: %d does not fit %s (%s)",
							datasource.ErrValueOutOfRange, full, specs[i].name, n, iv[j].Int64, specs[i].typ, specs[i].declared)
					}
					ints[i] = append(ints[i], iv[j].Int64)
				}
			}
			n++
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("sqlitedb: select %s: %w", full, err)
		}
	} else {
		if err := p.c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(full)).Scan(&n); err != nil {
			return nil, fmt.Errorf("sqlitedb: count %s: %w", full, err)
		}
	}

	cols := make([]*table.Column, len(specs))
	for i, s := range specs {
		var c *table.Column
		switch s.typ {
		case value.SourceFloat32:
			c = table.Float32Column(s.name, floats[i])
		case value.SourceInt32:
			v := make([]int32, len(ints[i]))
			for k, x := range ints[i] {
				v[k] = int32(x)
			}
			c = table.Int32Column(s.name, v)
		case value.SourceInt16:
			v := make([]int16, len(ints[i]))
			for k, x := range ints[i] {
				v[k] = int16(x)
			}
			c = table.Int16Column(s.name, v)
		case value.SourceInt8:
			v := make([]int8, len(ints[i]))
			for k, x := range ints[i] {
				v[k] = int8(x)
			}
			c = table.Int8Column(s.name, v)
		default:
			c = table.UnsupportedColumn(s.name, s.declared, n)
		}
		for _, r := range nulls[i] {
			c.SetNull(r)
		}
		cols[i] = c
	}
	return table.New(name, n, cols...)
}

// fits reports whether x is representable in the integer source type t.
func fits(t value.SourceType, x int64) bool {
	switch t {
	case value.SourceInt32:
		return x >= math.MinInt32 && x <= math.MaxInt32
	case value.SourceInt16:
		return x >= math.MinInt16 && x <= math.MaxInt16
	case value.SourceInt8:
		return x >= math.MinInt8 && x <= math.MaxInt8
	}
	return false
}

// quoteIdent quotes s as a SQLite identifier.
func quoteIdent(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` }
