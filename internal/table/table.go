package table

// This file implements Table, the row cursor over a set of columns.
//
// Reading is push-based: callers Bind a carrier per column they need once per
// partition, then Seek to a row, which copies that row's value of every bound
// column into its carrier. Unbind resets the bindings before the carriers are
// moved to the next partition's tables.

import (
	"errors"
	"fmt"

	"treemerge/internal/value"
)

var (
	// ErrColumnNotFound is returned when binding a column the table lacks.
	ErrColumnNotFound = errors.New("table: column not found")
	// ErrTypeMismatch is returned when a carrier's type differs from the column's.
	ErrTypeMismatch = errors.New("table: carrier type mismatch")
)

// binding ties a column to the carrier Seek fills.
type binding struct {
	col *Column
	dst *value.Carrier
}

// Table is a named set of equally long columns with a row cursor. Carriers
// bound to columns are refreshed on every Seek.
type Table struct {
	name   string
	rows   int
	cols   []*Column
	byName map[string]int
	bound  []binding
}

// New builds a table of rows rows. Every column must have exactly rows
// entries and column names must be unique.
func New(name string, rows int, cols ...*Column) (*Table, error) {
	t := &Table{name: name, rows: rows, cols: cols, byName: make(map[string]int, len(cols))}
	for i, c := range cols {
		if c.Len() != rows {
			return nil, fmt.Errorf("table %s: column %s has %d rows, want %d", name, c.Name(), c.Len(), rows)
		}
		if _, dup := t.byName[c.Name()]; dup {
			return nil, fmt.Errorf("table %s: duplicate column %s", name, c.Name())
		}
		t.byName[c.Name()] = i
	}
	return t, nil
}

// Name returns the physical table name.
func (t *Table) Name() string { return t.name }

// NumRows returns the row count shared by all columns.
func (t *Table) NumRows() int { return t.rows }

// NumCols returns the number of columns, supported or not.
func (t *Table) NumCols() int { return len(t.cols) }

// Columns returns the column descriptors in source order.
func (t *Table) Columns() []ColumnInfo {
	out := make([]ColumnInfo, len(t.cols))
	for i, c := range t.cols {
		out[i] = c.info
	}
	return out
}

// Column looks a column up by name.
func (t *Table) Column(name string) (*Column, bool) {
	i, ok := t.byName[name]
	if !ok {
		return nil, false
	}
	return t.cols[i], true
}

// Bind attaches dst to the named column so that Seek stages the column's
// value into it.
//
// Bind fails with ErrColumnNotFound for an absent column, with
// value.ErrUnsupportedType for a column of an unsupported native type and
// with ErrTypeMismatch when dst was made for a different source type (a later
// partition storing a column with another type than the first).
func (t *Table) Bind(name string, dst *value.Carrier) error {
	c, ok := t.Column(name)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrColumnNotFound, t.name, name)
	}
	if c.info.Type == value.Unsupported {
		return fmt.Errorf("%w: %s.%s has native type %s", value.ErrUnsupportedType, t.name, name, c.info.Native)
	}
	if dst.Type() != c.info.Type {
		return fmt.Errorf("%w: %s.%s is %s, carrier is %s", ErrTypeMismatch, t.name, name, c.info.Type, dst.Type())
	}
	t.bound = append(t.bound, binding{col: c, dst: dst})
	return nil
}

// Unbind drops every carrier binding.
func (t *Table) Unbind() { t.bound = t.bound[:0] }

// Seek stages row into every bound carrier. Rows are addressed by position;
// there is no implicit advance.
func (t *Table) Seek(row int) error {
	if row < 0 || row >= t.rows {
		return fmt.Errorf("table %s: row %d out of range [0,%d)", t.name, row, t.rows)
	}
	for _, b := range t.bound {
		b.col.load(row, b.dst)
	}
	return nil
}
