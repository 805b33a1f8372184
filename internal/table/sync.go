package table

// This file implements the lock-step row count check. Candidate tables (and
// their truth tables) describe the same candidates split by column, so row i
// of every table is the same candidate; the check makes that assumption
// explicit before any row is read.

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRowCountMismatch is wrapped by MismatchError.
var ErrRowCountMismatch = errors.New("table: row count mismatch")

// TableCount is one table's row count as seen by AssertEqualRowCounts.
type TableCount struct {
	// Table is the table name, as given by Table.Name.
	Table string
	Rows  int
}

// MismatchError lists every table involved in a failed row-count check, not
// only the first pair that differed, so the error names the odd table out.
type MismatchError struct {
	Counts []TableCount
}

// Error formats the counts as "table: row count mismatch: a=3 b=2".
func (e *MismatchError) Error() string {
	parts := make([]string, len(e.Counts))
	for i, c := range e.Counts {
		parts[i] = fmt.Sprintf("%s=%d", c.Table, c.Rows)
	}
	return ErrRowCountMismatch.Error() + ": " + strings.Join(parts, " ")
}

// Unwrap lets errors.Is match ErrRowCountMismatch.
func (e *MismatchError) Unwrap() error { return ErrRowCountMismatch }

// AssertEqualRowCounts returns the common row count of tables that are read
// in lock-step by position. With no tables the count is zero.
func AssertEqualRowCounts(tables ...*Table) (int, error) {
	if len(tables) == 0 {
		return 0, nil
	}
	n := tables[0].NumRows()
	equal := true
	for _, t := range tables[1:] {
		if t.NumRows() != n {
			equal = false
			break
		}
	}
	if equal {
		return n, nil
	}
	e := &MismatchError{Counts: make([]TableCount, len(tables))}
	for i, t := range tables {
		e.Counts[i] = TableCount{Table: t.Name(), Rows: t.NumRows()}
	}
	return 0, e
}
