package merge

import (
	"context"
	"errors"
	"fmt"

	"treemerge/internal/datasource"
	"treemerge/internal/schema"
	"treemerge/internal/table"
	"treemerge/internal/value"
)

// ErrorKind classifies a fatal run error.
type ErrorKind string

const (
	// KindConfiguration covers invalid options, filters and name conflicts.
	KindConfiguration ErrorKind = "configuration"
	// KindInputIntegrity covers missing tables or columns, retyped columns,
	// row-count mismatches and stored values that do not fit their type.
	KindInputIntegrity ErrorKind = "input-integrity"
	// KindUnsupportedType is a source column type with no mapping.
	KindUnsupportedType ErrorKind = "unsupported-type"
	// KindOutput is any failure reported by the Sink.
	KindOutput ErrorKind = "output"
)

// ErrIllegalTransition is returned when the driver is asked to move between
// states that are not adjacent.
var ErrIllegalTransition = errors.New("merge: illegal state transition")

// RunError aborts a run. Partition is empty for errors raised before the
// first partition is opened.
type RunError struct {
	Kind ErrorKind
	// Partition names the partition being merged when the error occurred.
	Partition string
	// Err is the underlying error; it keeps the package sentinels.
	Err error
}

// Error formats as "merge: <kind>: partition <name>: <cause>".
func (e *RunError) Error() string {
	if e.Partition == "" {
		return fmt.Sprintf("merge: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("merge: %s: partition %s: %v", e.Kind, e.Partition, e.Err)
}

// Unwrap returns the cause so errors.Is sees the package sentinels.
func (e *RunError) Unwrap() error { return e.Err }

// classify maps well-known package errors onto a kind; "" when unknown.
func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, value.ErrUnsupportedType):
		return KindUnsupportedType
	case errors.Is(err, schema.ErrDuplicateField),
		errors.Is(err, schema.ErrMissingField),
		errors.Is(err, schema.ErrFieldType),
		errors.Is(err, schema.ErrConflictingFilters):
		return KindConfiguration
	case errors.Is(err, table.ErrRowCountMismatch),
		errors.Is(err, table.ErrColumnNotFound),
		errors.Is(err, table.ErrTypeMismatch),
		errors.Is(err, datasource.ErrTableNotFound),
		errors.Is(err, datasource.ErrPartitionNotFound),
		errors.Is(err, datasource.ErrValueOutOfRange):
		return KindInputIntegrity
	}
	return ""
}

// fail wraps err for partition. Known errors override kind, except for sink
// failures which always stay KindOutput. Cancellation is not a RunError.
func fail(partition string, kind ErrorKind, err error) error {
	var re *RunError
	if errors.As(err, &re) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if partition == "" {
			return fmt.Errorf("merge: %w", err)
		}
		return fmt.Errorf("merge: partition %s: %w", partition, err)
	}
	if k := classify(err); k != "" && kind != KindOutput {
		kind = k
	}
	return &RunError{Kind: kind, Partition: partition, Err: err}
}
