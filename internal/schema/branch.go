// Package schema discovers the merged output layout from source tables.
//
// A Builder walks the columns of every physical table backing a logical
// entity, applies the name filters, and registers one output field and one
// IndexMap entry per kept column. Once built, the resulting Discovered layout
// is immutable and shared by every partition of a run.
//
// Discovery happens once, on the first partition. Later partitions are never
// rediscovered: their tables are bound column by column to the carriers the
// IndexMaps describe, so an extra column in a later partition is ignored and
// a missing or retyped one fails the bind. This keeps the output layout (and
// its Fingerprint) identical for every record of a run.
//
// Field naming:
//
//   - NamePrefix (default): output name = table prefix + source column,
//     e.g. KF_ + fPt = KF_fPt.
//   - NameLegacy: "f" + prefix + column without its leading character,
//     e.g. fKF_Pt, matching files written by older converters.
//
// Field filters (Filter.Ignore / Filter.Allow) act on output names and are
// mutually exclusive.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"

	"treemerge/internal/value"
)

var (
	// ErrDuplicateField is returned when two kept columns map to the same
	// output name within a branch.
	ErrDuplicateField = errors.New("schema: duplicate output field")
	// ErrMissingField is returned when a field the driver needs (key,
	// status) is absent or filtered out.
	ErrMissingField = errors.New("schema: required field not found")
	// ErrFieldType is returned when a required field has the wrong logical
	// type, e.g. a float key.
	ErrFieldType = errors.New("schema: field has wrong logical type")
	// ErrConflictingFilters is returned when both filter lists are set.
	ErrConflictingFilters = errors.New("schema: ignore and allow lists are mutually exclusive")
	// ErrSealed is returned when a Builder is used after Build.
	ErrSealed = errors.New("schema: builder already built")
)

// Field is one output column.
type Field struct {
	// Name is the output name after the naming style and is unique in its
	// branch.
	Name string `json:"name"`
	// Type is the widened type; every source integer width becomes Int32.
	Type value.LogicalType `json:"type"`
}

// Branch is an ordered, append-only list of output fields. A field's
// position is its slot in every record of the branch.
type Branch struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`

	// index maps field names to slots; rebuilt after JSON decoding.
	index map[string]int
}

// NewBranch returns an empty branch.
func NewBranch(name string) *Branch {
	return &Branch{Name: name, index: map[string]int{}}
}

// AddField appends a field and returns its slot. A name already present
// yields ErrDuplicateField.
func (b *Branch) AddField(name string, t value.LogicalType) (int, error) {
	if b.index == nil {
		b.index = map[string]int{}
	}
	if _, dup := b.index[name]; dup {
		return 0, fmt.Errorf("%w: %s.%s", ErrDuplicateField, b.Name, name)
	}
	b.index[name] = len(b.Fields)
	b.Fields = append(b.Fields, Field{Name: name, Type: t})
	return len(b.Fields) - 1, nil
}

// FieldID returns the slot of the named field.
func (b *Branch) FieldID(name string) (int, bool) {
	id, ok := b.index[name]
	return id, ok
}

// NumFields is the width of every record of the branch.
func (b *Branch) NumFields() int { return len(b.Fields) }

// UnmarshalJSON decodes a branch and rebuilds its name index, rejecting
// duplicate field names.
func (b *Branch) UnmarshalJSON(data []byte) error {
	type plain Branch
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*b = Branch(p)
	b.index = make(map[string]int, len(b.Fields))
	for i, f := range b.Fields {
		if _, dup := b.index[f.Name]; dup {
			return fmt.Errorf("%w: %s.%s", ErrDuplicateField, b.Name, f.Name)
		}
		b.index[f.Name] = i
	}
	return nil
}
