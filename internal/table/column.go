// Package table holds in-memory columnar source tables and the row cursor
// used to stage values into carriers.
//
// This file implements Column: one typed slice per source type, plus an
// optional null bitmap. Source readers (Arrow, Parquet, SQLite) build columns
// with the typed constructors below; everything downstream reads values
// through a value.Carrier or Column.Value and never sees the native slices.
//
// Columns are immutable after construction except for SetNull, which readers
// call while loading.
package table

import (
	"treemerge/internal/bitmap"
	"treemerge/internal/value"
)

// ColumnInfo describes a source column. Native carries the type name reported
// by the source, which is useful in errors about unsupported columns.
type ColumnInfo struct {
	Name string
	// Type is Unsupported when the reader has no mapping for the column.
	Type value.SourceType
	// Native is the reader's own type name ("float32", "REAL", "utf8", ...).
	Native string
}

// Column is a single typed column. Only the slice matching Type is populated.
type Column struct {
	info  ColumnInfo
	n     int
	f32   []float32
	i32   []int32
	i8    []int8
	i16   []int16
	nulls *bitmap.Bitmap
}

// Float32Column wraps vals as a float32 column. vals is not copied.
func Float32Column(name string, vals []float32) *Column {
	return &Column{info: ColumnInfo{Name: name, Type: value.SourceFloat32, Native: "float32"}, n: len(vals), f32: vals}
}

// Int32Column wraps vals as an int32 column. vals is not copied.
func Int32Column(name string, vals []int32) *Column {
	return &Column{info: ColumnInfo{Name: name, Type: value.SourceInt32, Native: "int32"}, n: len(vals), i32: vals}
}

// Int8Column wraps vals as an int8 column; values widen to Int32.
func Int8Column(name string, vals []int8) *Column {
	return &Column{info: ColumnInfo{Name: name, Type: value.SourceInt8, Native: "int8"}, n: len(vals), i8: vals}
}

// Int16Column wraps vals as an int16 column; values widen to Int32.
func Int16Column(name string, vals []int16) *Column {
	return &Column{info: ColumnInfo{Name: name, Type: value.SourceInt16, Native: "int16"}, n: len(vals), i16: vals}
}

// UnsupportedColumn records a column whose native type cannot be carried. It
// holds no data; binding it fails.
func UnsupportedColumn(name, native string, n int) *Column {
	return &Column{info: ColumnInfo{Name: name, Type: value.Unsupported, Native: native}, n: n}
}

// SetNull marks row as holding no value. The bitmap is allocated on first
// use.
func (c *Column) SetNull(row int) {
	if c.nulls == nil {
		c.nulls = bitmap.New(c.n)
	}
	c.nulls.Add(row)
}

// Info returns the column descriptor.
func (c *Column) Info() ColumnInfo { return c.info }

// Name returns the source column name.
func (c *Column) Name() string { return c.info.Name }

// Len returns the number of rows.
func (c *Column) Len() int { return c.n }

// IsNull reports whether row holds no value.
func (c *Column) IsNull(row int) bool { return c.nulls.Has(row) }

// NullCount returns the number of rows without a value.
func (c *Column) NullCount() int { return c.nulls.Count() }

// Value returns the widened value at row. It allocates a carrier per call
// and is meant for reports and tests; the merge path binds carriers instead.
func (c *Column) Value(row int) value.Value {
	car := value.NewCarrier(c.info.Type)
	c.load(row, car)
	return car.Widen()
}

// load stages row into dst. Nulls and unsupported columns unset dst.
func (c *Column) load(row int, dst *value.Carrier) {
	if c.nulls.Has(row) {
		dst.Unset()
		return
	}
	switch c.info.Type {
	case value.SourceFloat32:
		dst.SetFloat32(c.f32[row])
	case value.SourceInt32:
		dst.SetInt32(c.i32[row])
	case value.SourceInt8:
		dst.SetInt8(c.i8[row])
	case value.SourceInt16:
		dst.SetInt16(c.i16[row])
	default:
		dst.Unset()
	}
}
