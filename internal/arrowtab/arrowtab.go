// Package arrowtab converts between Arrow record batches and in-memory
// source tables.
//
// It is shared by the Arrow IPC and Parquet containers (read side) and by
// their WriteTable helpers and the flatten command (write side). Only the
// four source types the merge understands are materialised:
//
//	arrow.FLOAT32 -> SourceFloat32
//	arrow.INT32   -> SourceInt32
//	arrow.INT16   -> SourceInt16
//	arrow.INT8    -> SourceInt8
//
// Any other Arrow type is kept as an Unsupported column that carries only a
// row count, so tables with extra bookkeeping columns still load. Arrow
// nulls become null flags on the table column and back again.
package arrowtab

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"treemerge/internal/table"
	"treemerge/internal/value"
)

// SourceType maps an Arrow data type onto a source type tag.
func SourceType(dt arrow.DataType) value.SourceType {
	switch dt.ID() {
	case arrow.FLOAT32:
		return value.SourceFloat32
	case arrow.INT32:
		return value.SourceInt32
	case arrow.INT8:
		return value.SourceInt8
	case arrow.INT16:
		return value.SourceInt16
	default:
		return value.Unsupported
	}
}

// column buffers one Arrow field across batches. Only the slice matching
// typ is used.
type column struct {
	field arrow.Field
	typ   value.SourceType
	f32   []float32
	i32   []int32
	i8    []int8
	i16   []int16
	// nulls holds absolute row numbers.
	nulls []int
}

// Accumulator concatenates record batches of one schema into a table.
type Accumulator struct {
	name string
	cols []*column
	rows int
}

// NewAccumulator returns an empty accumulator for a table called name whose
// batches all share schema. Column types are fixed here; Append does not
// re-check them.
func NewAccumulator(name string, schema *arrow.Schema) *Accumulator {
	a := &Accumulator{name: name}
	for _, f := range schema.Fields() {
		a.cols = append(a.cols, &column{field: f, typ: SourceType(f.Type)})
	}
	return a
}

// Append copies rec into the accumulator. rec may be released afterwards.
func (a *Accumulator) Append(rec arrow.Record) error {
	if int(rec.NumCols()) != len(a.cols) {
		return fmt.Errorf("arrowtab: %s: record has %d columns, schema has %d", a.name, rec.NumCols(), len(a.cols))
	}
	n := int(rec.NumRows())
	for i, c := range a.cols {
		arr := rec.Column(i)
		switch c.typ {
		case value.SourceFloat32:
			c.f32 = append(c.f32, arr.(*array.Float32).Float32Values()...)
		case value.SourceInt32:
			c.i32 = append(c.i32, arr.(*array.Int32).Int32Values()...)
		case value.SourceInt8:
			c.i8 = append(c.i8, arr.(*array.Int8).Int8Values()...)
		case value.SourceInt16:
			c.i16 = append(c.i16, arr.(*array.Int16).Int16Values()...)
		}
		if c.typ != value.Unsupported && arr.NullN() > 0 {
			for r := 0; r < n; r++ {
				if arr.IsNull(r) {
					c.nulls = append(c.nulls, a.rows+r)
				}
			}
		}
	}
	a.rows += n
	return nil
}

// Table builds the accumulated table. The accumulator must not be appended
// to afterwards; the table shares its buffers.
func (a *Accumulator) Table() (*table.Table, error) {
	cols := make([]*table.Column, len(a.cols))
	for i, c := range a.cols {
		var tc *table.Column
		switch c.typ {
		case value.SourceFloat32:
			tc = table.Float32Column(c.field.Name, c.f32)
		case value.SourceInt32:
			tc = table.Int32Column(c.field.Name, c.i32)
		case value.SourceInt8:
			tc = table.Int8Column(c.field.Name, c.i8)
		case value.SourceInt16:
			tc = table.Int16Column(c.field.Name, c.i16)
		default:
			tc = table.UnsupportedColumn(c.field.Name, c.field.Type.String(), a.rows)
		}
		for _, r := range c.nulls {
			tc.SetNull(r)
		}
		cols[i] = tc
	}
	return table.New(a.name, a.rows, cols...)
}

// ToRecord renders t as a single record batch. Unsupported columns become
// all-null columns of the Arrow null type.
func ToRecord(t *table.Table, mem memory.Allocator) arrow.Record {
	infos := t.Columns()
	fields := make([]arrow.Field, len(infos))
	arrs := make([]arrow.Array, len(infos))
	n := t.NumRows()

	for i, info := range infos {
		c, _ := t.Column(info.Name)
		switch info.Type {
		case value.SourceFloat32:
			b := array.NewFloat32Builder(mem)
			for r := 0; r < n; r++ {
				if c.IsNull(r) {
					b.AppendNull()
				} else {
					b.Append(c.Value(r).Float32())
				}
			}
			fields[i] = arrow.Field{Name: info.Name, Type: arrow.PrimitiveTypes.Float32, Nullable: true}
			arrs[i] = b.NewArray()
			b.Release()
		case value.SourceInt32:
			b := array.NewInt32Builder(mem)
			for r := 0; r < n; r++ {
				if c.IsNull(r) {
					b.AppendNull()
				} else {
					b.Append(c.Value(r).Int32())
				}
			}
			fields[i] = arrow.Field{Name: info.Name, Type: arrow.PrimitiveTypes.Int32, Nullable: true}
			arrs[i] = b.NewArray()
			b.Release()
		case value.SourceInt8:
			b := array.NewInt8Builder(mem)
			for r := 0; r < n; r++ {
				if c.IsNull(r) {
					b.AppendNull()
				} else {
					b.Append(int8(c.Value(r).Int32()))
				}
			}
			fields[i] = arrow.Field{Name: info.Name, Type: arrow.PrimitiveTypes.Int8, Nullable: true}
			arrs[i] = b.NewArray()
			b.Release()
		case value.SourceInt16:
			b := array.NewInt16Builder(mem)
			for r := 0; r < n; r++ {
				if c.IsNull(r) {
					b.AppendNull()
				} else {
					b.Append(int16(c.Value(r).Int32()))
				}
			}
			fields[i] = arrow.Field{Name: info.Name, Type: arrow.PrimitiveTypes.Int16, Nullable: true}
			arrs[i] = b.NewArray()
			b.Release()
		default:
			fields[i] = arrow.Field{Name: info.Name, Type: arrow.Null, Nullable: true}
			arrs[i] = array.NewNull(n)
		}
	}

	rec := array.NewRecord(arrow.NewSchema(fields, nil), arrs, int64(n))
	for _, a := range arrs {
		a.Release()
	}
	return rec
}
