package merge

import (
	"fmt"

	"treemerge/internal/datasource"
	"treemerge/internal/schema"
	"treemerge/internal/table"
	"treemerge/internal/value"
)

// reader stages one entity's rows: one carrier per IndexMap entry, bound to
// the entity's physical tables of the current partition.
type reader struct {
	entity   *schema.Entity
	carriers []*value.Carrier
	tables   []*table.Table
}

// newReader allocates one carrier per index entry of e.
func newReader(e *schema.Entity) *reader {
	r := &reader{entity: e, carriers: make([]*value.Carrier, len(e.Index.Entries))}
	for i, en := range e.Index.Entries {
		r.carriers[i] = value.NewCarrier(en.Type)
	}
	return r
}

// width is the number of values in one record of the entity.
func (r *reader) width() int { return r.entity.Branch.NumFields() }

// bind attaches the carriers to this partition's tables. Tables must have
// been unbound by the caller.
func (r *reader) bind(tables map[string]*table.Table) error {
	r.tables = r.tables[:0]
	for _, name := range r.entity.Index.Tables {
		t, ok := tables[name]
		if !ok || t == nil {
			return fmt.Errorf("%w: %s", datasource.ErrTableNotFound, name)
		}
		r.tables = append(r.tables, t)
	}
	for i, en := range r.entity.Index.Entries {
		if err := r.tables[en.Table].Bind(en.Source, r.carriers[i]); err != nil {
			return err
		}
	}
	return nil
}

// rows returns the common row count of the entity's tables.
func (r *reader) rows() (int, error) {
	return table.AssertEqualRowCounts(r.tables...)
}

// seek stages row from every physical table.
func (r *reader) seek(row int) error {
	for _, t := range r.tables {
		if err := t.Seek(row); err != nil {
			return err
		}
	}
	return nil
}

// seekField stages row only from the table holding IndexMap position pos.
func (r *reader) seekField(pos, row int) error {
	return r.tables[r.entity.Index.Entries[pos].Table].Seek(row)
}

// field widens the staged value at IndexMap position pos.
func (r *reader) field(pos int) value.Value {
	return r.carriers[pos].Widen()
}

// fill widens every staged value into rec.
func (r *reader) fill(rec *Record) {
	for i, en := range r.entity.Index.Entries {
		rec.Values[en.Slot] = r.carriers[i].Widen()
	}
}
