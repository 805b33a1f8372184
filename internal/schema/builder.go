package schema

// This file implements the Builder. Discovery walks the physical tables of
// each entity in layout order:
//
//  1. Entity(name) creates the output branch on first use, so branch order
//     in the Configuration follows the order the driver discovers entities.
//  2. Discover(e, table, prefix) appends one field and one IndexEntry per
//     kept column, in source column order. Filters run before type checks.
//  3. Build seals the builder and validates the match declarations.
//
// The resulting IndexMap is what the driver binds carriers from; the Branch
// is what sinks write. Both are read-only after Build.

import (
	"fmt"

	"treemerge/internal/table"
	"treemerge/internal/value"
)

// Columns is the part of a source table discovery needs. *table.Table
// satisfies it.
type Columns interface {
	Name() string
	Columns() []table.ColumnInfo
}

// IndexEntry ties a source column to its output slot.
type IndexEntry struct {
	// Source is the column name in the physical table.
	Source string
	// Type is the source type seen at discovery; later partitions must match.
	Type value.SourceType
	// Slot is the field position in the branch.
	Slot int
	// Table is the ordinal of the physical table within the entity.
	Table int
}

// IndexMap lists the entries of one entity in slot order. Tables[i] names
// the i-th physical table and Bounds[i] is the end offset of its entries.
type IndexMap struct {
	Entries []IndexEntry
	// Tables are the physical table names in layout order.
	Tables []string
	// Bounds are cumulative entry counts, one per table.
	Bounds []int
}

// TableEntries returns the entries contributed by the i-th physical table.
func (m *IndexMap) TableEntries(i int) []IndexEntry {
	start := 0
	if i > 0 {
		start = m.Bounds[i-1]
	}
	return m.Entries[start:m.Bounds[i]]
}

// Entity couples an output branch with the IndexMap that fills it.
type Entity struct {
	// Branch is shared with the Configuration and must not be modified.
	Branch *Branch
	Index  IndexMap
}

// FindField returns the IndexMap position of a required field. The output
// name is tried first, then the source column name.
func (e *Entity) FindField(name string) (int, error) {
	if id, ok := e.Branch.FieldID(name); ok {
		return id, nil
	}
	for i, en := range e.Index.Entries {
		if en.Source == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %s in %s", ErrMissingField, name, e.Branch.Name)
}

// FindIntField is FindField restricted to fields that widen to Int32.
func (e *Entity) FindIntField(name string) (int, error) {
	pos, err := e.FindField(name)
	if err != nil {
		return 0, err
	}
	if t := e.Branch.Fields[e.Index.Entries[pos].Slot].Type; t != value.Int32 {
		return 0, fmt.Errorf("%w: %s in %s is %s, want Int32", ErrFieldType, name, e.Branch.Name, t)
	}
	return pos, nil
}

// Discovered is the immutable result of a Builder. Config is handed to
// sinks; the entities are used by the driver to bind carriers.
type Discovered struct {
	Config   *Configuration
	entities map[string]*Entity
}

// Entity returns the named entity, or nil.
func (d *Discovered) Entity(name string) *Entity { return d.entities[name] }

// Builder accumulates entities until Build is called.
type Builder struct {
	filter   Filter
	style    NameStyle
	order    []*Entity
	entities map[string]*Entity
	sealed   bool
}

// NewBuilder validates filter and style and returns an empty builder.
func NewBuilder(filter Filter, style NameStyle) (*Builder, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if !style.Valid() {
		return nil, fmt.Errorf("schema: unknown name style %q", style)
	}
	return &Builder{filter: filter, style: style, entities: map[string]*Entity{}}, nil
}

// Entity returns the entity for name, creating its branch on first use.
// Branch order follows first use.
func (b *Builder) Entity(name string) *Entity {
	if e, ok := b.entities[name]; ok {
		return e
	}
	e := &Entity{Branch: NewBranch(name)}
	b.entities[name] = e
	b.order = append(b.order, e)
	return e
}

// Discover registers every kept column of t in e. Filters apply to output
// names before type checks, so an unsupported column can be ignored.
func (b *Builder) Discover(e *Entity, t Columns, prefix string) error {
	if b.sealed {
		return ErrSealed
	}
	ordinal := len(e.Index.Tables)
	for _, c := range t.Columns() {
		out := b.style.OutputName(prefix, c.Name)
		if b.filter.Skip(out) {
			continue
		}
		lt, err := c.Type.Logical()
		if err != nil {
			return fmt.Errorf("schema: %s.%s (%s): %w", t.Name(), c.Name, c.Native, err)
		}
		slot, err := e.Branch.AddField(out, lt)
		if err != nil {
			return err
		}
		e.Index.Entries = append(e.Index.Entries, IndexEntry{Source: c.Name, Type: c.Type, Slot: slot, Table: ordinal})
	}
	e.Index.Tables = append(e.Index.Tables, t.Name())
	e.Index.Bounds = append(e.Index.Bounds, len(e.Index.Entries))
	return nil
}

// Build seals the builder and returns the discovered layout. Matches must
// name branches created through Entity. A sealed builder rejects further
// calls with ErrSealed.
func (b *Builder) Build(runID string, matches ...Match) (*Discovered, error) {
	if b.sealed {
		return nil, ErrSealed
	}
	b.sealed = true
	cfg := &Configuration{RunID: runID, Matches: matches}
	for _, e := range b.order {
		cfg.Branches = append(cfg.Branches, e.Branch)
	}
	for _, m := range matches {
		if _, ok := b.entities[m.From]; !ok {
			return nil, fmt.Errorf("schema: match %s: unknown branch %s", m.Name, m.From)
		}
		if _, ok := b.entities[m.To]; !ok {
			return nil, fmt.Errorf("schema: match %s: unknown branch %s", m.Name, m.To)
		}
	}
	entities := make(map[string]*Entity, len(b.entities))
	for k, v := range b.entities {
		entities[k] = v
	}
	return &Discovered{Config: cfg, entities: entities}, nil
}
