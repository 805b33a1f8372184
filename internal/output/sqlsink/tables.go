// Package sqlsink writes merged events into relational tables through a
// storage.Repository.
//
// Layout, for a table prefix p:
//
//	p+fields                run_id, branch, slot, name, type
//	p+events                run_id, event_id, partition_name, event_index, Events fields...
//	p+candidates            run_id, event_id, id, Candidates fields...
//	p+simulated             run_id, event_id, id, Simulated fields...
//	p+generated             run_id, partition_name, event_id (null when placed per partition), id, Generated fields...
//	p+candidates2simulated  run_id, event_id, candidate, simulated
//
// Tables for disabled entities are not created. Key columns form the primary
// key where the storage kind supports it, so a rerun with the same run_id
// fails loudly instead of duplicating rows. Value columns are nullable
// unless sentinel nulls are requested at write time; the DDL is the same
// either way.
//
// Field names are used verbatim as column names. A field that collides with
// a key column is a configuration error, reported by Begin before anything
// is written.
package sqlsink

import (
	"fmt"
	"strings"

	"treemerge/internal/ddl"
	"treemerge/internal/merge"
	"treemerge/internal/schema"
	"treemerge/internal/storage"
	"treemerge/internal/value"
)

// Fixed column names.
const (
	// ColRunID ties every row to Configuration.RunID.
	ColRunID = "run_id"
	// ColEventID is the run-wide event number, merge.Event.Global.
	ColEventID   = "event_id"
	ColPartition = "partition_name"
	// ColIndex is the event's position inside its partition.
	ColIndex = "event_index"
	// ColID is the record ID inside its event collection.
	ColID = "id"
)

// Table base names, before the prefix is applied.
const (
	TableFields = "fields"
	TableEvents = "events"
)

// tableMatches is the base name of the match table.
var tableMatches = strings.ToLower(merge.MatchCandidates2Simulated)

// TableName applies prefix to base and normalizes the result into a portable
// identifier.
func TableName(prefix, base string) string {
	return storage.NormalizeIdent(prefix + base)
}

// target is one output table with its definition.
type target struct {
	base   string
	def    ddl.TableDef
	branch *schema.Branch
	// lead is the number of fixed columns before the branch fields.
	lead int
}

// kindOf maps a logical field type onto a portable column kind.
func kindOf(t value.LogicalType) string {
	if t == value.Float32 {
		return ddl.KindFloat32
	}
	return ddl.KindInt32
}

// fixed returns names as a set.
func fixed(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// withFields appends one nullable column per field of b to def.
func withFields(def *ddl.TableDef, b *schema.Branch) error {
	reserved := fixed(def.ColumnNames()...)
	for _, f := range b.Fields {
		if reserved[f.Name] {
			return fmt.Errorf("sqlsink: %s field %s clashes with a key column", b.Name, f.Name)
		}
		def.Columns = append(def.Columns, ddl.ColumnDef{Name: f.Name, SQLType: kindOf(f.Type), Nullable: true})
	}
	return nil
}

// key declares a primary key column.
func key(name, kind string) ddl.ColumnDef {
	return ddl.ColumnDef{Name: name, SQLType: kind, PrimaryKey: true}
}

// plan derives every output table from cfg.
func plan(prefix string, cfg *schema.Configuration) ([]target, error) {
	out := []target{{
		base: TableFields,
		def: ddl.TableDef{FQN: TableName(prefix, TableFields), Columns: []ddl.ColumnDef{
			key(ColRunID, ddl.KindText),
			key("branch", ddl.KindText),
			key("slot", ddl.KindInt32),
			{Name: "name", SQLType: ddl.KindText},
			{Name: "type", SQLType: ddl.KindText},
		}},
	}}
	for _, b := range cfg.Branches {
		t := target{base: strings.ToLower(b.Name), branch: b}
		t.def.FQN = TableName(prefix, t.base)
		switch b.Name {
		case merge.BranchEvents:
			t.def.Columns = []ddl.ColumnDef{
				key(ColRunID, ddl.KindText),
				key(ColEventID, ddl.KindInt64),
				{Name: ColPartition, SQLType: ddl.KindText},
				{Name: ColIndex, SQLType: ddl.KindInt64},
			}
		case merge.BranchGenerated:
			t.def.Columns = []ddl.ColumnDef{
				{Name: ColRunID, SQLType: ddl.KindText},
				{Name: ColPartition, SQLType: ddl.KindText},
				{Name: ColEventID, SQLType: ddl.KindInt64, Nullable: true},
				{Name: ColID, SQLType: ddl.KindInt32},
			}
		default:
			t.def.Columns = []ddl.ColumnDef{
				key(ColRunID, ddl.KindText),
				key(ColEventID, ddl.KindInt64),
				key(ColID, ddl.KindInt32),
			}
		}
		t.lead = len(t.def.Columns)
		if err := withFields(&t.def, b); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	for _, m := range cfg.Matches {
		base := strings.ToLower(m.Name)
		if base != tableMatches {
			return nil, fmt.Errorf("sqlsink: unknown match %s", m.Name)
		}
		out = append(out, target{base: base, def: ddl.TableDef{FQN: TableName(prefix, base), Columns: []ddl.ColumnDef{
			key(ColRunID, ddl.KindText),
			key(ColEventID, ddl.KindInt64),
			key("candidate", ddl.KindInt32),
			{Name: "simulated", SQLType: ddl.KindInt32},
		}}})
	}
	return out, nil
}

// Definitions returns the CREATE TABLE definitions for cfg, in creation
// order.
func Definitions(prefix string, cfg *schema.Configuration) ([]ddl.TableDef, error) {
	targets, err := plan(prefix, cfg)
	if err != nil {
		return nil, err
	}
	out := make([]ddl.TableDef, len(targets))
	for i, t := range targets {
		out[i] = t.def
	}
	return out, nil
}
