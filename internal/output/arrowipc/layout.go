// Package arrowipc writes merged events to an Arrow IPC stream, one row per
// event, and reads such files back.
//
// Columns: partition (utf8), event (int64), Events (struct, when event
// metadata is present), one list<struct<id, fields...>> per record branch,
// and Candidates2Simulated (list<struct<candidate, simulated>>). The
// discovered configuration travels in the schema metadata. Generated records
// placed per partition go to a sidecar stream, see GeneratedPath.
package arrowipc

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"

	"treemerge/internal/merge"
	"treemerge/internal/schema"
	"treemerge/internal/value"
)

// Schema metadata keys.
const (
	// MetaConfiguration holds the Configuration as JSON.
	MetaConfiguration = "treemerge.configuration"
	// MetaFingerprint holds Configuration.FingerprintHex; Open verifies it.
	MetaFingerprint = "treemerge.fingerprint"
	MetaRunID       = "treemerge.run_id"
)

// Fixed column names.
const (
	ColPartition = "partition"
	ColEvent     = "event"
	ColID        = "id"
)

// GeneratedPath returns the sidecar path for generated records placed per
// partition: out.arrow becomes out.generated.arrow.
func GeneratedPath(path string) string {
	return strings.TrimSuffix(path, ".arrow") + ".generated.arrow"
}

// colKind says how a column is encoded.
type colKind uint8

const (
	colHeader colKind = iota
	colRecords
	colMatches
)

// column is one branch-derived column. Index is the Arrow field position.
type column struct {
	kind   colKind
	name   string
	branch *schema.Branch
	index  int
}

// plan splits a configuration into the columns of the main stream and of the
// generated sidecar.
type plan struct {
	main    []column
	sidecar []column
}

// planFor fails on branch or match names it does not know, and on a record
// branch that has a field named like the ID column.
func planFor(cfg *schema.Configuration) (plan, error) {
	var p plan
	for _, b := range cfg.Branches {
		if _, clash := b.FieldID(ColID); clash && b.Name != merge.BranchEvents {
			return p, fmt.Errorf("arrowipc: branch %s has a field named %q", b.Name, ColID)
		}
		switch {
		case b.Name == merge.BranchEvents:
			p.main = append(p.main, column{kind: colHeader, name: b.Name, branch: b})
		case b.Name == merge.BranchGenerated && cfg.GeneratedPlacement == merge.PlacementPartition:
			p.sidecar = append(p.sidecar, column{kind: colRecords, name: b.Name, branch: b})
		case b.Name == merge.BranchCandidates, b.Name == merge.BranchSimulated, b.Name == merge.BranchGenerated:
			p.main = append(p.main, column{kind: colRecords, name: b.Name, branch: b})
		default:
			return p, fmt.Errorf("arrowipc: unknown branch %s", b.Name)
		}
	}
	for _, m := range cfg.Matches {
		if m.Name != merge.MatchCandidates2Simulated {
			return p, fmt.Errorf("arrowipc: unknown match %s", m.Name)
		}
		p.main = append(p.main, column{kind: colMatches, name: m.Name})
	}
	return p, nil
}

// dataType maps a logical field type onto its Arrow type.
func dataType(t value.LogicalType) arrow.DataType {
	if t == value.Float32 {
		return arrow.PrimitiveTypes.Float32
	}
	return arrow.PrimitiveTypes.Int32
}

func valueFields(b *schema.Branch, nullable bool) []arrow.Field {
	out := make([]arrow.Field, len(b.Fields))
	for i, f := range b.Fields {
		out[i] = arrow.Field{Name: f.Name, Type: dataType(f.Type), Nullable: nullable}
	}
	return out
}

// matchType is the element type of the match list column.
var matchType = arrow.StructOf(
	arrow.Field{Name: "candidate", Type: arrow.PrimitiveTypes.Int32},
	arrow.Field{Name: "simulated", Type: arrow.PrimitiveTypes.Int32},
)

func (c column) dataType(nullable bool) arrow.DataType {
	switch c.kind {
	case colHeader:
		return arrow.StructOf(valueFields(c.branch, nullable)...)
	case colRecords:
		fields := append([]arrow.Field{{Name: ColID, Type: arrow.PrimitiveTypes.Int32}}, valueFields(c.branch, nullable)...)
		return arrow.ListOf(arrow.StructOf(fields...))
	default:
		return arrow.ListOf(matchType)
	}
}

// arrowSchema renders cols after the fixed leading columns. withEvent adds
// the event index column.
func arrowSchema(cfg *schema.Configuration, cols []column, withEvent, nullable bool) (*arrow.Schema, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("arrowipc: encode configuration: %w", err)
	}
	fields := []arrow.Field{{Name: ColPartition, Type: arrow.BinaryTypes.String}}
	if withEvent {
		fields = append(fields, arrow.Field{Name: ColEvent, Type: arrow.PrimitiveTypes.Int64})
	}
	for i := range cols {
		cols[i].index = len(fields)
		fields = append(fields, arrow.Field{Name: cols[i].name, Type: cols[i].dataType(nullable)})
	}
	md := arrow.NewMetadata(
		[]string{MetaConfiguration, MetaFingerprint, MetaRunID},
		[]string{string(raw), cfg.FingerprintHex(), cfg.RunID},
	)
	return arrow.NewSchema(fields, &md), nil
}
