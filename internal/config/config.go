// Package config defines the JSON/YAML-serializable pipeline model for a
// treemerge run: where the partitioned input lives, how its tables map onto
// the merged entities, which fields are kept, and where the merged events are
// written.
//
// A pipeline file is decoded with Load, completed with ApplyDefaults, checked
// with ValidatePipeline and then turned into merge.Options with MergeOptions.
//
// Example (trimmed):
//
//	{
//	  "job": "lc_train",
//	  "include_simulation": true,
//	  "include_event_metadata": true,
//	  "source": { "kind": "arrow", "path": "data/ao2d" },
//	  "output": { "kind": "arrow", "path": "out/merged.arrow" }
//	}
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"treemerge/internal/datasource"
	"treemerge/internal/datasource/file"
	"treemerge/internal/merge"
	"treemerge/internal/schema"
)

// Output kinds that do not go through storage.
const (
	OutputArrow = "arrow"
)

// Default runtime values.
const (
	DefaultBatchSize   = 1024
	DefaultLoadWorkers = 1
)

// Pipeline is the top-level object decoded from a pipeline file.
type Pipeline struct {
	// Job names the run in logs and metrics.
	Job string `json:"job" yaml:"job"`

	// IncludeSimulation merges the simulated and generated entities and
	// emits candidate/simulated matches.
	IncludeSimulation bool `json:"include_simulation" yaml:"include_simulation"`
	// IncludeEventMetadata reads the events entity and groups candidates by
	// event. Without it every partition is a single event.
	IncludeEventMetadata bool `json:"include_event_metadata" yaml:"include_event_metadata"`

	// MaxOutputRecords stops the run after that many events; <= 0 is
	// unbounded.
	MaxOutputRecords int `json:"max_output_records" yaml:"max_output_records"`

	// IgnoreFields and AllowFields filter output field names. At most one may
	// be set.
	IgnoreFields []string `json:"ignore_fields,omitempty" yaml:"ignore_fields,omitempty"`
	AllowFields  []string `json:"allow_fields,omitempty" yaml:"allow_fields,omitempty"`

	// NameStyle is "prefix" (default) or "legacy".
	NameStyle string `json:"name_style,omitempty" yaml:"name_style,omitempty"`

	Source Source `json:"source" yaml:"source"`
	// Layout overrides the default table layout; nil keeps the default.
	Layout  *Layout       `json:"layout,omitempty" yaml:"layout,omitempty"`
	Match   Match         `json:"match" yaml:"match"`
	Output  Output        `json:"output" yaml:"output"`
	Runtime RuntimeConfig `json:"runtime" yaml:"runtime"`
}

// Source locates the partitioned input and selects partitions.
type Source struct {
	// Kind is "arrow", "parquet" or "sqlite".
	Kind string `json:"kind" yaml:"kind"`
	// Path is a directory (arrow, parquet) or a database file (sqlite).
	Path string `json:"path" yaml:"path"`

	// Partitions lists the partitions to merge, in order. Empty means all.
	Partitions []string `json:"partitions,omitempty" yaml:"partitions,omitempty"`
	// PartitionsFile names a file with one partition per line; '#' starts a
	// comment line. Mutually exclusive with Partitions.
	PartitionsFile string `json:"partitions_file,omitempty" yaml:"partitions_file,omitempty"`
	// SkipPartitions are never merged. Nil means ["parentFiles"].
	SkipPartitions []string `json:"skip_partitions,omitempty" yaml:"skip_partitions,omitempty"`
}

// Table is one physical table of an entity.
type Table struct {
	// Name is the table name inside each partition.
	Name string `json:"name" yaml:"name"`
	// Prefix is prepended to the table's column names (name_style prefix).
	Prefix string `json:"prefix" yaml:"prefix"`
	// EventMetadataOnly tables are skipped unless include_event_metadata
	// is set.
	EventMetadataOnly bool `json:"event_metadata_only,omitempty" yaml:"event_metadata_only,omitempty"`
}

// Layout maps physical tables onto the merged entities. A nil entity list is
// replaced by the default layout's list; an explicit empty list means the
// entity has no tables.
type Layout struct {
	Events     []Table `json:"events" yaml:"events"`
	Candidates []Table `json:"candidates" yaml:"candidates"`
	Simulated  []Table `json:"simulated" yaml:"simulated"`
	Generated  []Table `json:"generated" yaml:"generated"`

	// EventKeyField and CandidateKeyField name the output fields joined to
	// group candidates by event.
	EventKeyField     string `json:"event_key_field,omitempty" yaml:"event_key_field,omitempty"`
	CandidateKeyField string `json:"candidate_key_field,omitempty" yaml:"candidate_key_field,omitempty"`
}

// Match configures candidate/simulated pairing.
type Match struct {
	// StatusField is the candidate field holding the match status.
	StatusField string `json:"status_field,omitempty" yaml:"status_field,omitempty"`
	// Accept lists the status values that pair a candidate with its
	// simulated record. Empty means [1, 2].
	Accept []int32 `json:"accept,omitempty" yaml:"accept,omitempty"`
}

// Output selects the sink.
type Output struct {
	// Kind is "arrow" or a storage kind (postgres, mssql, mysql, sqlite,
	// duckdb).
	Kind string `json:"kind" yaml:"kind"`
	// Path is the Arrow IPC file for kind "arrow".
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
	// DSN is the connection string for storage kinds.
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty"`

	// TablePrefix is prepended to every output table name.
	TablePrefix string `json:"table_prefix,omitempty" yaml:"table_prefix,omitempty"`
	// AutoCreateTables issues CREATE TABLE IF NOT EXISTS before writing.
	AutoCreateTables bool `json:"auto_create_tables" yaml:"auto_create_tables"`

	// GeneratedPlacement is "first_event" (default) or "partition".
	GeneratedPlacement string `json:"generated_placement,omitempty" yaml:"generated_placement,omitempty"`
	// SentinelNulls writes -999 instead of nulls.
	SentinelNulls bool `json:"sentinel_nulls,omitempty" yaml:"sentinel_nulls,omitempty"`
}

// IsArrow reports whether the output is an Arrow IPC file.
func (o Output) IsArrow() bool { return o.Kind == OutputArrow }

// RuntimeConfig controls batching and table loading.
type RuntimeConfig struct {
	// BatchSize is rows per copy (SQL) or per record batch (Arrow).
	BatchSize int `json:"batch_size" yaml:"batch_size"`
	// LoadWorkers bounds concurrent table loads within a partition.
	LoadWorkers int `json:"load_workers" yaml:"load_workers"`
}

// Load decodes the pipeline file at path. Files ending in .yaml or .yml are
// decoded as YAML, everything else as JSON. Unknown keys are rejected.
func Load(path string) (Pipeline, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return DecodeYAML(b)
	default:
		return DecodeJSON(b)
	}
}

// DecodeJSON decodes a JSON pipeline.
func DecodeJSON(b []byte) (Pipeline, error) {
	var p Pipeline
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Pipeline{}, fmt.Errorf("config: decode json: %w", err)
	}
	return p, nil
}

// DecodeYAML decodes a YAML pipeline.
func DecodeYAML(b []byte) (Pipeline, error) {
	var p Pipeline
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return Pipeline{}, fmt.Errorf("config: decode yaml: %w", err)
	}
	return p, nil
}

// ApplyDefaults fills every unset value that has a default.
func ApplyDefaults(p *Pipeline) {
	if p.NameStyle == "" {
		p.NameStyle = string(schema.NamePrefix)
	}
	if p.Source.SkipPartitions == nil {
		p.Source.SkipPartitions = append([]string(nil), datasource.DefaultSkip...)
	}

	def := LayoutFrom(merge.DefaultLayout())
	if p.Layout == nil {
		p.Layout = &def
	} else {
		l := p.Layout
		if l.Events == nil {
			l.Events = def.Events
		}
		if l.Candidates == nil {
			l.Candidates = def.Candidates
		}
		if l.Simulated == nil {
			l.Simulated = def.Simulated
		}
		if l.Generated == nil {
			l.Generated = def.Generated
		}
		if l.EventKeyField == "" {
			l.EventKeyField = def.EventKeyField
		}
		if l.CandidateKeyField == "" {
			l.CandidateKeyField = def.CandidateKeyField
		}
	}

	if p.Match.StatusField == "" {
		p.Match.StatusField = merge.DefaultLayout().StatusField
	}
	if len(p.Match.Accept) == 0 {
		p.Match.Accept = append([]int32(nil), merge.DefaultAccept...)
	}
	if p.Output.GeneratedPlacement == "" {
		p.Output.GeneratedPlacement = merge.PlacementFirstEvent
	}
	if p.Runtime.BatchSize == 0 {
		p.Runtime.BatchSize = DefaultBatchSize
	}
	if p.Runtime.LoadWorkers == 0 {
		p.Runtime.LoadWorkers = DefaultLoadWorkers
	}
}

// LayoutFrom converts a merge.Layout into its configuration form.
func LayoutFrom(l merge.Layout) Layout {
	return Layout{
		Events:            tablesFrom(l.Events),
		Candidates:        tablesFrom(l.Candidates),
		Simulated:         tablesFrom(l.Simulated),
		Generated:         tablesFrom(l.Generated),
		EventKeyField:     l.EventKeyField,
		CandidateKeyField: l.CandidateKeyField,
	}
}

func tablesFrom(e merge.EntityLayout) []Table {
	out := make([]Table, 0, len(e.Tables))
	for _, t := range e.Tables {
		out = append(out, Table{Name: t.Name, Prefix: t.Prefix, EventMetadataOnly: t.EventMetadataOnly})
	}
	return out
}

func entityLayout(ts []Table) merge.EntityLayout {
	out := merge.EntityLayout{Tables: make([]merge.TableSpec, 0, len(ts))}
	for _, t := range ts {
		out.Tables = append(out.Tables, merge.TableSpec{Name: t.Name, Prefix: t.Prefix, EventMetadataOnly: t.EventMetadataOnly})
	}
	return out
}

// MergeOptions converts p into driver options. Call ApplyDefaults first;
// values left unset fall back to the driver's own defaults.
func (p Pipeline) MergeOptions() merge.Options {
	layout := merge.DefaultLayout()
	if p.Layout != nil {
		layout = merge.Layout{
			Events:            entityLayout(p.Layout.Events),
			Candidates:        entityLayout(p.Layout.Candidates),
			Simulated:         entityLayout(p.Layout.Simulated),
			Generated:         entityLayout(p.Layout.Generated),
			EventKeyField:     p.Layout.EventKeyField,
			CandidateKeyField: p.Layout.CandidateKeyField,
			StatusField:       layout.StatusField,
		}
	}
	if p.Match.StatusField != "" {
		layout.StatusField = p.Match.StatusField
	}
	return merge.Options{
		Job:                  p.Job,
		IncludeSimulation:    p.IncludeSimulation,
		IncludeEventMetadata: p.IncludeEventMetadata,
		MaxOutputRecords:     p.MaxOutputRecords,
		Accept:               append([]int32(nil), p.Match.Accept...),
		Placement:            p.Output.GeneratedPlacement,
		Layout:               layout,
		Filter:               schema.Filter{Ignore: p.IgnoreFields, Allow: p.AllowFields},
		NameStyle:            schema.NameStyle(p.NameStyle),
		LoadWorkers:          p.Runtime.LoadWorkers,
	}
}

// PartitionList returns the explicitly requested partitions: Partitions, or
// the contents of PartitionsFile. Nil means all partitions.
func (s Source) PartitionList() ([]string, error) {
	if s.PartitionsFile == "" {
		return s.Partitions, nil
	}
	names, err := file.ReadList(s.PartitionsFile)
	if err != nil {
		return nil, fmt.Errorf("config: partitions_file: %w", err)
	}
	return names, nil
}
