package config

import (
	"fmt"
	"strings"

	"treemerge/internal/merge"
	"treemerge/internal/schema"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced to users but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding.
//
// Path is a dotted path into the config (e.g. "output.kind",
// "layout.candidates[1].name").
type Issue struct {
	Severity IssueSeverity
	Path     string
	// Message is a complete sentence fragment meant for users.
	Message string
}

// Error renders the issue as "<severity> at <path>: <message>".
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue has SeverityError.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Kinds with a registered implementation in this module. Unknown kinds
// only warn, since a build may register more.
var (
	knownSources = map[string]struct{}{"arrow": {}, "parquet": {}, "sqlite": {}}
	knownStores  = map[string]struct{}{"postgres": {}, "mssql": {}, "mysql": {}, "sqlite": {}, "duckdb": {}}
)

// ValidatePipeline performs static validation of p. It does not mutate p and
// is meant to run after ApplyDefaults; unset values that have defaults are
// not reported.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue

	if strings.TrimSpace(p.Job) == "" {
		issues = append(issues, errorf("job", "job must not be empty; it labels logs and metrics"))
	}
	if p.MaxOutputRecords < 0 {
		issues = append(issues, warnf("max_output_records", "max_output_records=%d is treated as unbounded", p.MaxOutputRecords))
	}
	if len(p.IgnoreFields) > 0 && len(p.AllowFields) > 0 {
		issues = append(issues, errorf("ignore_fields", "ignore_fields and allow_fields are mutually exclusive"))
	}
	if !schema.NameStyle(p.NameStyle).Valid() {
		issues = append(issues, errorf("name_style", "unknown name style %q (want %q or %q)", p.NameStyle, schema.NamePrefix, schema.NameLegacy))
	}

	issues = append(issues, validateSource(p.Source)...)
	issues = append(issues, validateLayout(p)...)
	issues = append(issues, validateMatch(p)...)
	issues = append(issues, validateOutput(p.Output)...)
	issues = append(issues, validateRuntime(p.Runtime)...)
	return issues
}

// validateSource checks the kind, the path and the partition selection.
func validateSource(s Source) []Issue {
	var issues []Issue

	if strings.TrimSpace(s.Kind) == "" {
		issues = append(issues, errorf("source.kind", "source.kind must not be empty"))
	} else if _, ok := knownSources[s.Kind]; !ok {
		issues = append(issues, warnf("source.kind", "unknown source kind %q; ensure a matching implementation is registered", s.Kind))
	}
	if strings.TrimSpace(s.Path) == "" {
		issues = append(issues, errorf("source.path", "source.path must not be empty"))
	}
	if len(s.Partitions) > 0 && s.PartitionsFile != "" {
		issues = append(issues, errorf("source.partitions_file", "partitions and partitions_file are mutually exclusive"))
	}

	seen := map[string]struct{}{}
	for i, name := range s.Partitions {
		path := fmt.Sprintf("source.partitions[%d]", i)
		if strings.TrimSpace(name) == "" {
			issues = append(issues, errorf(path, "partition name must not be empty"))
			continue
		}
		if _, dup := seen[name]; dup {
			issues = append(issues, errorf(path, "partition %q listed twice", name))
		}
		seen[name] = struct{}{}
		for _, skip := range s.SkipPartitions {
			if skip == name {
				issues = append(issues, warnf(path, "partition %q is also in skip_partitions and will not be merged", name))
			}
		}
	}
	return issues
}

// validateLayout checks table names and the fields needed by the enabled
// entities. A nil layout means the default, which is always valid.
func validateLayout(p Pipeline) []Issue {
	if p.Layout == nil {
		return nil
	}
	l := p.Layout
	var issues []Issue

	entities := []struct {
		name   string
		tables []Table
		active bool
	}{
		{"events", l.Events, p.IncludeEventMetadata},
		{"candidates", l.Candidates, true},
		{"simulated", l.Simulated, p.IncludeSimulation},
		{"generated", l.Generated, p.IncludeSimulation},
	}
	// A table may back only one entity, even when that entity is disabled.
	owner := map[string]string{}
	for _, ent := range entities {
		for i, t := range ent.tables {
			path := fmt.Sprintf("layout.%s[%d].name", ent.name, i)
			if strings.TrimSpace(t.Name) == "" {
				issues = append(issues, errorf(path, "table name must not be empty"))
				continue
			}
			if prev, dup := owner[t.Name]; dup {
				issues = append(issues, errorf(path, "table %q is already used by %s", t.Name, prev))
				continue
			}
			owner[t.Name] = ent.name
		}
	}

	if !hasReadable(l.Candidates, p.IncludeEventMetadata) {
		issues = append(issues, errorf("layout.candidates", "candidates need at least one table read under the current settings"))
	}
	if p.IncludeEventMetadata {
		if len(l.Events) == 0 {
			issues = append(issues, errorf("layout.events", "include_event_metadata needs an events table"))
		}
		if l.EventKeyField == "" {
			issues = append(issues, errorf("layout.event_key_field", "include_event_metadata needs event_key_field"))
		}
		if l.CandidateKeyField == "" {
			issues = append(issues, errorf("layout.candidate_key_field", "include_event_metadata needs candidate_key_field"))
		}
	}
	if p.IncludeSimulation && !hasReadable(l.Simulated, p.IncludeEventMetadata) {
		issues = append(issues, errorf("layout.simulated", "include_simulation needs a simulated table"))
	}
	return issues
}

// hasReadable reports whether any table of ts is read under the settings.
func hasReadable(ts []Table, eventMetadata bool) bool {
	for _, t := range ts {
		if eventMetadata || !t.EventMetadataOnly {
			return true
		}
	}
	return false
}

// validateMatch checks the status field and accept set when simulation is
// enabled, and warns about match settings that would be ignored otherwise.
func validateMatch(p Pipeline) []Issue {
	var issues []Issue
	m := p.Match
	if !p.IncludeSimulation {
		if len(m.Accept) > 0 && !equalInt32(m.Accept, merge.DefaultAccept) {
			issues = append(issues, warnf("match.accept", "match.accept is ignored without include_simulation"))
		}
		return issues
	}
	if strings.TrimSpace(m.StatusField) == "" {
		issues = append(issues, errorf("match.status_field", "include_simulation needs a status field"))
	}
	seen := map[int32]struct{}{}
	for i, v := range m.Accept {
		if _, dup := seen[v]; dup {
			issues = append(issues, warnf(fmt.Sprintf("match.accept[%d]", i), "status %d listed twice", v))
		}
		seen[v] = struct{}{}
	}
	return issues
}

// equalInt32 compares two slices element-wise, in order.
func equalInt32(a, b []int32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// validateOutput checks the fields each output kind needs and warns about
// the ones it ignores.
func validateOutput(o Output) []Issue {
	var issues []Issue

	switch placement := o.GeneratedPlacement; placement {
	case "", merge.PlacementFirstEvent, merge.PlacementPartition:
	default:
		issues = append(issues, errorf("output.generated_placement", "unknown generated placement %q (want %q or %q)",
			placement, merge.PlacementFirstEvent, merge.PlacementPartition))
	}

	kind := strings.TrimSpace(o.Kind)
	if kind == "" {
		return append(issues, errorf("output.kind", "output.kind must not be empty"))
	}
	// Arrow output writes one file; the SQL settings do not apply.
	if kind == OutputArrow {
		if strings.TrimSpace(o.Path) == "" {
			issues = append(issues, errorf("output.path", "arrow output requires a non-empty path"))
		}
		if o.DSN != "" {
			issues = append(issues, warnf("output.dsn", "dsn is ignored for arrow output"))
		}
		if o.TablePrefix != "" || o.AutoCreateTables {
			issues = append(issues, warnf("output.table_prefix", "table settings are ignored for arrow output"))
		}
		return issues
	}

	if _, ok := knownStores[kind]; !ok {
		issues = append(issues, warnf("output.kind", "unknown output kind %q; ensure a matching storage backend is registered", kind))
	}
	if strings.TrimSpace(o.DSN) == "" {
		issues = append(issues, errorf("output.dsn", "%s output requires a non-empty dsn", kind))
	}
	if o.Path != "" {
		issues = append(issues, warnf("output.path", "path is ignored for %s output", kind))
	}
	if !o.AutoCreateTables {
		issues = append(issues, warnf("output.auto_create_tables", "auto_create_tables is false; the output tables must already exist"))
	}
	return issues
}

// validateRuntime checks batching and load concurrency.
func validateRuntime(r RuntimeConfig) []Issue {
	var issues []Issue
	if r.BatchSize <= 0 {
		issues = append(issues, warnf("runtime.batch_size", "batch_size=%d; the default of %d is used", r.BatchSize, DefaultBatchSize))
	}
	if r.LoadWorkers < 0 {
		issues = append(issues, errorf("runtime.load_workers", "load_workers must not be negative"))
	}
	return issues
}

// errorf builds a SeverityError issue.
func errorf(path, format string, a ...any) Issue {
	return Issue{Severity: SeverityError, Path: path, Message: fmt.Sprintf(format, a...)}
}

// warnf builds a SeverityWarning issue.
func warnf(path, format string, a ...any) Issue {
	return Issue{Severity: SeverityWarning, Path: path, Message: fmt.Sprintf(format, a...)}
}
