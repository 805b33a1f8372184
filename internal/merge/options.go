package merge

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"treemerge/internal/schema"
)

// Branch and match names of the merged layout.
const (
	// BranchEvents holds one record per event (collision metadata).
	BranchEvents = "Events"
	// BranchCandidates holds the reconstructed candidates of an event.
	BranchCandidates = "Candidates"
	// BranchSimulated holds the truth record of each accepted candidate.
	BranchSimulated = "Simulated"
	// BranchGenerated holds generator-level records, one set per partition.
	BranchGenerated = "Generated"
	// MatchCandidates2Simulated links Candidates to Simulated record IDs.
	MatchCandidates2Simulated = "Candidates2Simulated"
)

// Generated placements.
const (
	// PlacementFirstEvent attaches a partition's generated rows to its first
	// event.
	PlacementFirstEvent = "first_event"
	// PlacementPartition hands generated rows to Sink.WriteGenerated once per
	// partition.
	PlacementPartition = "partition"
)

// TableSpec is one physical table backing an entity.
type TableSpec struct {
	// Name is the table name inside a partition.
	Name string
	// Prefix is prepended to the table's column names under NamePrefix.
	Prefix string
	// EventMetadataOnly tables are only read when event metadata is enabled.
	EventMetadataOnly bool
}

// EntityLayout lists the physical tables of one entity in discovery order.
type EntityLayout struct {
	Tables []TableSpec
}

// Layout names the source tables and the fields the driver needs.
type Layout struct {
	Events     EntityLayout
	Candidates EntityLayout
	Simulated  EntityLayout
	Generated  EntityLayout

	// EventKeyField is the Events field whose value identifies an event.
	EventKeyField string
	// CandidateKeyField is the Candidates field referencing EventKeyField.
	CandidateKeyField string
	// StatusField is the Candidates field tested against Options.Accept.
	StatusField string
}

// DefaultLayout returns the table names and prefixes of the HF Lc
// derived-data tables:
//
//	Events      O2hfcandlcfullev (Ev_)
//	Candidates  O2hfcandlckf (KF_), O2hfcandlclite (Lite_), O2hfcollidlclite
//	Simulated   O2hfcandlcmc (Sim_)
//	Generated   O2hfcandlcfullp (Gen_)
//
// The collision-ID table only carries the candidate foreign key and is read
// only with event metadata.
func DefaultLayout() Layout {
	return Layout{
		Events: EntityLayout{Tables: []TableSpec{
			{Name: "O2hfcandlcfullev", Prefix: "Ev_", EventMetadataOnly: true},
		}},
		Candidates: EntityLayout{Tables: []TableSpec{
			{Name: "O2hfcandlckf", Prefix: "KF_"},
			{Name: "O2hfcandlclite", Prefix: "Lite_"},
			{Name: "O2hfcollidlclite", Prefix: "", EventMetadataOnly: true},
		}},
		Simulated: EntityLayout{Tables: []TableSpec{
			{Name: "O2hfcandlcmc", Prefix: "Sim_"},
		}},
		Generated: EntityLayout{Tables: []TableSpec{
			{Name: "O2hfcandlcfullp", Prefix: "Gen_"},
		}},
		EventKeyField:     "fIndexCollisions",
		CandidateKeyField: "fIndexCollisions",
		StatusField:       "fSigBgStatus",
	}
}

// DefaultAccept is the status accept-set used when Options.Accept is empty.
var DefaultAccept = []int32{1, 2}

// Options configure a Driver.
type Options struct {
	// Job labels logs and metrics.
	Job string

	// IncludeSimulation enables the Simulated and Generated entities and
	// the Candidates2Simulated match.
	IncludeSimulation bool
	// IncludeEventMetadata enables the Events entity and the foreign-key
	// join; without it a partition is one event.
	IncludeEventMetadata bool

	// MaxOutputRecords stops the run after that many events; <= 0 means no
	// limit.
	MaxOutputRecords int

	// Accept is the set of status values that pair a candidate with its
	// simulated record.
	Accept []int32

	// Placement is PlacementFirstEvent (default) or PlacementPartition.
	Placement string

	Layout Layout
	// Filter restricts the fields of every branch.
	Filter schema.Filter
	// NameStyle decides how source columns become field names.
	NameStyle schema.NameStyle

	// LoadWorkers bounds concurrent table loads per partition.
	LoadWorkers int

	// RunID identifies the run in the Configuration; a UUID when empty.
	RunID string
}

// withDefaults fills the zero fields; it never overrides set ones.
func (o Options) withDefaults() Options {
	if o.Job == "" {
		o.Job = "treemerge"
	}
	if len(o.Accept) == 0 {
		o.Accept = append([]int32(nil), DefaultAccept...)
	}
	if o.Placement == "" {
		o.Placement = PlacementFirstEvent
	}
	if o.NameStyle == "" {
		o.NameStyle = schema.NamePrefix
	}
	if o.LoadWorkers < 1 {
		o.LoadWorkers = 1
	}
	if o.RunID == "" {
		o.RunID = uuid.NewString()
	}
	return o
}

// validate reports every problem at once, joined. It mirrors the pipeline
// checks in the config package for callers that build Options directly.
func (o Options) validate() error {
	var errs []error
	if err := o.Filter.Validate(); err != nil {
		errs = append(errs, err)
	}
	if !o.NameStyle.Valid() {
		errs = append(errs, fmt.Errorf("unknown name style %q", o.NameStyle))
	}
	switch o.Placement {
	case PlacementFirstEvent, PlacementPartition:
	default:
		errs = append(errs, fmt.Errorf("unknown generated placement %q", o.Placement))
	}
	l := o.Layout
	if len(o.activeTables(l.Candidates)) == 0 {
		errs = append(errs, errors.New("layout: candidates need at least one table"))
	}
	if o.IncludeEventMetadata {
		if len(l.Events.Tables) == 0 {
			errs = append(errs, errors.New("layout: event metadata needs an events table"))
		}
		if l.EventKeyField == "" || l.CandidateKeyField == "" {
			errs = append(errs, errors.New("layout: event metadata needs event and candidate key fields"))
		}
	}
	if o.IncludeSimulation {
		if len(o.activeTables(l.Simulated)) == 0 {
			errs = append(errs, errors.New("layout: simulation needs a simulated table"))
		}
		if l.StatusField == "" {
			errs = append(errs, errors.New("layout: simulation needs a status field"))
		}
	}
	seen := map[string]string{}
	for _, ent := range o.entities() {
		for _, ts := range ent.layout.Tables {
			if ts.Name == "" {
				errs = append(errs, fmt.Errorf("layout: %s has a table without a name", ent.name))
				continue
			}
			if prev, dup := seen[ts.Name]; dup {
				errs = append(errs, fmt.Errorf("layout: table %s used by %s and %s", ts.Name, prev, ent.name))
			}
			seen[ts.Name] = ent.name
		}
	}
	return errors.Join(errs...)
}

// entityPlan is one entity to discover and read.
type entityPlan struct {
	name   string
	layout EntityLayout
}

// entities returns the entities read under o, in branch order.
func (o Options) entities() []entityPlan {
	var out []entityPlan
	if o.IncludeEventMetadata {
		out = append(out, entityPlan{BranchEvents, o.Layout.Events})
	}
	out = append(out, entityPlan{BranchCandidates, o.Layout.Candidates})
	if o.IncludeSimulation {
		out = append(out, entityPlan{BranchSimulated, o.Layout.Simulated})
		if len(o.Layout.Generated.Tables) > 0 {
			out = append(out, entityPlan{BranchGenerated, o.Layout.Generated})
		}
	}
	return out
}

// activeTables drops event-metadata-only tables when metadata is off.
func (o Options) activeTables(l EntityLayout) []TableSpec {
	out := make([]TableSpec, 0, len(l.Tables))
	for _, ts := range l.Tables {
		if ts.EventMetadataOnly && !o.IncludeEventMetadata {
			continue
		}
		out = append(out, ts)
	}
	return out
}

// tableNames lists every table a partition must provide.
func (o Options) tableNames() []string {
	var out []string
	for _, ent := range o.entities() {
		for _, ts := range o.activeTables(ent.layout) {
			out = append(out, ts.Name)
		}
	}
	return out
}
