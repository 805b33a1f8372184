package merge

import (
	"context"
	"errors"
	"sync"

	"treemerge/internal/schema"
	"treemerge/internal/value"
)

// Record is one merged row of an entity. Values are indexed by the branch's
// field slots; ID is the record's position in its event collection.
type Record struct {
	// ID is zero-based and dense within one collection of one event.
	ID int32
	// Values holds one value per branch field; a null source value is the
	// zero Value.
	Values []value.Value
}

func (r Record) clone() Record {
	return Record{ID: r.ID, Values: append([]value.Value(nil), r.Values...)}
}

// Match links a Candidates record to the Simulated record it was paired with.
type Match struct {
	// Candidate is the Record.ID in Event.Candidates.
	Candidate int32
	// Simulated is the Record.ID in Event.Simulated.
	Simulated int32
}

// Event is one merged output record. The Driver reuses a single Event for
// the whole run, so sinks must copy anything they keep past WriteEvent.
type Event struct {
	// Partition names the partition the event was read from.
	Partition string
	// Index is the event's position within its partition.
	Index int64
	// Global is the event's position within the run.
	Global int64

	// Header holds the Events record; nil without event metadata.
	Header *Record
	// Candidates are the event's candidates in source row order.
	Candidates []Record
	// Simulated holds one truth record per accepted candidate, in the same
	// order as the accepted candidates.
	Simulated []Record
	// Generated is non-empty only on a partition's first event, and only
	// with PlacementFirstEvent.
	Generated []Record
	// Matches links each accepted candidate to its Simulated record.
	Matches []Match

	header Record
}

// Records returns the records of the named branch. The Events branch yields
// the header as a single record, or nothing without event metadata.
func (e *Event) Records(branch string) []Record {
	switch branch {
	case BranchEvents:
		if e.Header == nil {
			return nil
		}
		return []Record{*e.Header}
	case BranchCandidates:
		return e.Candidates
	case BranchSimulated:
		return e.Simulated
	case BranchGenerated:
		return e.Generated
	}
	return nil
}

// Reset empties every collection, keeping allocated storage.
func (e *Event) Reset() {
	e.Header = nil
	e.Candidates = e.Candidates[:0]
	e.Simulated = e.Simulated[:0]
	e.Generated = e.Generated[:0]
	e.Matches = e.Matches[:0]
}

func (e *Event) setHeader(width int) *Record {
	e.header.ID = 0
	e.header.Values = sized(e.header.Values, width)
	e.Header = &e.header
	return e.Header
}

func (e *Event) clone() Event {
	out := Event{Partition: e.Partition, Index: e.Index, Global: e.Global}
	if e.Header != nil {
		h := e.Header.clone()
		out.Header = &h
	}
	out.Candidates = cloneRecords(e.Candidates)
	out.Simulated = cloneRecords(e.Simulated)
	out.Generated = cloneRecords(e.Generated)
	out.Matches = append([]Match(nil), e.Matches...)
	return out
}

func cloneRecords(in []Record) []Record {
	if len(in) == 0 {
		return nil
	}
	out := make([]Record, len(in))
	for i, r := range in {
		out[i] = r.clone()
	}
	return out
}

// appendRecord grows recs by one record of width values, reusing the backing
// storage of earlier events when possible.
func appendRecord(recs []Record, width int) ([]Record, *Record) {
	n := len(recs)
	if n < cap(recs) {
		recs = recs[:n+1]
	} else {
		recs = append(recs, Record{})
	}
	r := &recs[n]
	r.ID = int32(n)
	r.Values = sized(r.Values, width)
	return recs, r
}

func sized(v []value.Value, n int) []value.Value {
	if cap(v) >= n {
		return v[:n]
	}
	return make([]value.Value, n)
}

// Sink persists merged events. Begin is called once, before the first
// event, with the fixed Configuration. The caller of Driver.Run owns Close.
type Sink interface {
	Begin(ctx context.Context, cfg *schema.Configuration) error
	WriteEvent(ctx context.Context, ev *Event) error
	// WriteGenerated receives a partition's generated records when they are
	// placed per partition. recs is reused after the call returns.
	WriteGenerated(ctx context.Context, partition string, recs []Record) error
	Close(ctx context.Context) error
}

var errBegunTwice = errors.New("merge: collector: Begin called twice")

// Collector is a Sink that keeps deep copies of everything it receives. It
// backs the tests and the inspect command, where the output fits in memory.
type Collector struct {
	mu sync.Mutex
	// Config is set by Begin.
	Config *schema.Configuration
	// Events are deep copies in write order.
	Events []Event
	// Generated holds per-partition generated records (PlacementPartition).
	Generated map[string][]Record
	Closed    bool
}

// Begin records cfg. A second call is an error.
func (c *Collector) Begin(_ context.Context, cfg *schema.Configuration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Config != nil {
		return errBegunTwice
	}
	c.Config = cfg
	return nil
}

// WriteEvent appends a deep copy of ev.
func (c *Collector) WriteEvent(_ context.Context, ev *Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Events = append(c.Events, ev.clone())
	return nil
}

// WriteGenerated appends copies of recs under partition.
func (c *Collector) WriteGenerated(_ context.Context, partition string, recs []Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Generated == nil {
		c.Generated = map[string][]Record{}
	}
	c.Generated[partition] = append(c.Generated[partition], cloneRecords(recs)...)
	return nil
}

// Close marks the collector closed; it never fails.
func (c *Collector) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Closed = true
	return nil
}
