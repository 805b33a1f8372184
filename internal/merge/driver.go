// Package merge joins the tables of every partition into nested events.
//
// A Driver discovers the output layout on the first partition, then, for
// each partition, checks that lock-step tables agree on row counts, groups
// candidate rows under their event by foreign key, pairs accepted candidates
// with their simulated truth, and hands every event to a Sink.
//
// Per partition:
//
//  1. Load the physical tables the layout names (optionally in parallel,
//     Options.LoadWorkers). A missing table is an input-integrity error.
//  2. First partition only: discover the layout, resolve the key and status
//     fields, call Sink.Begin with the fixed Configuration.
//  3. Bind carriers; check lock-step row counts; build the foreign-key index
//     when event metadata is present.
//  4. For each event: fill the Events record, collect its candidates, pair
//     candidates whose status is in the accept set with their truth row,
//     attach generated rows per Options.Placement, and write the event.
//
// Errors: configuration, input-integrity, unsupported-type and output
// failures abort the run as *RunError (see ErrorKind). A candidate whose key
// matches no event and a candidate that fails the status predicate are not
// errors. Cancellation is checked between partitions and between events and
// is returned as ctx.Err() wrapped with the partition name.
//
// Logging: one line per partition with event, candidate and match counts,
// and a summary line at the end of Run. Metrics are recorded per partition
// step and per record kind under Options.Job.
package merge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dustin/go-humanize"

	"treemerge/internal/datasource"
	"treemerge/internal/join"
	"treemerge/internal/metrics"
	"treemerge/internal/schema"
	"treemerge/internal/table"
)

var errRunTwice = errors.New("merge: driver already ran")

// Stats counts what a run emitted.
type Stats struct {
	// Partitions counts partitions merged to the end.
	Partitions int
	// Events counts events handed to the sink; MaxOutputRecords caps it.
	Events     int64
	Candidates int64
	Simulated  int64
	// Generated counts generated records, whatever their placement.
	Generated int64
	// Matches counts Candidates2Simulated links; with the default accept set
	// it equals Simulated.
	Matches int64
	// Truncated is set when MaxOutputRecords stopped the run early.
	Truncated bool
}

// Driver runs one merge. It is not safe for concurrent use and runs only
// once: the discovered layout belongs to that run.
//
// The Driver owns one Event and reuses it for every WriteEvent call; sinks
// that keep events must copy them (see Collector).
type Driver struct {
	opts   Options
	accept map[int32]struct{}

	m    machine
	disc *schema.Discovered
	ran  bool

	events     *reader
	candidates *reader
	simulated  *reader
	generated  *reader

	eventKey     int
	candidateKey int
	status       int

	ev    Event
	gen   []Record
	stats Stats
}

// New applies defaults to opts, validates them and returns a Driver. An
// invalid option is reported as a *RunError of KindConfiguration.
func New(opts Options) (*Driver, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, &RunError{Kind: KindConfiguration, Err: err}
	}
	d := &Driver{opts: opts, accept: make(map[int32]struct{}, len(opts.Accept))}
	for _, a := range opts.Accept {
		d.accept[a] = struct{}{}
	}
	return d, nil
}

// Options returns the options with defaults applied.
func (d *Driver) Options() Options { return d.opts }

// Configuration returns the discovered layout, or nil before the first
// partition has been opened.
func (d *Driver) Configuration() *schema.Configuration {
	if d.disc == nil {
		return nil
	}
	return d.disc.Config
}

// State reports the lifecycle state.
func (d *Driver) State() State { return d.m.state }

// Run merges the given partitions in order into sink. A nil partitions list
// means every partition of src except datasource.DefaultSkip. Run does not
// close sink.
//
// Once MaxOutputRecords events have been written the remaining partitions
// are skipped (logged and counted) and Stats.Truncated is set; that is not
// an error.
func (d *Driver) Run(ctx context.Context, src datasource.Container, partitions []string, sink Sink) (Stats, error) {
	if d.ran {
		return d.stats, errRunTwice
	}
	d.ran = true
	start := time.Now()

	// nil selects everything; an empty, non-nil list merges nothing.
	if partitions == nil {
		all, err := src.Partitions(ctx)
		if err != nil {
			return d.stats, fail("", KindInputIntegrity, fmt.Errorf("list partitions: %w", err))
		}
		partitions, _ = datasource.Select(all, nil, datasource.DefaultSkip)
	}
	log.Printf("merge: job=%s run_id=%s partitions=%d simulation=%t event_metadata=%t max_output_records=%d",
		d.opts.Job, d.opts.RunID, len(partitions), d.opts.IncludeSimulation, d.opts.IncludeEventMetadata, d.opts.MaxOutputRecords)

	for i, name := range partitions {
		if d.limitReached() {
			d.stats.Truncated = true
			for _, rest := range partitions[i:] {
				log.Printf("merge: partition=%s skipped reason=max_output_records", rest)
				metrics.RecordPartition(d.opts.Job, "skipped")
			}
			break
		}
		if err := ctx.Err(); err != nil {
			return d.stats, fail("", "", err)
		}
		if err := d.partition(ctx, src, name, sink); err != nil {
			metrics.RecordPartition(d.opts.Job, "failed")
			log.Printf("merge: partition=%s failed err=%v", name, err)
			return d.stats, err
		}
		metrics.RecordPartition(d.opts.Job, "merged")
	}

	if d.disc == nil {
		log.Printf("merge: warning: no partition merged; sink never began")
	}
	log.Printf("merge: done partitions=%d events=%s candidates=%s simulated=%s matches=%s generated=%s truncated=%t elapsed=%s",
		d.stats.Partitions, humanize.Comma(d.stats.Events), humanize.Comma(d.stats.Candidates),
		humanize.Comma(d.stats.Simulated), humanize.Comma(d.stats.Matches), humanize.Comma(d.stats.Generated),
		d.stats.Truncated, time.Since(start).Truncate(time.Millisecond))
	return d.stats, nil
}

// Discover fixes the output layout from one partition without merging it.
// An empty partition means the first partition Run would merge.
func Discover(ctx context.Context, opts Options, src datasource.Container, partition string) (*schema.Configuration, error) {
	d, err := New(opts)
	if err != nil {
		return nil, err
	}
	if partition == "" {
		all, err := src.Partitions(ctx)
		if err != nil {
			return nil, fail("", KindInputIntegrity, fmt.Errorf("list partitions: %w", err))
		}
		selected, _ := datasource.Select(all, nil, datasource.DefaultSkip)
		if len(selected) == 0 {
			return nil, fail("", KindInputIntegrity, datasource.ErrPartitionNotFound)
		}
		partition = selected[0]
	}
	p, err := src.Partition(ctx, partition)
	if err != nil {
		return nil, fail(partition, KindInputIntegrity, err)
	}
	defer p.Close()

	tables, err := datasource.LoadTables(ctx, p, d.opts.tableNames(), d.opts.LoadWorkers)
	if err != nil {
		return nil, fail(partition, KindInputIntegrity, err)
	}
	if err := d.discover(tables); err != nil {
		return nil, fail(partition, KindConfiguration, err)
	}
	return d.disc.Config, nil
}

// limitReached reports whether MaxOutputRecords events have been written.
func (d *Driver) limitReached() bool {
	return d.opts.MaxOutputRecords > 0 && d.stats.Events >= int64(d.opts.MaxOutputRecords)
}

// accepted reports whether status is in the accept set.
func (d *Driver) accepted(status int32) bool {
	_, ok := d.accept[status]
	return ok
}

// readers returns the active entity readers.
func (d *Driver) readers() []*reader {
	out := make([]*reader, 0, 4)
	for _, r := range []*reader{d.events, d.candidates, d.simulated, d.generated} {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// partition merges one partition. Tables are unbound on return so that the
// carriers can be bound to the next partition's tables.
func (d *Driver) partition(ctx context.Context, src datasource.Container, name string, sink Sink) error {
	start := time.Now()
	if err := d.m.to(PartitionOpen); err != nil {
		return err
	}
	p, err := src.Partition(ctx, name)
	if err != nil {
		return fail(name, KindInputIntegrity, err)
	}
	defer p.Close()

	loadStart := time.Now()
	tables, err := datasource.LoadTables(ctx, p, d.opts.tableNames(), d.opts.LoadWorkers)
	metrics.RecordStep(d.opts.Job, "load_tables", err, time.Since(loadStart))
	if err != nil {
		return fail(name, KindInputIntegrity, err)
	}
	defer func() {
		for _, t := range tables {
			t.Unbind()
		}
	}()

	// Discovery runs once; later partitions only bind to the fixed layout.
	if d.disc == nil {
		if err := d.discover(tables); err != nil {
			return fail(name, KindConfiguration, err)
		}
		if err := sink.Begin(ctx, d.disc.Config); err != nil {
			return fail(name, KindOutput, fmt.Errorf("sink begin: %w", err))
		}
	}

	// Discovery staged values through its own carriers.
	for _, t := range tables {
		t.Unbind()
	}
	// Binding checks that every discovered column exists with its type;
	// extra columns are ignored.
	for _, r := range d.readers() {
		if err := r.bind(tables); err != nil {
			return fail(name, KindInputIntegrity, err)
		}
	}

	nCand, nEvents, nGen, err := d.sync()
	if err != nil {
		return fail(name, KindInputIntegrity, err)
	}

	var (
		index *join.Index
		all   []int
	)
	if d.events != nil {
		if index, err = d.buildIndex(nCand); err != nil {
			return fail(name, KindInputIntegrity, err)
		}
	} else {
		all = join.Identity(nCand)
	}

	// before is used for the per-partition deltas logged below.
	before := d.stats
	emitted := 0
	for ev := 0; ev < nEvents; ev++ {
		if err := ctx.Err(); err != nil {
			return fail(name, "", err)
		}
		if d.limitReached() {
			d.stats.Truncated = true
			break
		}
		if err := d.event(ctx, name, ev, index, all, nGen, sink); err != nil {
			return err
		}
		emitted++
	}

	if d.generated != nil {
		switch {
		case d.opts.Placement == PlacementPartition:
			if d.gen, err = d.readGenerated(d.gen[:0], nGen); err != nil {
				return fail(name, KindInputIntegrity, err)
			}
			if err := sink.WriteGenerated(ctx, name, d.gen); err != nil {
				return fail(name, KindOutput, fmt.Errorf("write generated: %w", err))
			}
			d.stats.Generated += int64(len(d.gen))
		// first_event placement needs an event to carry the rows.
		case emitted == 0 && nGen > 0:
			log.Printf("merge: warning: partition=%s has no events; dropped generated=%d", name, nGen)
		}
	}

	if err := d.m.to(PartitionClosed); err != nil {
		return err
	}
	if err := d.m.to(Idle); err != nil {
		return err
	}
	d.stats.Partitions++

	elapsed := time.Since(start)
	metrics.RecordStep(d.opts.Job, "merge_partition", nil, elapsed)
	metrics.RecordRow(d.opts.Job, "events", d.stats.Events-before.Events)
	metrics.RecordRow(d.opts.Job, "candidates", d.stats.Candidates-before.Candidates)
	metrics.RecordRow(d.opts.Job, "simulated", d.stats.Simulated-before.Simulated)
	metrics.RecordRow(d.opts.Job, "generated", d.stats.Generated-before.Generated)
	metrics.RecordRow(d.opts.Job, "matches", d.stats.Matches-before.Matches)
	log.Printf("merge: partition=%s events=%s candidates=%s matches=%s elapsed=%s",
		name, humanize.Comma(d.stats.Events-before.Events), humanize.Comma(d.stats.Candidates-before.Candidates),
		humanize.Comma(d.stats.Matches-before.Matches), elapsed.Truncate(time.Millisecond))
	return nil
}

// discover fixes the layout from the first partition's tables and resolves
// the key and status fields.
func (d *Driver) discover(tables map[string]*table.Table) error {
	b, err := schema.NewBuilder(d.opts.Filter, d.opts.NameStyle)
	if err != nil {
		return err
	}
	for _, ent := range d.opts.entities() {
		e := b.Entity(ent.name)
		for _, ts := range d.opts.activeTables(ent.layout) {
			if err := b.Discover(e, tables[ts.Name], ts.Prefix); err != nil {
				return err
			}
		}
	}

	// Entities are discovered in branch order, tables in layout order.
	var matches []schema.Match
	if d.opts.IncludeSimulation {
		matches = append(matches, schema.Match{Name: MatchCandidates2Simulated, From: BranchCandidates, To: BranchSimulated})
	}
	disc, err := b.Build(d.opts.RunID, matches...)
	if err != nil {
		return err
	}
	if disc.Entity(BranchGenerated) != nil {
		disc.Config.GeneratedPlacement = d.opts.Placement
	}

	// Key and status fields must exist and widen to Int32.
	l := d.opts.Layout
	d.candidates = newReader(disc.Entity(BranchCandidates))
	if d.opts.IncludeEventMetadata {
		d.events = newReader(disc.Entity(BranchEvents))
		if d.eventKey, err = d.events.entity.FindIntField(l.EventKeyField); err != nil {
			return err
		}
		if d.candidateKey, err = d.candidates.entity.FindIntField(l.CandidateKeyField); err != nil {
			return err
		}
	}
	if d.opts.IncludeSimulation {
		d.simulated = newReader(disc.Entity(BranchSimulated))
		if d.status, err = d.candidates.entity.FindIntField(l.StatusField); err != nil {
			return err
		}
		if g := disc.Entity(BranchGenerated); g != nil {
			d.generated = newReader(g)
		}
	}
	d.disc = disc

	log.Printf("merge: configuration run_id=%s branches=%d fingerprint=%s",
		disc.Config.RunID, len(disc.Config.Branches), disc.Config.FingerprintHex())
	return nil
}

// sync checks row counts: candidates and simulated tables are read in
// lock-step, events and generated tables each among themselves. Without
// event metadata a partition is one synthetic event.
func (d *Driver) sync() (nCand, nEvents, nGen int, err error) {
	lockstep := append([]*table.Table(nil), d.candidates.tables...)
	if d.simulated != nil {
		lockstep = append(lockstep, d.simulated.tables...)
	}
	if nCand, err = table.AssertEqualRowCounts(lockstep...); err != nil {
		return 0, 0, 0, err
	}
	nEvents = 1
	if d.events != nil {
		if nEvents, err = d.events.rows(); err != nil {
			return 0, 0, 0, err
		}
	}
	if d.generated != nil {
		if nGen, err = d.generated.rows(); err != nil {
			return 0, 0, 0, err
		}
	}
	return nCand, nEvents, nGen, nil
}

// buildIndex groups the n candidate rows by their foreign key. Only the key
// carrier is staged per row.
func (d *Driver) buildIndex(n int) (*join.Index, error) {
	return join.Build(n, func(row int) (int32, bool, error) {
		if err := d.candidates.seekField(d.candidateKey, row); err != nil {
			return 0, false, err
		}
		k := d.candidates.field(d.candidateKey)
		return k.Int32(), k.Valid(), nil
	})
}

// event assembles event ev of partition and writes it. Candidates are
// resolved through index, or are all rows when the partition has no event
// metadata.
func (d *Driver) event(ctx context.Context, partition string, ev int, index *join.Index, all []int, nGen int, sink Sink) error {
	if err := d.m.to(EventOpen); err != nil {
		return err
	}
	e := &d.ev
	e.Reset()
	e.Partition, e.Index, e.Global = partition, int64(ev), d.stats.Events

	positions := all
	if d.events != nil {
		if err := d.events.seek(ev); err != nil {
			return fail(partition, KindInputIntegrity, err)
		}
		d.events.fill(e.setHeader(d.events.width()))
		// A null event key owns no candidates.
		positions = nil
		if k := d.events.field(d.eventKey); k.Valid() {
			positions = index.Positions(k.Int32())
		}
	}

	for _, pos := range positions {
		if err := d.candidates.seek(pos); err != nil {
			return fail(partition, KindInputIntegrity, err)
		}
		var cand *Record
		e.Candidates, cand = appendRecord(e.Candidates, d.candidates.width())
		d.candidates.fill(cand)

		if d.simulated == nil {
			continue
		}
		// Rejected candidates stay in the output without a truth record.
		if st := d.candidates.field(d.status); !st.Valid() || !d.accepted(st.Int32()) {
			continue
		}
		// Simulated rows are aligned with candidate rows.
		if err := d.simulated.seek(pos); err != nil {
			return fail(partition, KindInputIntegrity, err)
		}
		var sim *Record
		e.Simulated, sim = appendRecord(e.Simulated, d.simulated.width())
		d.simulated.fill(sim)
		e.Matches = append(e.Matches, Match{Candidate: cand.ID, Simulated: sim.ID})
	}

	if d.generated != nil && d.opts.Placement == PlacementFirstEvent && ev == 0 {
		var err error
		if e.Generated, err = d.readGenerated(e.Generated, nGen); err != nil {
			return fail(partition, KindInputIntegrity, err)
		}
	}

	if err := sink.WriteEvent(ctx, e); err != nil {
		return fail(partition, KindOutput, fmt.Errorf("write event %d: %w", ev, err))
	}
	d.stats.Events++
	d.stats.Candidates += int64(len(e.Candidates))
	d.stats.Simulated += int64(len(e.Simulated))
	d.stats.Generated += int64(len(e.Generated))
	d.stats.Matches += int64(len(e.Matches))
	return d.m.to(EventClosed)
}

// readGenerated appends every generated row of the partition to dst.
func (d *Driver) readGenerated(dst []Record, n int) ([]Record, error) {
	for row := 0; row < n; row++ {
		if err := d.generated.seek(row); err != nil {
			return dst, err
		}
		var rec *Record
		dst, rec = appendRecord(dst, d.generated.width())
		d.generated.fill(rec)
	}
	return dst, nil
}
