package arrowipc

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"treemerge/internal/merge"
	"treemerge/internal/merge/mergetest"
	"treemerge/internal/schema"
	"treemerge/internal/value"
)

// tee forwards everything to both sinks.
type tee struct{ a, b merge.Sink }

func (s tee) Begin(ctx context.Context, cfg *schema.Configuration) error {
	if err := s.a.Begin(ctx, cfg); err != nil {
		return err
	}
	return s.b.Begin(ctx, cfg)
}

func (s tee) WriteEvent(ctx context.Context, ev *merge.Event) error {
	if err := s.a.WriteEvent(ctx, ev); err != nil {
		return err
	}
	return s.b.WriteEvent(ctx, ev)
}

func (s tee) WriteGenerated(ctx context.Context, p string, recs []merge.Record) error {
	if err := s.a.WriteGenerated(ctx, p, recs); err != nil {
		return err
	}
	return s.b.WriteGenerated(ctx, p, recs)
}

func (s tee) Close(ctx context.Context) error {
	if err := s.a.Close(ctx); err != nil {
		return err
	}
	return s.b.Close(ctx)
}

func merged(t *testing.T, opts merge.Options, out Options, partitions ...string) *merge.Collector {
	t.Helper()
	d, err := merge.New(opts)
	if err != nil {
		t.Fatalf("merge.New: %v", err)
	}
	sink, err := New(out)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c := &merge.Collector{}
	ctx := context.Background()
	if _, err := d.Run(ctx, mergetest.Container(t, partitions...), nil, tee{c, sink}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := sink.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return c
}

func fullOptions() merge.Options {
	return merge.Options{
		IncludeSimulation:    true,
		IncludeEventMetadata: true,
		Layout:               merge.DefaultLayout(),
		RunID:                "run-arrow",
	}
}

func readAll(t *testing.T, path string) (*schema.Configuration, []merge.Event) {
	t.Helper()
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	var out []merge.Event
	for r.Next() {
		ev := r.Event()
		cp := *ev
		if ev.Header != nil {
			h := merge.Record{ID: ev.Header.ID, Values: append([]value.Value(nil), ev.Header.Values...)}
			cp.Header = &h
		}
		cp.Matches = append([]merge.Match(nil), ev.Matches...)
		out = append(out, cp)
	}
	if err := r.Err(); err != nil {
		t.Fatalf("Next: %v", err)
	}
	return r.Configuration(), out
}

func sameRecords(t *testing.T, what string, got, want []merge.Record) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: %d records, want %d", what, len(got), len(want))
	}
	for i := range got {
		if got[i].ID != want[i].ID || !reflect.DeepEqual(got[i].Values, want[i].Values) {
			t.Fatalf("%s[%d] = %+v, want %+v", what, i, got[i], want[i])
		}
	}
}

func TestSinkRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "merged.arrow")
	c := merged(t, fullOptions(), Options{Path: path, BatchSize: 1}, "DF_1", "DF_2")

	cfg, got := readAll(t, path)
	if cfg.FingerprintHex() != c.Config.FingerprintHex() || cfg.RunID != "run-arrow" {
		t.Fatalf("configuration = %+v", cfg)
	}
	if cfg.GeneratedPlacement != merge.PlacementFirstEvent {
		t.Fatalf("placement = %q", cfg.GeneratedPlacement)
	}
	if len(got) != len(c.Events) {
		t.Fatalf("read %d events, wrote %d", len(got), len(c.Events))
	}
	for i, want := range c.Events {
		ev := got[i]
		if ev.Partition != want.Partition || ev.Global != want.Global || ev.Index != want.Index {
			t.Fatalf("event %d position = %s/%d/%d, want %s/%d/%d",
				i, ev.Partition, ev.Index, ev.Global, want.Partition, want.Index, want.Global)
		}
		if !reflect.DeepEqual(ev.Header.Values, want.Header.Values) {
			t.Fatalf("event %d header = %v, want %v", i, ev.Header.Values, want.Header.Values)
		}
		sameRecords(t, "candidates", ev.Candidates, want.Candidates)
		sameRecords(t, "simulated", ev.Simulated, want.Simulated)
		sameRecords(t, "generated", ev.Generated, want.Generated)
		if len(ev.Matches) != len(want.Matches) {
			t.Fatalf("event %d matches = %v, want %v", i, ev.Matches, want.Matches)
		}
		for k := range ev.Matches {
			if ev.Matches[k] != want.Matches[k] {
				t.Fatalf("event %d match %d = %v, want %v", i, k, ev.Matches[k], want.Matches[k])
			}
		}
	}

	b, _ := cfg.Branch(merge.BranchCandidates)
	slot, _ := b.FieldID("KF_fPt")
	if v := got[0].Candidates[1].Values[slot]; v.Valid() {
		t.Fatalf("null pt read back as %v", v)
	}
	if _, err := os.Stat(GeneratedPath(path)); !os.IsNotExist(err) {
		t.Fatalf("sidecar written for first_event placement: %v", err)
	}
}

func TestSinkSentinelNulls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "merged.arrow")
	merged(t, fullOptions(), Options{Path: path, SentinelNulls: true}, "DF_1")

	cfg, got := readAll(t, path)
	b, _ := cfg.Branch(merge.BranchCandidates)
	slot, _ := b.FieldID("KF_fPt")
	if v := got[0].Candidates[1].Values[slot]; v != value.Float(value.Sentinel) {
		t.Fatalf("null pt = %v, want sentinel", v)
	}
}

func TestSinkPartitionPlacement(t *testing.T) {
	path := filepath.Join(t.TempDir(), "merged.arrow")
	opts := fullOptions()
	opts.Placement = merge.PlacementPartition
	merged(t, opts, Options{Path: path}, "DF_1", "DF_2")

	_, events := readAll(t, path)
	for _, ev := range events {
		if len(ev.Generated) != 0 {
			t.Fatalf("main stream carries generated rows")
		}
	}
	_, side := readAll(t, GeneratedPath(path))
	if len(side) != 2 {
		t.Fatalf("sidecar rows = %d, want 2", len(side))
	}
	for i, p := range []string{"DF_1", "DF_2"} {
		if side[i].Partition != p || len(side[i].Generated) != 2 || side[i].Header != nil {
			t.Fatalf("sidecar row %d = %+v", i, side[i])
		}
	}
}

func TestSinkWithoutMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "merged.arrow")
	merged(t, merge.Options{Layout: merge.DefaultLayout()}, Options{Path: path}, "DF_1")
	cfg, got := readAll(t, path)
	if len(cfg.Branches) != 1 || len(got) != 1 || got[0].Header != nil || len(got[0].Candidates) != 3 {
		t.Fatalf("cfg=%+v events=%+v", cfg, got)
	}
}

func TestSinkLifecycle(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("New without path succeeded")
	}
	path := filepath.Join(t.TempDir(), "never.arrow")
	s, err := New(Options{Path: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := s.WriteEvent(ctx, &merge.Event{}); err == nil {
		t.Fatal("WriteEvent before Begin succeeded")
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("unused sink created %s", path)
	}
}

func TestGeneratedPath(t *testing.T) {
	tests := map[string]string{
		"out.arrow": "out.generated.arrow",
		"dir/out":   "dir/out.generated.arrow",
		"a.b.arrow": "a.b.generated.arrow",
	}
	for in, want := range tests {
		if got := GeneratedPath(in); got != want {
			t.Fatalf("GeneratedPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPlanRejectsIDField(t *testing.T) {
	b := schema.NewBranch(merge.BranchCandidates)
	if _, err := b.AddField("id", value.Int32); err != nil {
		t.Fatal(err)
	}
	if _, err := planFor(&schema.Configuration{Branches: []*schema.Branch{b}}); err == nil {
		t.Fatal("planFor accepted a field named id")
	}
}

// writeWithFingerprint writes a one-row stream for cfg whose metadata
// carries fp as the fingerprint.
func writeWithFingerprint(t *testing.T, path string, cfg *schema.Configuration, fp string) {
	t.Helper()
	sc, err := arrowSchema(cfg, nil, true, true)
	if err != nil {
		t.Fatalf("arrowSchema: %v", err)
	}
	raw := sc.Metadata().Values()[sc.Metadata().FindKey(MetaConfiguration)]
	md := arrow.NewMetadata([]string{MetaConfiguration, MetaFingerprint}, []string{raw, fp})
	sc = arrow.NewSchema(sc.Fields(), &md)

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	w := ipc.NewWriter(f, ipc.WithSchema(sc))
	b := array.NewRecordBuilder(memory.DefaultAllocator, sc)
	defer b.Release()
	b.Field(0).(*array.StringBuilder).Append("DF_1")
	b.Field(1).(*array.Int64Builder).Append(0)
	rec := b.NewRecord()
	defer rec.Release()
	if err := w.Write(rec); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestOpenChecksFingerprint(t *testing.T) {
	dir := t.TempDir()
	c := merged(t, fullOptions(), Options{Path: filepath.Join(dir, "merged.arrow")}, "DF_1")

	tests := []struct {
		name    string
		fp      string
		wantErr error
	}{
		{name: "matching", fp: c.Config.FingerprintHex()},
		{name: "edited", fp: "0000000000000000", wantErr: ErrFingerprintMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".arrow")
			writeWithFingerprint(t, path, c.Config, tt.fp)
			r, err := Open(path)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Open err = %v, want %v", err, tt.wantErr)
			}
			if err == nil {
				r.Close()
			}
		})
	}
}
