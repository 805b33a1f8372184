package inspect

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"treemerge/internal/config"
	"treemerge/internal/datasource"
	"treemerge/internal/merge"
	"treemerge/internal/merge/mergetest"
	"treemerge/internal/schema"
	"treemerge/internal/table"
)

func fullOptions() Options {
	return Options{
		Layout:   merge.DefaultLayout(),
		Discover: true,
		Merge:    merge.Options{IncludeSimulation: true, IncludeEventMetadata: true},
	}
}

func TestInspectFixture(t *testing.T) {
	src := mergetest.Container(t, "DF_1", "DF_2")
	src.Add("parentFiles", mergetest.Table(t, "files", 1, table.Int32Column("n", []int32{1})))

	rep, err := Inspect(context.Background(), src, fullOptions())
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if len(rep.Partitions) != 2 || rep.Partitions[0].Name != "DF_1" {
		t.Fatalf("partitions = %+v", rep.Partitions)
	}
	if !reflect.DeepEqual(rep.Skipped, []string{"parentFiles"}) {
		t.Fatalf("skipped = %v", rep.Skipped)
	}
	p := rep.Partitions[0]
	if len(p.Problems) != 0 {
		t.Fatalf("problems = %v", p.Problems)
	}
	if len(p.Tables) != 6 {
		t.Fatalf("tables = %d, want 6", len(p.Tables))
	}
	kf := p.Tables[2]
	if kf.Name != "O2hfcandlckf" || kf.Entity != merge.BranchCandidates || kf.Rows != 3 {
		t.Fatalf("kf table = %+v", kf)
	}
	want := []Column{
		{Name: "fPt", Type: "float32", Native: "float32", Nulls: 1, Supported: true},
		{Name: "fSigBgStatus", Type: "int8", Native: "int8", Supported: true},
	}
	if !reflect.DeepEqual(kf.Columns, want) {
		t.Fatalf("kf columns = %+v", kf.Columns)
	}
	if rep.Configuration == nil || rep.DiscoveryErr != "" {
		t.Fatalf("discovery: cfg=%v err=%q", rep.Configuration, rep.DiscoveryErr)
	}
	if _, ok := rep.Configuration.Branch(merge.BranchGenerated); !ok {
		t.Fatal("Generated branch not discovered")
	}
}

func TestInspectProblems(t *testing.T) {
	unsupported := func() *table.Table {
		return mergetest.Table(t, "O2hfcandlclite", 3,
			table.Float32Column("fEta", []float32{0.1, 0.2, 0.3}),
			table.UnsupportedColumn("fName", "string", 3))
	}

	tests := []struct {
		name   string
		build  func(*datasource.Memory)
		merge  merge.Options
		wantIn []string
	}{
		{
			name: "missing simulated table",
			build: func(m *datasource.Memory) {
				m.Add("DF_1",
					mergetest.Table(t, "O2hfcandlckf", 2, table.Int8Column("fSigBgStatus", []int8{1, 2})),
					mergetest.Table(t, "O2hfcandlclite", 2, table.Float32Column("fEta", []float32{1, 2})))
			},
			merge:  merge.Options{IncludeSimulation: true},
			wantIn: []string{"missing table O2hfcandlcmc", "missing table O2hfcandlcfullp"},
		},
		{
			name: "lock-step mismatch",
			build: func(m *datasource.Memory) {
				m.Add("DF_1",
					mergetest.Table(t, "O2hfcandlckf", 2, table.Int8Column("fSigBgStatus", []int8{1, 2})),
					mergetest.Table(t, "O2hfcandlclite", 3, table.Float32Column("fEta", []float32{1, 2, 3})))
			},
			wantIn: []string{"lock-step row counts differ: O2hfcandlckf=2 O2hfcandlclite=3"},
		},
		{
			name: "unsupported column",
			build: func(m *datasource.Memory) {
				m.Add("DF_1",
					mergetest.Table(t, "O2hfcandlckf", 3, table.Int8Column("fSigBgStatus", []int8{1, 0, 2})),
					unsupported())
			},
			wantIn: []string{"unsupported column O2hfcandlclite.fName (string)"},
		},
		{
			name: "unsupported column filtered out",
			build: func(m *datasource.Memory) {
				m.Add("DF_1",
					mergetest.Table(t, "O2hfcandlckf", 3, table.Int8Column("fSigBgStatus", []int8{1, 0, 2})),
					unsupported())
			},
			merge: merge.Options{Filter: schema.Filter{Ignore: []string{"Lite_fName"}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := datasource.NewMemory()
			tt.build(m)
			rep, err := Inspect(context.Background(), m, Options{Layout: merge.DefaultLayout(), Merge: tt.merge})
			if err != nil {
				t.Fatalf("Inspect: %v", err)
			}
			got := rep.Partitions[0].Problems
			if len(got) != len(tt.wantIn) {
				t.Fatalf("problems = %q, want %q", got, tt.wantIn)
			}
			for i := range got {
				if got[i] != tt.wantIn[i] {
					t.Fatalf("problems = %q, want %q", got, tt.wantIn)
				}
			}
		})
	}
}

func TestInspectSelection(t *testing.T) {
	src := mergetest.Container(t, "DF_1", "DF_2", "DF_3")
	ctx := context.Background()

	rep, err := Inspect(ctx, src, Options{Layout: merge.DefaultLayout(), Limit: 2})
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if len(rep.Partitions) != 2 || !reflect.DeepEqual(rep.Skipped, []string{"DF_3"}) {
		t.Fatalf("partitions = %d skipped = %v", len(rep.Partitions), rep.Skipped)
	}

	rep, err = Inspect(ctx, src, Options{Layout: merge.DefaultLayout(), Partitions: []string{"DF_3"}})
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if rep.Partitions[0].Name != "DF_3" {
		t.Fatalf("partition = %s", rep.Partitions[0].Name)
	}

	_, err = Inspect(ctx, src, Options{Layout: merge.DefaultLayout(), Partitions: []string{"DF_9"}})
	if !errors.Is(err, datasource.ErrPartitionNotFound) {
		t.Fatalf("err = %v, want ErrPartitionNotFound", err)
	}
}

func TestInspectDiscoveryFailure(t *testing.T) {
	opts := fullOptions()
	opts.Layout.StatusField = "fMissing"
	rep, err := Inspect(context.Background(), mergetest.Container(t, "DF_1"), opts)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if rep.Configuration != nil || !strings.Contains(rep.DiscoveryErr, "fMissing") {
		t.Fatalf("cfg = %v err = %q", rep.Configuration, rep.DiscoveryErr)
	}
	var buf bytes.Buffer
	if err := Print(&buf, rep); err != nil {
		t.Fatalf("Print: %v", err)
	}
	if !strings.Contains(buf.String(), "Discovery failed") {
		t.Fatalf("output:\n%s", buf.String())
	}
}

func TestSuggest(t *testing.T) {
	ctx := context.Background()
	src := config.Source{Kind: "arrow", Path: "/data/AO2D"}

	rep, err := Inspect(ctx, mergetest.Container(t, "DF_1"), Options{Layout: merge.DefaultLayout()})
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	p, err := Suggest(rep, src, merge.DefaultLayout())
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if !p.IncludeEventMetadata || !p.IncludeSimulation {
		t.Fatalf("flags = %v %v", p.IncludeEventMetadata, p.IncludeSimulation)
	}
	if p.Source.Path != "/data/AO2D" || !p.Output.IsArrow() {
		t.Fatalf("pipeline = %+v", p)
	}
	if issues := config.ValidatePipeline(p); config.HasErrors(issues) {
		t.Fatalf("suggested pipeline invalid: %v", issues)
	}

	bare := datasource.NewMemory()
	bare.Add("DF_1",
		mergetest.Table(t, "O2hfcandlckf", 1, table.Int8Column("fSigBgStatus", []int8{1})),
		mergetest.Table(t, "O2hfcandlclite", 1, table.Float32Column("fEta", []float32{1})))
	rep, err = Inspect(ctx, bare, Options{Layout: merge.DefaultLayout()})
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	p, err = Suggest(rep, src, merge.DefaultLayout())
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if p.IncludeEventMetadata || p.IncludeSimulation {
		t.Fatalf("flags = %v %v", p.IncludeEventMetadata, p.IncludeSimulation)
	}

	if _, err := Suggest(Report{}, src, merge.DefaultLayout()); err == nil {
		t.Fatal("empty report accepted")
	}
}

func TestPrint(t *testing.T) {
	rep, err := Inspect(context.Background(), mergetest.Container(t, "DF_1"), fullOptions())
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	var buf bytes.Buffer
	if err := Print(&buf, rep); err != nil {
		t.Fatalf("Print: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Partition DF_1", "O2hfcandlckf", "rows=3", "Branch Candidates", "Matching Candidates2Simulated"} {
		if !strings.Contains(out, want) {
			t.Errorf("output misses %q:\n%s", want, out)
		}
	}
}
