package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"treemerge/internal/merge"
	"treemerge/internal/schema"
)

// -----------------------------------------------------------------------------
// Decoding
// -----------------------------------------------------------------------------

const sampleJSON = `{
  "job": "lc_train",
  "include_simulation": true,
  "include_event_metadata": true,
  "max_output_records": 500,
  "ignore_fields": ["KF_fM"],
  "name_style": "legacy",
  "source": {
    "kind": "parquet",
    "path": "data/ao2d",
    "partitions": ["DF_2", "DF_1"],
    "skip_partitions": ["parentFiles", "DF_9"]
  },
  "layout": {
    "candidates": [{ "name": "cand", "prefix": "C_" }],
    "event_key_field": "fEvKey"
  },
  "match": { "status_field": "fFlag", "accept": [1, 2, 3] },
  "output": {
    "kind": "sqlite",
    "dsn": "out.db",
    "table_prefix": "lc_",
    "auto_create_tables": true,
    "generated_placement": "partition",
    "sentinel_nulls": true
  },
  "runtime": { "batch_size": 250, "load_workers": 4 }
}`

const sampleYAML = `
job: lc_train
include_simulation: true
include_event_metadata: true
max_output_records: 500
ignore_fields: [KF_fM]
name_style: legacy
source:
  kind: parquet
  path: data/ao2d
  partitions: [DF_2, DF_1]
  skip_partitions: [parentFiles, DF_9]
layout:
  candidates:
    - name: cand
      prefix: C_
  event_key_field: fEvKey
match:
  status_field: fFlag
  accept: [1, 2, 3]
output:
  kind: sqlite
  dsn: out.db
  table_prefix: lc_
  auto_create_tables: true
  generated_placement: partition
  sentinel_nulls: true
runtime:
  batch_size: 250
  load_workers: 4
`

func wantSample() Pipeline {
	return Pipeline{
		Job:                  "lc_train",
		IncludeSimulation:    true,
		IncludeEventMetadata: true,
		MaxOutputRecords:     500,
		IgnoreFields:         []string{"KF_fM"},
		NameStyle:            "legacy",
		Source: Source{
			Kind:           "parquet",
			Path:           "data/ao2d",
			Partitions:     []string{"DF_2", "DF_1"},
			SkipPartitions: []string{"parentFiles", "DF_9"},
		},
		Layout: &Layout{
			Candidates:    []Table{{Name: "cand", Prefix: "C_"}},
			EventKeyField: "fEvKey",
		},
		Match: Match{StatusField: "fFlag", Accept: []int32{1, 2, 3}},
		Output: Output{
			Kind:               "sqlite",
			DSN:                "out.db",
			TablePrefix:        "lc_",
			AutoCreateTables:   true,
			GeneratedPlacement: "partition",
			SentinelNulls:      true,
		},
		Runtime: RuntimeConfig{BatchSize: 250, LoadWorkers: 4},
	}
}

func TestDecode_JSONAndYAMLAgree(t *testing.T) {
	t.Parallel()

	fromJSON, err := DecodeJSON([]byte(sampleJSON))
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	fromYAML, err := DecodeYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("DecodeYAML: %v", err)
	}
	want := wantSample()
	if !reflect.DeepEqual(fromJSON, want) {
		t.Fatalf("json decoded = %#v\nwant %#v", fromJSON, want)
	}
	if !reflect.DeepEqual(fromYAML, want) {
		t.Fatalf("yaml decoded = %#v\nwant %#v", fromYAML, want)
	}
}

func TestDecode_UnknownKeysRejected(t *testing.T) {
	t.Parallel()

	if _, err := DecodeJSON([]byte(`{"job":"x","sorce":{}}`)); err == nil {
		t.Fatalf("DecodeJSON accepted an unknown key")
	}
	if _, err := DecodeYAML([]byte("job: x\nsorce: {}\n")); err == nil {
		t.Fatalf("DecodeYAML accepted an unknown key")
	}
}

func TestLoad_ByExtension(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	files := map[string]string{
		"p.json": sampleJSON,
		"p.yaml": sampleYAML,
		"p.YML":  sampleYAML,
	}
	for name, body := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		got, err := Load(path)
		if err != nil {
			t.Fatalf("Load(%s): %v", name, err)
		}
		if got.Job != "lc_train" || got.Output.Kind != "sqlite" {
			t.Fatalf("Load(%s) = %+v", name, got)
		}
	}

	if _, err := Load(filepath.Join(dir, "missing.json")); err == nil || !strings.Contains(err.Error(), "config: read") {
		t.Fatalf("Load(missing) err = %v, want read error", err)
	}
}

// -----------------------------------------------------------------------------
// Defaults and conversion
// -----------------------------------------------------------------------------

func TestApplyDefaults_Empty(t *testing.T) {
	t.Parallel()

	var p Pipeline
	ApplyDefaults(&p)

	if p.NameStyle != string(schema.NamePrefix) {
		t.Errorf("name_style = %q, want prefix", p.NameStyle)
	}
	if !reflect.DeepEqual(p.Source.SkipPartitions, []string{"parentFiles"}) {
		t.Errorf("skip_partitions = %v", p.Source.SkipPartitions)
	}
	if p.Layout == nil || !reflect.DeepEqual(*p.Layout, LayoutFrom(merge.DefaultLayout())) {
		t.Errorf("layout = %+v, want default", p.Layout)
	}
	if p.Match.StatusField != "fSigBgStatus" {
		t.Errorf("status_field = %q", p.Match.StatusField)
	}
	if !reflect.DeepEqual(p.Match.Accept, []int32{1, 2}) {
		t.Errorf("accept = %v", p.Match.Accept)
	}
	if p.Output.GeneratedPlacement != merge.PlacementFirstEvent {
		t.Errorf("generated_placement = %q", p.Output.GeneratedPlacement)
	}
	if p.Runtime.BatchSize != DefaultBatchSize || p.Runtime.LoadWorkers != DefaultLoadWorkers {
		t.Errorf("runtime = %+v", p.Runtime)
	}
}

func TestApplyDefaults_PartialLayout(t *testing.T) {
	t.Parallel()

	p := wantSample()
	p.Layout.Generated = []Table{}
	ApplyDefaults(&p)

	def := LayoutFrom(merge.DefaultLayout())
	l := p.Layout
	if !reflect.DeepEqual(l.Candidates, []Table{{Name: "cand", Prefix: "C_"}}) {
		t.Errorf("candidates overwritten: %+v", l.Candidates)
	}
	if !reflect.DeepEqual(l.Events, def.Events) || !reflect.DeepEqual(l.Simulated, def.Simulated) {
		t.Errorf("nil entities not defaulted: %+v", l)
	}
	if len(l.Generated) != 0 {
		t.Errorf("explicit empty generated list replaced: %+v", l.Generated)
	}
	if l.EventKeyField != "fEvKey" || l.CandidateKeyField != def.CandidateKeyField {
		t.Errorf("key fields = %q/%q", l.EventKeyField, l.CandidateKeyField)
	}
	if p.Match.StatusField != "fFlag" || !reflect.DeepEqual(p.Match.Accept, []int32{1, 2, 3}) {
		t.Errorf("match overwritten: %+v", p.Match)
	}
	if p.Runtime.BatchSize != 250 {
		t.Errorf("batch_size overwritten: %d", p.Runtime.BatchSize)
	}
}

func TestMergeOptions(t *testing.T) {
	t.Parallel()

	p := wantSample()
	ApplyDefaults(&p)
	o := p.MergeOptions()

	if o.Job != "lc_train" || !o.IncludeSimulation || !o.IncludeEventMetadata || o.MaxOutputRecords != 500 {
		t.Fatalf("flags = %+v", o)
	}
	if o.Placement != merge.PlacementPartition || o.LoadWorkers != 4 || o.NameStyle != schema.NameLegacy {
		t.Fatalf("placement/workers/style = %q/%d/%q", o.Placement, o.LoadWorkers, o.NameStyle)
	}
	if !reflect.DeepEqual(o.Filter.Ignore, []string{"KF_fM"}) || o.Filter.Allow != nil {
		t.Fatalf("filter = %+v", o.Filter)
	}
	if !reflect.DeepEqual(o.Accept, []int32{1, 2, 3}) {
		t.Fatalf("accept = %v", o.Accept)
	}
	want := []merge.TableSpec{{Name: "cand", Prefix: "C_"}}
	if !reflect.DeepEqual(o.Layout.Candidates.Tables, want) {
		t.Fatalf("candidates = %+v", o.Layout.Candidates.Tables)
	}
	if o.Layout.StatusField != "fFlag" || o.Layout.EventKeyField != "fEvKey" {
		t.Fatalf("layout fields = %+v", o.Layout)
	}
	if !reflect.DeepEqual(o.Layout.Simulated, merge.DefaultLayout().Simulated) {
		t.Fatalf("simulated = %+v", o.Layout.Simulated)
	}

	// Converting the defaults yields the driver's default layout.
	var d Pipeline
	ApplyDefaults(&d)
	if got := d.MergeOptions().Layout; !reflect.DeepEqual(got, merge.DefaultLayout()) {
		t.Fatalf("default layout = %+v\nwant %+v", got, merge.DefaultLayout())
	}
}

func TestSource_PartitionList(t *testing.T) {
	t.Parallel()

	inline := Source{Partitions: []string{"DF_1"}}
	got, err := inline.PartitionList()
	if err != nil || !reflect.DeepEqual(got, []string{"DF_1"}) {
		t.Fatalf("inline = %v, %v", got, err)
	}

	path := filepath.Join(t.TempDir(), "parts.txt")
	if err := os.WriteFile(path, []byte("# selected\nDF_3\n\nDF_1\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	fromFile := Source{PartitionsFile: path}
	got, err = fromFile.PartitionList()
	if err != nil || !reflect.DeepEqual(got, []string{"DF_3", "DF_1"}) {
		t.Fatalf("file = %v, %v", got, err)
	}

	none, err := Source{}.PartitionList()
	if err != nil || none != nil {
		t.Fatalf("empty = %v, %v", none, err)
	}

	if _, err := (Source{PartitionsFile: path + ".missing"}).PartitionList(); err == nil {
		t.Fatalf("missing partitions_file accepted")
	}
}
