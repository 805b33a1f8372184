package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"treemerge/internal/config"
	"treemerge/internal/datasource"
	"treemerge/internal/inspect"
	"treemerge/internal/merge/mergetest"
)

func withFixture(t *testing.T, partitions ...string) {
	t.Helper()
	src := mergetest.Container(t, partitions...)
	prev := openSource
	openSource = func(_ context.Context, cfg datasource.Config) (datasource.Container, error) {
		if cfg.Kind != "arrow" {
			t.Errorf("source kind = %q, want arrow", cfg.Kind)
		}
		return src, nil
	}
	t.Cleanup(func() { openSource = prev })
}

func fixtureArgs() args {
	return args{kind: "arrow", path: "fixture", simulation: true, eventMetadata: true, discover: true}
}

func TestRunText(t *testing.T) {
	withFixture(t, "DF_1", "DF_2")
	var buf bytes.Buffer
	if err := run(context.Background(), fixtureArgs(), &buf); err != nil {
		t.Fatalf("run: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Partition DF_1", "Partition DF_2", "Branch Candidates"} {
		if !strings.Contains(out, want) {
			t.Errorf("output misses %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "problem:") {
		t.Errorf("unexpected problems:\n%s", out)
	}
}

func TestRunJSON(t *testing.T) {
	withFixture(t, "DF_1", "DF_2")
	a := fixtureArgs()
	a.format = "json"
	a.partitions = []string{"DF_2"}
	var buf bytes.Buffer
	if err := run(context.Background(), a, &buf); err != nil {
		t.Fatalf("run: %v", err)
	}
	var rep inspect.Report
	if err := json.Unmarshal(buf.Bytes(), &rep); err != nil {
		t.Fatalf("decode report: %v\n%s", err, buf.String())
	}
	if len(rep.Partitions) != 1 || rep.Partitions[0].Name != "DF_2" {
		t.Fatalf("partitions = %+v", rep.Partitions)
	}
	if rep.Configuration == nil || len(rep.Configuration.Branches) == 0 {
		t.Fatalf("configuration = %+v", rep.Configuration)
	}
}

func TestRunSuggest(t *testing.T) {
	withFixture(t, "DF_1")
	a := fixtureArgs()
	a.suggest = true
	var buf bytes.Buffer
	if err := run(context.Background(), a, &buf); err != nil {
		t.Fatalf("run: %v", err)
	}
	p, err := config.DecodeYAML(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodeYAML: %v\n%s", err, buf.String())
	}
	if !p.IncludeSimulation || !p.IncludeEventMetadata || p.Source.Path != "fixture" {
		t.Fatalf("suggested pipeline = %+v", p)
	}
	if issues := config.ValidatePipeline(p); config.HasErrors(issues) {
		t.Fatalf("suggested pipeline invalid: %v", issues)
	}
}

func TestRunFromConfig(t *testing.T) {
	withFixture(t, "DF_1", "DF_2")
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "pipeline.json")
	cfg := `{"job": "lc", "include_simulation": true,
	  "source": {"kind": "arrow", "path": "fixture", "partitions": ["DF_1"]},
	  "output": {"kind": "arrow", "path": "out.arrow"}}`
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := run(context.Background(), args{configPath: cfgPath, format: "yaml"}, &buf); err != nil {
		t.Fatalf("run: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "name: DF_1") || strings.Contains(out, "name: DF_2") {
		t.Fatalf("output:\n%s", out)
	}
}

func TestRunErrors(t *testing.T) {
	withFixture(t, "DF_1")
	var buf bytes.Buffer
	if err := run(context.Background(), args{}, &buf); err == nil {
		t.Fatal("missing source accepted")
	}
	a := fixtureArgs()
	a.format = "xml"
	if err := run(context.Background(), a, &buf); err == nil {
		t.Fatal("unknown format accepted")
	}
	a = fixtureArgs()
	a.partitions = []string{"DF_9"}
	if err := run(context.Background(), a, &buf); err == nil {
		t.Fatal("unknown partition accepted")
	}
}
