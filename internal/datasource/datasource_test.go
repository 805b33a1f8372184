package datasource

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"

	"treemerge/internal/table"
)

type fakePartition struct {
	name   string
	tables map[string]*table.Table
	calls  atomic.Int32
}

func (p *fakePartition) Name() string { return p.name }

func (p *fakePartition) Tables(context.Context) ([]string, error) {
	var out []string
	for k := range p.tables {
		out = append(out, k)
	}
	return out, nil
}

func (p *fakePartition) Table(_ context.Context, name string) (*table.Table, error) {
	p.calls.Add(1)
	t, ok := p.tables[name]
	if !ok {
		return nil, ErrTableNotFound
	}
	return t, nil
}

func (p *fakePartition) Close() error { return nil }

type fakeContainer struct{}

func (fakeContainer) Partitions(context.Context) ([]string, error) { return []string{"p0"}, nil }
func (fakeContainer) Partition(context.Context, string) (Partition, error) {
	return &fakePartition{name: "p0"}, nil
}
func (fakeContainer) Close() error { return nil }

func TestRegisterOpenListKinds(t *testing.T) {
	var gotCfg Config
	Register("fake-test", func(_ context.Context, cfg Config) (Container, error) {
		gotCfg = cfg
		return fakeContainer{}, nil
	})

	c, err := Open(context.Background(), Config{Kind: "fake-test", Path: "/data/in"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := c.(fakeContainer); !ok {
		t.Fatalf("Open returned %T", c)
	}
	if gotCfg.Path != "/data/in" {
		t.Fatalf("factory got %+v", gotCfg)
	}

	found := false
	for _, k := range ListKinds() {
		if k == "fake-test" {
			found = true
		}
	}
	if !found {
		t.Fatalf("ListKinds() = %v, missing fake-test", ListKinds())
	}

	if _, err := Open(context.Background(), Config{Kind: "nope"}); err == nil || !strings.Contains(err.Error(), "unknown kind") {
		t.Fatalf("unknown kind err = %v", err)
	}
}

func TestSelect(t *testing.T) {
	t.Parallel()

	all := []string{"DF_1", "DF_2", "parentFiles", "DF_3"}
	tests := []struct {
		name    string
		include []string
		skip    []string
		want    []string
		wantErr error
	}{
		{name: "all minus default skip", skip: DefaultSkip, want: []string{"DF_1", "DF_2", "DF_3"}},
		{name: "include order wins", include: []string{"DF_3", "DF_1"}, skip: DefaultSkip, want: []string{"DF_3", "DF_1"}},
		{name: "skip applies to include", include: []string{"DF_2", "parentFiles"}, skip: DefaultSkip, want: []string{"DF_2"}},
		{name: "unknown include", include: []string{"DF_9"}, wantErr: ErrPartitionNotFound},
		{name: "no skip", want: all},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Select(all, tt.include, tt.skip)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Select() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoadTables(t *testing.T) {
	t.Parallel()

	mk := func(name string) *table.Table {
		tb, err := table.New(name, 1, table.Int32Column("x", []int32{1}))
		if err != nil {
			t.Fatal(err)
		}
		return tb
	}
	p := &fakePartition{name: "DF_1", tables: map[string]*table.Table{
		"a": mk("a"), "b": mk("b"), "c": mk("c"),
	}}

	for _, workers := range []int{0, 1, 3} {
		got, err := LoadTables(context.Background(), p, []string{"a", "b", "c"}, workers)
		if err != nil {
			t.Fatalf("workers=%d: %v", workers, err)
		}
		if len(got) != 3 || got["b"].Name() != "b" {
			t.Fatalf("workers=%d: got %v", workers, got)
		}
	}

	_, err := LoadTables(context.Background(), p, []string{"a", "missing"}, 2)
	if !errors.Is(err, ErrTableNotFound) {
		t.Fatalf("missing table err = %v", err)
	}
	if !strings.Contains(err.Error(), "partition DF_1") {
		t.Fatalf("error %q does not name the partition", err)
	}
}
