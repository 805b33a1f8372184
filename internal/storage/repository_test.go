package storage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"treemerge/internal/ddl"
)

// fakeRepo records every call. Tests in this package share it.
type fakeRepo struct {
	mu      sync.Mutex
	copies  map[string][][]any
	execs   []string
	closed  bool
	failOn  int
	ncopies int
}

func newFakeRepo() *fakeRepo { return &fakeRepo{copies: map[string][][]any{}} }

func (f *fakeRepo) CopyFrom(_ context.Context, table string, _ []string, rows [][]any) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ncopies++
	if f.failOn > 0 && f.ncopies == f.failOn {
		return 0, errors.New("copy failed")
	}
	for _, r := range rows {
		f.copies[table] = append(f.copies[table], append([]any(nil), r...))
	}
	return int64(len(rows)), nil
}

func (f *fakeRepo) Exec(_ context.Context, sql string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, sql)
	return nil
}

func (f *fakeRepo) Close() { f.closed = true }

func TestRegisterAndNew(t *testing.T) {
	t.Parallel()

	const kind = "fake-repo"
	var got Config
	Register(kind, func(_ context.Context, cfg Config) (Repository, error) {
		got = cfg
		return newFakeRepo(), nil
	})

	repo, err := New(context.Background(), Config{Kind: kind, DSN: "mem"})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if repo == nil || got.DSN != "mem" {
		t.Fatalf("factory got %+v", got)
	}
	if !IsRegistered(kind) {
		t.Fatalf("IsRegistered(%q) = false", kind)
	}

	found := false
	for _, k := range ListKinds() {
		if k == kind {
			found = true
		}
	}
	if !found {
		t.Fatalf("ListKinds() = %v, missing %q", ListKinds(), kind)
	}
}

func TestNew_Unsupported(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{Kind: "does-not-exist"})
	if err == nil || !strings.Contains(err.Error(), "unsupported kind") {
		t.Fatalf("err = %v, want unsupported kind", err)
	}
}

func TestEnsureTable(t *testing.T) {
	t.Parallel()

	const kind = "fake-ddl"
	RegisterDDL(kind, func(ctx context.Context, repo Repository, def ddl.TableDef) error {
		sql, err := ddl.BuildCreateTableSQL(def)
		if err != nil {
			return err
		}
		return repo.Exec(ctx, sql)
	})

	repo := newFakeRepo()
	def := ddl.TableDef{FQN: "tm_events", Columns: []ddl.ColumnDef{{Name: "event_id", SQLType: "BIGINT"}}}
	if err := EnsureTable(context.Background(), kind, repo, def); err != nil {
		t.Fatal(err)
	}
	if len(repo.execs) != 1 || !strings.HasPrefix(repo.execs[0], "CREATE TABLE tm_events") {
		t.Fatalf("execs = %v", repo.execs)
	}

	if err := EnsureTable(context.Background(), "nope", repo, def); err == nil {
		t.Fatal("expected error for unregistered kind")
	}
	if err := EnsureTable(context.Background(), kind, repo, ddl.TableDef{FQN: "x"}); err == nil || !strings.Contains(err.Error(), "ensure table x") {
		t.Fatalf("bad def err = %v", err)
	}
}

func TestNormalizeIdent(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{"tm_", "tm"},
		{"Run Č.1", "run_c_1"},
		{"  LcTree--KF  ", "lctree_kf"},
		{"2024 run", "_2024_run"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeIdent(tt.in); got != tt.want {
			t.Fatalf("NormalizeIdent(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
