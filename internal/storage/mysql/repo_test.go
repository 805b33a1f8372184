package mysql

import (
	"context"
	"strings"
	"testing"

	"treemerge/internal/ddl"
	"treemerge/internal/storage"
)

type execRecorder struct {
	storage.Repository
	stmts []string
}

func (e *execRecorder) Exec(_ context.Context, sql string) error {
	e.stmts = append(e.stmts, sql)
	return nil
}

func TestMapType(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		ddl.KindFloat32: "FLOAT",
		ddl.KindInt32:   "INT",
		ddl.KindInt64:   "BIGINT",
		ddl.KindText:    "VARCHAR(255)",
		"JSON":          "JSON",
	}
	for in, want := range tests {
		if got := MapType(in); got != want {
			t.Errorf("MapType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEnsureTable_Backticks(t *testing.T) {
	t.Parallel()

	rec := &execRecorder{}
	def := ddl.TableDef{
		FQN:     "run_generated",
		Columns: []ddl.ColumnDef{{Name: "fPdgCode", SQLType: ddl.KindInt32, Nullable: true}},
	}
	if err := EnsureTable(context.Background(), rec, def); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	if len(rec.stmts) != 1 || !strings.HasPrefix(rec.stmts[0], "CREATE TABLE IF NOT EXISTS `run_generated`") ||
		!strings.Contains(rec.stmts[0], "`fPdgCode` INT\n") {
		t.Fatalf("stmts = %q", rec.stmts)
	}
}

func TestNewRepository_BadDSN(t *testing.T) {
	t.Parallel()

	if _, _, err := NewRepository(context.Background(), Config{DSN: "user@tcp(localhost"}); err == nil {
		t.Fatal("expected dsn error")
	}
}

func TestRegistrationUsesNewRepositoryHook(t *testing.T) {
	orig := newRepository
	defer func() { newRepository = orig }()

	var closed bool
	fake := &Repository{}
	newRepository = func(ctx context.Context, cfg Config) (*Repository, func(), error) {
		return fake, func() { closed = true }, nil
	}

	repo, err := storage.New(context.Background(), storage.Config{Kind: "mysql", DSN: "u:p@tcp(db:3306)/x"})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	if w, ok := repo.(*wrappedRepo); !ok || w.Repository != fake {
		t.Fatalf("storage.New type = %T", repo)
	}
	repo.Close()
	if !closed {
		t.Fatal("Close did not invoke closeFn")
	}
}
