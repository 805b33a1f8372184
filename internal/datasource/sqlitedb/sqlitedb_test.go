package sqlitedb

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"treemerge/internal/datasource"
	"treemerge/internal/table"
	"treemerge/internal/value"
)

func TestSourceType(t *testing.T) {
	t.Parallel()

	tests := map[string]value.SourceType{
		"REAL":     value.SourceFloat32,
		"float":    value.SourceFloat32,
		"INTEGER":  value.SourceInt32,
		"int":      value.SourceInt32,
		"SMALLINT": value.SourceInt16,
		"TINYINT":  value.SourceInt8,
		"TEXT":     value.Unsupported,
		"BIGINT":   value.Unsupported,
		"":         value.Unsupported,
	}
	for in, want := range tests {
		if got := SourceType(in); got != want {
			t.Fatalf("SourceType(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestContainer(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "AO2D.sqlite")
	c, err := Open(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	pt := table.Float32Column("fPt", []float32{1, 2, 3})
	pt.SetNull(2)
	lite, err := table.New("O2hfcandlclite", 3,
		pt,
		table.Int32Column("fIndexCollisions", []int32{10, 10, 20}),
		table.Int16Column("fSigBgStatus", []int16{1, 0, 2}),
		table.Int8Column("fCharge", []int8{1, -1, 1}),
		table.UnsupportedColumn("fTag", "utf8", 3),
	)
	if err != nil {
		t.Fatal(err)
	}
	for _, part := range []string{"DF_2", "DF_1"} {
		if err := c.WriteTable(ctx, part, lite); err != nil {
			t.Fatal(err)
		}
	}

	parts, err := c.Partitions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(parts, []string{"DF_2", "DF_1"}) {
		t.Fatalf("Partitions() = %v, want creation order", parts)
	}

	p, err := c.Partition(ctx, "DF_1")
	if err != nil {
		t.Fatal(err)
	}
	got, err := p.Table(ctx, "O2hfcandlclite")
	if err != nil {
		t.Fatal(err)
	}
	if got.NumRows() != 3 || got.NumCols() != 5 {
		t.Fatalf("got %d rows %d cols", got.NumRows(), got.NumCols())
	}
	tag, _ := got.Column("fTag")
	if tag.Info().Type != value.Unsupported || tag.Info().Native != "TEXT" {
		t.Fatalf("fTag info = %+v", tag.Info())
	}
	ptc, _ := got.Column("fPt")
	if !ptc.IsNull(2) || ptc.Value(1).Float32() != 2 {
		t.Fatal("fPt values not preserved")
	}
	st, _ := got.Column("fSigBgStatus")
	if st.Info().Type != value.SourceInt16 || st.Value(2).Int32() != 2 {
		t.Fatalf("fSigBgStatus = %+v %v", st.Info(), st.Value(2))
	}
	ch, _ := got.Column("fCharge")
	if ch.Value(1).Int32() != -1 {
		t.Fatalf("fCharge[1] = %v", ch.Value(1))
	}

	if _, err := p.Table(ctx, "O2hfcandlcmc"); !errors.Is(err, datasource.ErrTableNotFound) {
		t.Fatalf("missing table err = %v", err)
	}
	if _, err := c.Partition(ctx, "DF_3"); !errors.Is(err, datasource.ErrPartitionNotFound) {
		t.Fatalf("missing partition err = %v", err)
	}
}

func TestTableRejectsOutOfRange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		create string
		insert string
		column string
	}{
		{
			name:   "collision id beyond int32",
			create: `CREATE TABLE "DF_1/cand" (k INTEGER, s TINYINT)`,
			insert: `INSERT INTO "DF_1/cand" VALUES (10, 1), (4294967306, 2)`,
			column: "k",
		},
		{
			name:   "status beyond int8",
			create: `CREATE TABLE "DF_1/cand" (k INTEGER, s TINYINT)`,
			insert: `INSERT INTO "DF_1/cand" VALUES (10, 258)`,
			column: "s",
		},
		{
			name:   "negative smallint",
			create: `CREATE TABLE "DF_1/cand" (k SMALLINT)`,
			insert: `INSERT INTO "DF_1/cand" VALUES (-32769)`,
			column: "k",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			c, err := Open(ctx, filepath.Join(t.TempDir(), "range.sqlite"))
			if err != nil {
				t.Fatal(err)
			}
			defer c.Close()
			for _, q := range []string{tt.create, tt.insert} {
				if _, err := c.db.ExecContext(ctx, q); err != nil {
					t.Fatalf("%s: %v", q, err)
				}
			}
			p, err := c.Partition(ctx, "DF_1")
			if err != nil {
				t.Fatal(err)
			}
			_, err = p.Table(ctx, "cand")
			if !errors.Is(err, datasource.ErrValueOutOfRange) {
				t.Fatalf("err = %v, want ErrValueOutOfRange", err)
			}
			if !strings.Contains(err.Error(), "DF_1/cand."+tt.column) {
				t.Fatalf("err = %v, want it to name column %s", err, tt.column)
			}
		})
	}
}

func TestTableKeepsBoundaryValues(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, err := Open(ctx, filepath.Join(t.TempDir(), "bounds.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	for _, q := range []string{
		`CREATE TABLE "DF_1/cand" (k INTEGER, h SMALLINT, s TINYINT)`,
		`INSERT INTO "DF_1/cand" VALUES (2147483647, -32768, -128), (NULL, 32767, 127)`,
	} {
		if _, err := c.db.ExecContext(ctx, q); err != nil {
			t.Fatalf("%s: %v", q, err)
		}
	}
	p, err := c.Partition(ctx, "DF_1")
	if err != nil {
		t.Fatal(err)
	}
	got, err := p.Table(ctx, "cand")
	if err != nil {
		t.Fatal(err)
	}
	k, _ := got.Column("k")
	h, _ := got.Column("h")
	s, _ := got.Column("s")
	if k.Value(0).Int32() != 2147483647 || !k.IsNull(1) {
		t.Fatalf("k = %v null(1)=%v", k.Value(0), k.IsNull(1))
	}
	if h.Value(0).Int32() != -32768 || h.Value(1).Int32() != 32767 {
		t.Fatalf("h = %v %v", h.Value(0), h.Value(1))
	}
	if s.Value(0).Int32() != -128 || s.Value(1).Int32() != 127 {
		t.Fatalf("s = %v %v", s.Value(0), s.Value(1))
	}
}
