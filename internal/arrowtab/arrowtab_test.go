package arrowtab

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"treemerge/internal/table"
	"treemerge/internal/value"
)

func TestSourceType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		dt   arrow.DataType
		want value.SourceType
	}{
		{arrow.PrimitiveTypes.Float32, value.SourceFloat32},
		{arrow.PrimitiveTypes.Int32, value.SourceInt32},
		{arrow.PrimitiveTypes.Int8, value.SourceInt8},
		{arrow.PrimitiveTypes.Int16, value.SourceInt16},
		{arrow.PrimitiveTypes.Float64, value.Unsupported},
		{arrow.BinaryTypes.String, value.Unsupported},
	}
	for _, tt := range tests {
		if got := SourceType(tt.dt); got != tt.want {
			t.Fatalf("SourceType(%s) = %s, want %s", tt.dt, got, tt.want)
		}
	}
}

// TestRoundTrip renders a table as a record, splits nothing, and reads it
// back through two appended batches.
func TestRoundTrip(t *testing.T) {
	t.Parallel()

	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	pt := table.Float32Column("fPt", []float32{1, 2, 3})
	pt.SetNull(1)
	src, err := table.New("O2hfcandlclite", 3,
		pt,
		table.Int32Column("fIndexCollisions", []int32{10, 10, 20}),
		table.Int8Column("fCharge", []int8{-1, 1, -1}),
		table.Int16Column("fSigBgStatus", []int16{1, 0, 2}),
	)
	if err != nil {
		t.Fatal(err)
	}

	rec := ToRecord(src, mem)
	defer rec.Release()

	acc := NewAccumulator(src.Name(), rec.Schema())
	if err := acc.Append(rec); err != nil {
		t.Fatal(err)
	}
	if err := acc.Append(rec); err != nil {
		t.Fatal(err)
	}
	got, err := acc.Table()
	if err != nil {
		t.Fatal(err)
	}

	if got.NumRows() != 6 || got.NumCols() != 4 {
		t.Fatalf("got %d rows %d cols", got.NumRows(), got.NumCols())
	}
	c, _ := got.Column("fPt")
	if !c.IsNull(1) || !c.IsNull(4) || c.IsNull(3) {
		t.Fatal("null positions not carried across batches")
	}
	st, _ := got.Column("fSigBgStatus")
	if st.Info().Type != value.SourceInt16 || st.Value(5).Int32() != 2 {
		t.Fatalf("fSigBgStatus = %+v / %v", st.Info(), st.Value(5))
	}
	ch, _ := got.Column("fCharge")
	if ch.Value(3).Int32() != -1 {
		t.Fatalf("fCharge[3] = %v", ch.Value(3))
	}
}
