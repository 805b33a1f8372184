package bitmap

import (
	"strconv"
	"testing"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		n       int
		wantLen int
	}{
		{name: "zero yields empty backing slice", n: 0, wantLen: 0},
		{name: "negative yields empty backing slice", n: -3, wantLen: 0},
		{name: "one position", n: 1, wantLen: 1},
		{name: "exactly one word", n: 64, wantLen: 1},
		{name: "spills into second word", n: 65, wantLen: 2},
		{name: "large", n: 150_000_000, wantLen: (150_000_000 + 63) / 64},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := len(New(tt.n).data); got != tt.wantLen {
				t.Fatalf("New(%d) data length = %d, want %d", tt.n, got, tt.wantLen)
			}
		})
	}
}

// TestAddAndHas covers word boundaries and ignored positions.
func TestAddAndHas(t *testing.T) {
	t.Parallel()

	bm := New(200)
	if bm.Has(0) || bm.Has(50) || bm.Has(199) {
		t.Fatalf("bitmap should start empty")
	}

	bm.Add(-1)
	bm.Add(0)
	bm.Add(63)
	bm.Add(64)
	bm.Add(199)
	bm.Add(199)
	bm.Add(1000)

	tests := []struct {
		pos  int
		want bool
	}{
		{-1, false},
		{0, true},
		{1, false},
		{63, true},
		{64, true},
		{199, true},
		{200, false},
		{1000, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run("pos="+strconv.Itoa(tt.pos), func(t *testing.T) {
			t.Parallel()
			if got := bm.Has(tt.pos); got != tt.want {
				t.Fatalf("Has(%d) = %v, want %v", tt.pos, got, tt.want)
			}
		})
	}

	if got := bm.Count(); got != 4 {
		t.Fatalf("Count() = %d, want 4", got)
	}
}

func TestNilBitmap(t *testing.T) {
	t.Parallel()

	var bm *Bitmap
	if bm.Has(3) || bm.Count() != 0 {
		t.Fatal("nil bitmap must behave as an empty set")
	}
}

func BenchmarkHas(b *testing.B) {
	bm := New(1_000_000)
	for i := 0; i < 10000; i += 3 {
		bm.Add(i)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = bm.Has(i % 1_000_000)
	}
}
