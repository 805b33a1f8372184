// Package bitmap provides a compact bitset over row positions. Columns use it
// to record which rows hold no value.
//
// A bitmap is sized once for a column's row count and never grows: source
// tables are loaded whole, so the number of rows is known up front. The set
// bit count is maintained on Add so that null counts are O(1) for reports.
//
// A nil *Bitmap is a valid empty set for the read methods (Has, Count);
// columns without nulls never allocate one.
package bitmap

// Bitmap represents a bitset backed by a slice of uint64 words.
// Each bit corresponds to a non-negative row position.
type Bitmap struct {
	data  []uint64
	count int
}

// New allocates a bitmap able to hold positions in [0, n).
//
// If n <= 0, no backing storage is allocated and the bitmap behaves as
// an empty set.
func New(n int) *Bitmap {
	if n <= 0 {
		return &Bitmap{}
	}
	return &Bitmap{data: make([]uint64, (n+63)/64)}
}

// Add sets the bit for pos. Negative and out-of-range positions are ignored.
func (b *Bitmap) Add(pos int) {
	if pos < 0 {
		return
	}
	word := pos / 64
	if word >= len(b.data) {
		return
	}
	mask := uint64(1) << uint(pos%64)
	if b.data[word]&mask == 0 {
		b.data[word] |= mask
		b.count++
	}
}

// Has reports whether the bit for pos is set.
func (b *Bitmap) Has(pos int) bool {
	if b == nil || pos < 0 {
		return false
	}
	word := pos / 64
	if word >= len(b.data) {
		return false
	}
	return b.data[word]&(uint64(1)<<uint(pos%64)) != 0
}

// Count returns the number of set bits.
func (b *Bitmap) Count() int {
	if b == nil {
		return 0
	}
	return b.count
}
