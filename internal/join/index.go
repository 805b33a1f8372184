// Package join groups child rows under parent keys.
//
// The merge driver uses it to attach candidates to their event: one pass over
// the candidate key column builds a key -> rows multi-map, after which every
// event resolves its candidates with a single map lookup. Total cost is
// O(candidates + events) per partition instead of a scan per event.
//
// Rows without a key (null foreign key) are left out of the index, and keys
// no parent asks for are simply never looked up; neither is an error.
package join

// KeyFunc returns the foreign key of row. ok is false when the row has no key.
type KeyFunc func(row int) (key int32, ok bool, err error)

// Index maps a foreign key to the child row positions carrying it, in
// ascending row order.
type Index struct {
	rows  int
	byKey map[int32][]int
}

// Build scans rows [0, n) once, calling key for every row. The first error
// from key stops the scan and is returned unchanged.
func Build(n int, key KeyFunc) (*Index, error) {
	idx := &Index{rows: n, byKey: make(map[int32][]int)}
	for row := 0; row < n; row++ {
		k, ok, err := key(row)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		idx.byKey[k] = append(idx.byKey[k], row)
	}
	return idx, nil
}

// Positions returns the rows for key; nil when there are none. The slice is
// shared and must not be modified.
func (x *Index) Positions(key int32) []int { return x.byKey[key] }

// Keys returns the number of distinct keys.
func (x *Index) Keys() int { return len(x.byKey) }

// Rows returns the number of rows scanned.
func (x *Index) Rows() int { return x.rows }

// Identity returns [0, n). Without event metadata a partition is one event
// that owns every candidate row.
func Identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
