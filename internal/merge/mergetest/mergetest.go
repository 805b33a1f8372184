// Package mergetest provides source fixtures in the default table layout for
// tests of sinks and tools built on the merge driver.
package mergetest

import (
	"testing"

	"treemerge/internal/datasource"
	"treemerge/internal/table"
)

// Table builds a table or fails tb.
func Table(tb testing.TB, name string, rows int, cols ...*table.Column) *table.Table {
	tb.Helper()
	t, err := table.New(name, rows, cols...)
	if err != nil {
		tb.Fatalf("table.New(%s): %v", name, err)
	}
	return t
}

// Container returns one partition per name. Each holds two events keyed 10
// and 20 and three candidates keyed (10, 10, 20) with status (1, 0, 2), so
// the first event gets two candidates and one match and the second one
// candidate and one match. The second candidate's KF fPt is null. Every
// partition has two generated rows.
func Container(tb testing.TB, partitions ...string) *datasource.Memory {
	tb.Helper()
	m := datasource.NewMemory()
	for _, p := range partitions {
		pt := table.Float32Column("fPt", []float32{1, 2, 3})
		pt.SetNull(1)
		m.Add(p,
			Table(tb, "O2hfcandlcfullev", 2,
				table.Int32Column("fIndexCollisions", []int32{10, 20}),
				table.Float32Column("fPosZ", []float32{0.5, -1.5})),
			Table(tb, "O2hfcandlckf", 3, pt,
				table.Int8Column("fSigBgStatus", []int8{1, 0, 2})),
			Table(tb, "O2hfcandlclite", 3,
				table.Float32Column("fEta", []float32{0.1, 0.2, 0.3})),
			Table(tb, "O2hfcollidlclite", 3,
				table.Int32Column("fIndexCollisions", []int32{10, 10, 20})),
			Table(tb, "O2hfcandlcmc", 3,
				table.Int16Column("fFlagMc", []int16{1, -1, 2})),
			Table(tb, "O2hfcandlcfullp", 2,
				table.Float32Column("fPt", []float32{5, 6})),
		)
	}
	return m
}
