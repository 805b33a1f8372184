package ddl

// This file holds the backend-neutral table model. Backends render a
// TableDef through their own Dialect (see create.go) and run the result once
// per table before loading.

// Logical column kinds understood by every backend's type mapper.
const (
	// KindFloat32 is a single-precision float (REAL, FLOAT(24), ...).
	KindFloat32 = "float32"
	KindInt32   = "int32"
	// KindInt64 holds run-wide event numbers.
	KindInt64 = "int64"
	// KindText is an unbounded string, or a bounded one where the backend
	// cannot index unbounded text.
	KindText = "text"
)

// ColumnDef describes one column. SQLType holds either a logical kind (see
// the Kind constants) that a Dialect maps, or a literal SQL type.
type ColumnDef struct {
	Name    string
	SQLType string
	// Nullable drops the NOT NULL constraint.
	Nullable bool
	// PrimaryKey columns form one composite key, in declaration order.
	PrimaryKey bool
	// Default is a literal SQL default expression; empty means none.
	Default string
}

// TableDef is a table name (optionally dotted, schema.table) and its columns
// in order.
type TableDef struct {
	// FQN is quoted per part by the dialect.
	FQN     string
	Columns []ColumnDef
}

// ColumnNames returns the column names in order.
func (t TableDef) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}
