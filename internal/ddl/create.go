// Package ddl models simple CREATE TABLE statements and renders them for a
// given SQL dialect.
package ddl

import (
	"fmt"
	"strings"
)

// Dialect adapts rendering to a backend. The zero Dialect emits names and
// types verbatim with no IF NOT EXISTS clause.
type Dialect struct {
	// Quote quotes a single identifier segment.
	Quote func(string) string
	// MapType turns a logical kind into a backend SQL type.
	MapType func(string) string
	// IfNotExists adds IF NOT EXISTS after CREATE TABLE.
	IfNotExists bool
}

func (d Dialect) quote(s string) string {
	if d.Quote == nil {
		return s
	}
	return d.Quote(s)
}

// QuoteFQN quotes each dot-separated segment of fqn.
func (d Dialect) QuoteFQN(fqn string) string {
	parts := strings.Split(strings.TrimSpace(fqn), ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, d.quote(p))
		}
	}
	return strings.Join(out, ".")
}

// BuildCreateTableSQL renders t with the zero Dialect:
//
//	CREATE TABLE <FQN> (
//	  <name> <type> [NOT NULL] [DEFAULT <expr>],
//	  ...,
//	  [PRIMARY KEY (<pk-cols>)]
//	);
func BuildCreateTableSQL(t TableDef) (string, error) {
	return Render(t, Dialect{})
}

// Render renders t for d. Names, types, and defaults are trimmed; defaults
// are raw SQL.
func Render(t TableDef, d Dialect) (string, error) {
	fqn := strings.TrimSpace(t.FQN)
	if fqn == "" {
		return "", fmt.Errorf("ddl: table FQN must not be empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("ddl: at least one column is required")
	}

	cols := make([]string, 0, len(t.Columns)+1)
	pks := make([]string, 0, len(t.Columns))

	for _, c := range t.Columns {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return "", fmt.Errorf("ddl: column with empty name in table %s", fqn)
		}
		typ := strings.TrimSpace(c.SQLType)
		if typ == "" {
			return "", fmt.Errorf("ddl: column %s missing SQLType", name)
		}
		if d.MapType != nil {
			typ = d.MapType(typ)
		}

		var sb strings.Builder
		sb.WriteString(d.quote(name))
		sb.WriteByte(' ')
		sb.WriteString(typ)
		if !c.Nullable {
			sb.WriteString(" NOT NULL")
		}
		if def := strings.TrimSpace(c.Default); def != "" {
			sb.WriteString(" DEFAULT ")
			sb.WriteString(def)
		}
		cols = append(cols, sb.String())

		if c.PrimaryKey {
			pks = append(pks, d.quote(name))
		}
	}
	if len(pks) > 0 {
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pks, ", ")))
	}

	create := "CREATE TABLE "
	if d.IfNotExists {
		create += "IF NOT EXISTS "
	}
	return fmt.Sprintf("%s%s (\n  %s\n);", create, d.QuoteFQN(fqn), strings.Join(cols, ",\n  ")), nil
}
