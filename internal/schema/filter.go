package schema

// Filter selects which output fields are kept. At most one list may be set.
// Names are output names (after the prefix is applied), so the same source
// column can be kept in one entity and dropped in another.
type Filter struct {
	// Ignore drops the listed fields and keeps everything else.
	Ignore []string
	// Allow keeps only the listed fields.
	Allow []string
}

// Validate rejects a filter with both lists set.
func (f Filter) Validate() error {
	if len(f.Ignore) > 0 && len(f.Allow) > 0 {
		return ErrConflictingFilters
	}
	return nil
}

// Skip reports whether the output field name is filtered out.
func (f Filter) Skip(name string) bool {
	if len(f.Ignore) > 0 {
		return contains(f.Ignore, name)
	}
	if len(f.Allow) > 0 {
		return !contains(f.Allow, name)
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// NameStyle controls how output field names are derived from source columns.
type NameStyle string

const (
	// NamePrefix prepends the table prefix to the column name.
	NamePrefix NameStyle = "prefix"
	// NameLegacy produces "f" + prefix + column name without its first
	// character, so fPt with prefix KF_ becomes fKF_Pt.
	NameLegacy NameStyle = "legacy"
)

// Valid reports whether s is a known style. The empty style means NamePrefix.
func (s NameStyle) Valid() bool {
	switch s {
	case "", NamePrefix, NameLegacy:
		return true
	}
	return false
}

// OutputName derives the output field name of column in a table with the
// given prefix. See the package documentation for both styles.
func (s NameStyle) OutputName(prefix, column string) string {
	if s != NameLegacy {
		return prefix + column
	}
	if column == "" {
		return "f" + prefix
	}
	return "f" + prefix + column[1:]
}
