package flatten

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseCut parses "field=lo:hi[,lo:hi...]", e.g. "KF_fPt=0:0.5,2.5:3.5".
func ParseCut(s string) (Cut, error) {
	field, spec, ok := strings.Cut(s, "=")
	field = strings.TrimSpace(field)
	if !ok || field == "" {
		return Cut{}, fmt.Errorf("flatten: cut %q: want field=lo:hi", s)
	}
	c := Cut{Field: field}
	for _, part := range strings.Split(spec, ",") {
		lo, hi, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return Cut{}, fmt.Errorf("flatten: cut %q: range %q: want lo:hi", s, part)
		}
		r, err := parseRange(lo, hi)
		if err != nil {
			return Cut{}, fmt.Errorf("flatten: cut %q: %w", s, err)
		}
		c.Ranges = append(c.Ranges, r)
	}
	return c, nil
}

// parseRange parses both bounds and rejects lo > hi.
func parseRange(lo, hi string) (Range, error) {
	l, err := strconv.ParseFloat(strings.TrimSpace(lo), 64)
	if err != nil {
		return Range{}, err
	}
	h, err := strconv.ParseFloat(strings.TrimSpace(hi), 64)
	if err != nil {
		return Range{}, err
	}
	if l > h {
		return Range{}, fmt.Errorf("range %g:%g is empty", l, h)
	}
	return Range{Lo: l, Hi: h}, nil
}

// String formats c the way ParseCut reads it.
func (c Cut) String() string {
	parts := make([]string, len(c.Ranges))
	for i, r := range c.Ranges {
		parts[i] = strconv.FormatFloat(r.Lo, 'g', -1, 64) + ":" + strconv.FormatFloat(r.Hi, 'g', -1, 64)
	}
	return c.Field + "=" + strings.Join(parts, ",")
}
