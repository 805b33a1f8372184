package storage

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeIdent folds s into a portable lower-case SQL identifier: accents
// are stripped, runs of other characters become a single underscore, and a
// leading digit is prefixed with an underscore.
//
//	"Candidates2Simulated" -> "candidates2simulated"
//	"Événements / 2024"    -> "evenements_2024"
//	"2nd-pass"             -> "_2nd_pass"
//
// The result is safe to use unquoted in every supported dialect. An input
// with no letters or digits yields the empty string.
func NormalizeIdent(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.TrimSuffix(b.String(), "_")
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "_" + out
	}
	return out
}
