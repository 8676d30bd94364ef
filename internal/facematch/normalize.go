package facematch

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks decomposes, drops combining marks and recomposes ("Jiří" -> "Jiri").
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

var fold = cases.Fold()

// NormalizeDisplayName reduces an enrollment display name to the key Lookup
// compares: no diacritics, case folded, dashes and underscores read as spaces,
// whitespace runs collapsed and trimmed. "  Jana  NOVÁKOVÁ-Dvořák " and
// "jana novakova dvorak" share a key.
func NormalizeDisplayName(name string) string {
	stripped, _, err := transform.String(stripMarks, name)
	if err != nil {
		stripped = name
	}
	stripped = fold.String(stripped)
	stripped = strings.Map(func(r rune) rune {
		if r == '-' || r == '_' || r == '\u2013' || r == '\u2014' {
			return ' '
		}
		return r
	}, stripped)
	return strings.Join(strings.Fields(stripped), " ")
}
