// Package selector implements the Candidate Selector (spec.md §4.5):
// title/creator normalization, token-set similarity scoring, ranking, and
// both selection strategies (collect_and_select, sequential_first_hit).
// Grounded on golang.org/x/text's unicode/norm and runes/transform
// packages — already an indirect dependency of the teacher's own go.mod —
// for the NFKC fold and diacritics stripping spec.md §4.5 requires.
package selector

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var diacriticsFold = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// Normalize applies spec.md §4.5's title/creator normalization: Unicode
// NFKC, lowercase, diacritics folded, punctuation replaced with
// whitespace, whitespace collapsed.
func Normalize(s string) string {
	folded, _, err := transform.String(diacriticsFold, s)
	if err != nil {
		folded = s
	}
	folded = norm.NFKC.String(folded)
	folded = strings.ToLower(folded)

	var b strings.Builder
	lastWasSpace := false
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastWasSpace = false
		default:
			if !lastWasSpace {
				b.WriteRune(' ')
				lastWasSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// Tokens splits a normalized string into its whitespace-separated tokens.
func Tokens(normalized string) []string {
	if normalized == "" {
		return nil
	}
	return strings.Fields(normalized)
}
