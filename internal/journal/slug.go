package journal

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)
var repeatedUnderscore = regexp.MustCompile(`_+`)

// Slug implements spec.md §6's filename slugging: NFKC-fold, lowercase,
// replace runs of non-[a-z0-9] with a single underscore, collapse repeats,
// trim leading/trailing underscores, cap at maxLen.
func Slug(s string, maxLen int) string {
	folded := norm.NFKC.String(s)
	folded = strings.ToLower(folded)
	folded = nonSlugChars.ReplaceAllString(folded, "_")
	folded = repeatedUnderscore.ReplaceAllString(folded, "_")
	folded = strings.Trim(folded, "_")

	if maxLen > 0 && len(folded) > maxLen {
		folded = folded[:maxLen]
		folded = strings.TrimRight(folded, "_")
	}
	return folded
}
