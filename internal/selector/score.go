package selector

import "sort"

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}

	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}

	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			m := del
			if ins < m {
				m = ins
			}
			if sub < m {
				m = sub
			}
			curr[j] = m
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}

// simpleRatio is a Levenshtein-distance-based similarity ratio in [0,100],
// the same shape as difflib/fuzzywuzzy's SequenceMatcher.ratio but driven
// by edit distance rather than longest-matching-block recursion.
func simpleRatio(a, b string) float64 {
	if a == "" && b == "" {
		return 100
	}
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 100
	}
	dist := levenshtein(a, b)
	ratio := (1 - float64(dist)/float64(maxLen)) * 100
	if ratio < 0 {
		ratio = 0
	}
	return ratio
}

// TokenSetRatio implements token-set similarity (spec.md §4.5): tokens
// shared between both strings are factored out so word-order and
// repeated/extra words don't penalize a match, the same construction
// fuzzywuzzy's token_set_ratio uses.
func TokenSetRatio(a, b string) float64 {
	t1 := Tokens(Normalize(a))
	t2 := Tokens(Normalize(b))
	if len(t1) == 0 && len(t2) == 0 {
		return 100
	}
	if len(t1) == 0 || len(t2) == 0 {
		return 0
	}

	set1 := toSet(t1)
	set2 := toSet(t2)

	var intersection, diff1, diff2 []string
	for tok := range set1 {
		if set2[tok] {
			intersection = append(intersection, tok)
		} else {
			diff1 = append(diff1, tok)
		}
	}
	for tok := range set2 {
		if !set1[tok] {
			diff2 = append(diff2, tok)
		}
	}
	sort.Strings(intersection)
	sort.Strings(diff1)
	sort.Strings(diff2)

	sortedIntersection := joinTokens(intersection)
	combined1 := joinTokens(append(append([]string{}, intersection...), diff1...))
	combined2 := joinTokens(append(append([]string{}, intersection...), diff2...))

	best := simpleRatio(sortedIntersection, combined1)
	if r := simpleRatio(sortedIntersection, combined2); r > best {
		best = r
	}
	if r := simpleRatio(combined1, combined2); r > best {
		best = r
	}
	return best
}

func toSet(tokens []string) map[string]bool {
	m := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		m[t] = true
	}
	return m
}

func joinTokens(tokens []string) string {
	out := ""
	for i, t := range tokens {
		if i > 0 {
			out += " "
		}
		out += t
	}
	return out
}
