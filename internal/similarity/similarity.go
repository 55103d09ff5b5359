// Package similarity provides fuzzy string matching for duplicate detection,
// interest-filter title reconciliation, and blacklist phrase filtering.
package similarity

import (
	"strings"
	"unicode"
)

// Score returns a similarity score in [0,1] between a and b, computed as
// 1 - editDistance/maxLen over the normalized forms. Identical strings
// score 1; fully disjoint strings approach 0.
func Score(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == nb {
		return 1.0
	}
	if len(na) == 0 || len(nb) == 0 {
		return 0.0
	}

	ra, rb := []rune(na), []rune(nb)
	distance := levenshtein(ra, rb)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	return 1.0 - float64(distance)/float64(maxLen)
}

// Match reports whether a and b score at or above threshold.
func Match(a, b string, threshold float64) bool {
	return Score(a, b) >= threshold
}

// BestMatch returns the index of the candidate most similar to target and
// its score, or (-1, 0) for an empty candidate list.
func BestMatch(target string, candidates []string) (int, float64) {
	best, bestScore := -1, 0.0
	for i, c := range candidates {
		if s := Score(target, c); best < 0 || s > bestScore {
			best, bestScore = i, s
		}
	}
	return best, bestScore
}

// Normalize lowercases s, strips punctuation, and collapses whitespace so
// similarity is insensitive to casing and trivial formatting.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r) || unicode.IsPunct(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// levenshtein computes the edit distance between two rune slices using a
// two-row rolling matrix.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = minInt(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func minInt(values ...int) int {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
