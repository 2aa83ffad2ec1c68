// File: internal/healing/similarity.go
package healing

import (
	"strings"
	"unicode"
)

// similarity returns a [0,1] score from normalized Levenshtein distance:
// 1 - dist/max(len(a), len(b)). Comparison is case-insensitive. This is the
// concrete similarity function behind every fuzzy strategy; the graded
// confidence ranges are linear in this score.
func similarity(a, b string) float64 {
	a = strings.ToLower(a)
	b = strings.ToLower(b)
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	if la == 0 || lb == 0 {
		return 0
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
			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}

	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	return 1 - float64(prev[lb])/float64(maxLen)
}

// tokenize splits an identifier or phrase into lowercase word tokens.
// Handles kebab-case, snake_case and camelCase; single-rune tokens are noise
// and dropped.
func tokenize(s string) []string {
	var tokens []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 1 {
			tokens = append(tokens, strings.ToLower(b.String()))
		}
		b.Reset()
	}
	var prev rune
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if unicode.IsUpper(r) && unicode.IsLower(prev) {
				flush()
			}
			b.WriteRune(r)
		default:
			flush()
		}
		prev = r
	}
	flush()
	return tokens
}

// tokenOverlap scores how well the hint tokens are covered by the candidate
// string. Exact token hits count 1, near-misses (similarity >= 0.8) count
// their similarity. Result is in [0,1].
func tokenOverlap(candidate string, hintTokens []string) float64 {
	if len(hintTokens) == 0 {
		return 0
	}
	candTokens := tokenize(candidate)
	if len(candTokens) == 0 {
		return 0
	}
	var total float64
	for _, ht := range hintTokens {
		best := 0.0
		for _, ct := range candTokens {
			if ct == ht {
				best = 1
				break
			}
			if s := similarity(ct, ht); s >= 0.8 && s > best {
				best = s
			}
		}
		total += best
	}
	return total / float64(len(hintTokens))
}

// normalizeText collapses whitespace and lowercases for text comparison.
func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
