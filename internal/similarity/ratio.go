package similarity

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"
)

// Ratio returns a [0,1] similarity between two normalized strings: the
// better of a character-level edit ratio and the same ratio after sorting
// tokens, so word-order differences don't punish otherwise equal names.
// Identical strings score 1.0; an empty string against a non-empty one
// scores 0.
func Ratio(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}
	direct := editRatio(a, b)
	sorted := editRatio(tokenSort(a), tokenSort(b))
	return math.Max(direct, sorted)
}

// MaxPossibleRatio bounds Ratio from above using only string lengths: edit
// distance is at least the length difference, so callers can skip the full
// computation when even the best case misses their threshold.
func MaxPossibleRatio(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	if maxLen == 0 {
		return 1.0
	}
	diff := la - lb
	if diff < 0 {
		diff = -diff
	}
	return 1.0 - float64(diff)/float64(maxLen)
}

func editRatio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(levenshtein(ra, rb))/float64(maxLen)
}

func tokenSort(s string) string {
	fields := strings.Fields(s)
	sort.Strings(fields)
	return strings.Join(fields, " ")
}

// levenshtein computes edit distance over runes with the usual dynamic
// programming matrix.
func levenshtein(s1, s2 []rune) int {
	len1, len2 := len(s1), len(s2)
	if len1 == 0 {
		return len2
	}
	if len2 == 0 {
		return len1
	}

	matrix := make([][]int, len1+1)
	for i := range matrix {
		matrix[i] = make([]int, len2+1)
		matrix[i][0] = i
	}
	for j := range matrix[0] {
		matrix[0][j] = j
	}

	for i := 1; i <= len1; i++ {
		for j := 1; j <= len2; j++ {
			cost := 0
			if s1[i-1] != s2[j-1] {
				cost = 1
			}
			matrix[i][j] = minInt(
				minInt(matrix[i-1][j]+1, matrix[i][j-1]+1),
				matrix[i-1][j-1]+cost,
			)
		}
	}
	return matrix[len1][len2]
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
