package similarity

import (
	"strings"
	"unicode"
)

// Common Latin diacritics folded to their ASCII base. Covers the accents
// seen in shop names (café, kafé, ñ); anything outside the table passes
// through unchanged.
var latinFold = map[rune]rune{
	'à': 'a', 'á': 'a', 'â': 'a', 'ã': 'a', 'ä': 'a', 'å': 'a', 'ā': 'a', 'ă': 'a', 'ą': 'a',
	'è': 'e', 'é': 'e', 'ê': 'e', 'ë': 'e', 'ē': 'e', 'ė': 'e', 'ę': 'e',
	'ì': 'i', 'í': 'i', 'î': 'i', 'ï': 'i', 'ī': 'i', 'į': 'i',
	'ò': 'o', 'ó': 'o', 'ô': 'o', 'õ': 'o', 'ö': 'o', 'ø': 'o', 'ō': 'o',
	'ù': 'u', 'ú': 'u', 'û': 'u', 'ü': 'u', 'ū': 'u', 'ů': 'u',
	'ç': 'c', 'ć': 'c', 'č': 'c',
	'ñ': 'n', 'ń': 'n',
	'š': 's', 'ś': 's',
	'ž': 'z', 'ź': 'z', 'ż': 'z',
	'ý': 'y', 'ÿ': 'y',
	'ğ': 'g', 'đ': 'd', 'ł': 'l', 'ř': 'r', 'ť': 't',
}

// Normalize lowercases, folds Latin diacritics, replaces punctuation with
// spaces, and collapses runs of whitespace to single spaces. Two strings
// that differ only in casing, accents, punctuation, or spacing normalize to
// the same value.
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if folded, ok := latinFold[r]; ok {
			r = folded
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
