// Package tokenize normalizes content into keyword tokens and character
// shingles, shared by the keyword index, the dedup MinHash stage, and the
// smart extractor's rules mode.
package tokenize

import (
	"strings"
	"unicode"

	"github.com/orsinium-labs/stopwords"
)

var english = stopwords.MustGet("en")

// Words splits s into lowercased word tokens, stripping punctuation.
func Words(s string) []string {
	var words []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			words = append(words, b.String())
			b.Reset()
		}
	}
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		} else {
			flush()
		}
	}
	flush()
	return words
}

// Keywords returns normalized, stopword-filtered keyword tokens suitable
// for the inverted keyword index.
func Keywords(s string) []string {
	words := Words(s)
	out := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) < 2 {
			continue
		}
		if english.Contains(w) {
			continue
		}
		out = append(out, w)
	}
	return out
}

// Shingles returns overlapping character n-grams of width k over the
// normalized text, used as MinHash input for near-duplicate detection.
func Shingles(s string, k int) []string {
	norm := strings.Join(Words(s), " ")
	if len(norm) < k {
		if norm == "" {
			return nil
		}
		return []string{norm}
	}
	out := make([]string, 0, len(norm)-k+1)
	runes := []rune(norm)
	if len(runes) < k {
		return []string{norm}
	}
	for i := 0; i+k <= len(runes); i++ {
		out = append(out, string(runes[i:i+k]))
	}
	return out
}

// Normalize trims, case-folds, and strips punctuation for exact-duplicate
// hash comparison.
func Normalize(s string) string {
	return strings.Join(Words(s), " ")
}
