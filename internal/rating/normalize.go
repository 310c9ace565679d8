package rating

import (
	"regexp"
	"strings"
)

var nonWord = regexp.MustCompile(`\W+`)

// Normalize folds a string for fuzzy comparison: every run of non-word
// characters is removed and the result is lowercased. "Washing Machine"
// and "washing  machine" both normalize to "washingmachine".
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(nonWord.ReplaceAllString(s, "")))
}
