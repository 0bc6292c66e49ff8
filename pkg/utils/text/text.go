// Package text holds string helpers shared by retrieval and answering.
package text

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const MaxQueryLength = 2000

var unsafeChars = strings.NewReplacer("<", "", ">", "", "&", "", `"`, "", "'", "")

// SanitizeQuery removes markup characters, collapses whitespace and caps
// the length of user input.
func SanitizeQuery(s string) string {
	s = unsafeChars.Replace(s)
	s = strings.Join(strings.Fields(s), " ")
	return Truncate(s, MaxQueryLength)
}

// Truncate cuts s to at most n runes
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// Snippet truncates s and marks the cut with an ellipsis
func Snippet(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return Truncate(s, n) + "..."
}

// ApproxTokens estimates the token count of s at four characters per token
func ApproxTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + 3) / 4
}

var stopWords = map[string]struct{}{
	"de": {}, "la": {}, "el": {}, "los": {}, "las": {}, "un": {}, "una": {}, "y": {},
	"en": {}, "con": {}, "por": {}, "para": {}, "que": {}, "del": {}, "al": {}, "es": {},
	"se": {}, "lo": {}, "su": {}, "sus": {}, "como": {}, "o": {},
	"the": {}, "of": {}, "and": {}, "a": {}, "an": {}, "to": {}, "in": {}, "is": {},
	"for": {}, "on": {}, "what": {}, "how": {},
}

// Keywords splits s into distinct lowercased terms without stop words, in
// order of first appearance.
func Keywords(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if utf8.RuneCountInString(f) < 2 {
			continue
		}
		if _, ok := stopWords[f]; ok {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// Fold lowercases s and strips Spanish diacritics so "Misión" matches "mision"
func Fold(s string) string {
	return accents.Replace(strings.ToLower(s))
}

var accents = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u", "ñ", "n",
)
