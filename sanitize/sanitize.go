// Package sanitize holds the character policy shared by cache keys, remote
// answers and persona output.
package sanitize

import "strings"

// Forbidden lists every character stripped from cache keys and from any text
// that reaches persona styling, storage or the chat channel.
const Forbidden = "#\\`~()-"

var stripper = func() *strings.Replacer {
	pairs := make([]string, 0, len(Forbidden)*2)
	for _, r := range Forbidden {
		pairs = append(pairs, string(r), "")
	}
	return strings.NewReplacer(pairs...)
}()

// Clean removes forbidden characters. Clean(Clean(s)) == Clean(s).
func Clean(s string) string {
	if !strings.ContainsAny(s, Forbidden) {
		return s
	}
	return stripper.Replace(s)
}

// Normalize turns a raw prompt into its cache key: lower-cased, cleaned,
// whitespace collapsed and trailing sentence punctuation dropped.
func Normalize(prompt string) string {
	s := Clean(strings.ToLower(prompt))
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimRight(s, "?!. ")
}

// ContainsForbidden reports whether s still carries a forbidden character.
func ContainsForbidden(s string) bool { return strings.ContainsAny(s, Forbidden) }
