package kiosk

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// PhraseMatcher finds reset phrases inside transcripts. Matching is a
// case-insensitive substring test that also ignores accents, so "adiós"
// matches "adios".
type PhraseMatcher struct {
	phrases []string
}

func NewPhraseMatcher(phrases []string) PhraseMatcher {
	m := PhraseMatcher{phrases: make([]string, 0, len(phrases))}
	for _, p := range phrases {
		if p = fold(strings.TrimSpace(p)); p != "" {
			m.phrases = append(m.phrases, p)
		}
	}
	return m
}

// Match returns the first phrase contained in text.
func (m PhraseMatcher) Match(text string) (string, bool) {
	t := fold(text)
	for _, p := range m.phrases {
		if strings.Contains(t, p) {
			return p, true
		}
	}
	return "", false
}

func fold(s string) string {
	// transform.Chain keeps state, so each call builds its own.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}
