// Package match implements the tag/keyword matcher used to select and
// exclude posts: case-insensitive porter2 word stemming plus a raw
// substring fallback against the tag string.
package match

import (
	"strings"
	"unicode"

	"github.com/surgebase/porter2"
)

// Matcher tests record text against a fixed, space-separated term list.
// Terms and text words are both stemmed, so "exploits" in a title matches
// the term "exploit". Because stemming treats a compound tag like
// "exploit-password" as a single word, a lowercase substring check against
// the tag string backs the stem match up.
type Matcher struct {
	stems map[string]struct{}
	raw   []string
}

// New builds a Matcher from a space-separated term list. An empty list
// yields a matcher that matches nothing.
func New(terms string) *Matcher {
	m := &Matcher{stems: make(map[string]struct{})}
	for _, term := range strings.Fields(terms) {
		term = strings.ToLower(term)
		m.raw = append(m.raw, term)
		m.stems[porter2.Stem(term)] = struct{}{}
	}
	return m
}

// Empty reports whether the matcher has no terms.
func (m *Matcher) Empty() bool {
	return m == nil || len(m.raw) == 0
}

// Matches reports whether any term matches the title, tag list, or body.
// Pass "" for parts a record does not carry.
func (m *Matcher) Matches(title, tags, body string) bool {
	if m.Empty() {
		return false
	}
	if m.matchesWords(title) || m.matchesWords(tags) || m.matchesWords(body) {
		return true
	}
	return m.matchesTagSubstring(tags)
}

// matchesWords stems every word of text and tests it against the term set.
func (m *Matcher) matchesWords(text string) bool {
	if text == "" {
		return false
	}
	for _, word := range splitWords(text) {
		if _, ok := m.stems[porter2.Stem(word)]; ok {
			return true
		}
	}
	return false
}

// matchesTagSubstring is the fallback for compound tags: a raw term that
// appears anywhere inside the tag string counts as a match.
func (m *Matcher) matchesTagSubstring(tags string) bool {
	if tags == "" {
		return false
	}
	tags = strings.ToLower(tags)
	for _, term := range m.raw {
		if strings.Contains(tags, term) {
			return true
		}
	}
	return false
}

// splitWords lowercases text and splits it on anything that is not a
// letter, digit, or hyphen, so "sql-injection" survives as one word while
// markup and punctuation fall away.
func splitWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
}
