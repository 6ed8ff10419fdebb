// Package matcher wraps an Aho-Corasick automaton behind the narrow
// interface the WAF rule engine and streaming body scanner need: a single
// "does any pattern occur" query, plus the longest pattern length so callers
// can size retention buffers. Each query copies its input into a string for
// the underlying automaton, so it allocates.
package matcher

import (
	ahocorasick "github.com/petar-dambovaliev/aho-corasick"
)

// Matcher reports whether any of a fixed pattern set occurs in a byte
// slice. Patterns are matched ASCII case-insensitively. A zero-value
// Matcher (no patterns) never matches.
type Matcher struct {
	ac        *ahocorasick.AhoCorasick
	maxLen    int
	numPats   int
}

// New builds a Matcher over patterns. An empty pattern list yields a
// Matcher whose IsMatch always returns false.
func New(patterns []string) *Matcher {
	m := &Matcher{numPats: len(patterns)}
	if len(patterns) == 0 {
		return m
	}

	for _, p := range patterns {
		if len(p) > m.maxLen {
			m.maxLen = len(p)
		}
	}

	builder := ahocorasick.NewAhoCorasickBuilder(ahocorasick.Opts{
		AsciiCaseInsensitive: true,
		MatchKind:            ahocorasick.LeftMostFirstMatch,
		DFA:                  true,
	})
	ac := builder.Build(patterns)
	m.ac = &ac
	return m
}

// IsMatch reports whether any configured pattern occurs in data.
func (m *Matcher) IsMatch(data []byte) bool {
	if m == nil || m.ac == nil || m.numPats == 0 {
		return false
	}
	it := m.ac.Iter(string(data))
	return it.Next() != nil
}

// MaxPatternLength returns the length, in bytes, of the longest configured
// pattern, or 0 if there are no patterns.
func (m *Matcher) MaxPatternLength() int {
	if m == nil {
		return 0
	}
	return m.maxLen
}

// Empty reports whether the matcher has no patterns at all, letting callers
// skip allocating scan windows for rules that carry no body/uri patterns.
func (m *Matcher) Empty() bool {
	return m == nil || m.numPats == 0
}
