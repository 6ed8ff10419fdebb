package matcher

import "testing"

func TestIsMatchCaseInsensitive(t *testing.T) {
	m := New([]string{"DROP TABLE", "<script>"})
	if !m.IsMatch([]byte("select * ; drop table users")) {
		t.Fatal("expected case-insensitive match")
	}
	if m.IsMatch([]byte("select * from users")) {
		t.Fatal("unexpected match")
	}
}

func TestMaxPatternLength(t *testing.T) {
	m := New([]string{"ab", "abcdef", "xy"})
	if m.MaxPatternLength() != 6 {
		t.Fatalf("got %d, want 6", m.MaxPatternLength())
	}
}

func TestEmptyMatcherNeverMatches(t *testing.T) {
	var m Matcher
	if m.IsMatch([]byte("anything")) {
		t.Fatal("zero-value matcher should never match")
	}
	if New(nil).IsMatch([]byte("anything")) {
		t.Fatal("no-pattern matcher should never match")
	}
}
