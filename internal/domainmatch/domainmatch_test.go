package domainmatch

import "testing"

func TestMatchPolicyIDPrefersExactThenLongestWildcardSuffix(t *testing.T) {
	known := map[string]bool{"P1": true, "P2": true, "P3": true, "PD": true}
	m, err := Build(
		map[string]string{"a.example.com": "P1"},
		map[string]string{"*.example.com": "P2", "*.com": "P3"},
		"PD",
		known,
	)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	cases := map[string]string{
		"a.example.com": "P1",
		"b.example.com": "P2",
		"foo.net":       "PD",
		"example.com":   "P2", // a host equal to a wildcard suffix matches that entry, ahead of the shorter *.com
	}
	for host, want := range cases {
		if got := m.MatchPolicyID(host); got != want {
			t.Errorf("MatchPolicyID(%q) = %q, want %q", host, got, want)
		}
	}
}

func TestSpecificityLongestSuffixWins(t *testing.T) {
	known := map[string]bool{"broad": true, "narrow": true, "d": true}
	m, err := Build(nil, map[string]string{
		"com":         "broad",
		"example.com": "narrow",
	}, "d", known)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if got := m.MatchPolicyID("foo.example.com"); got != "narrow" {
		t.Fatalf("expected longest suffix to win, got %q", got)
	}
}

func TestBuildRejectsMissingDefaultPolicy(t *testing.T) {
	_, err := Build(nil, nil, "missing", map[string]bool{"other": true})
	if err == nil {
		t.Fatal("expected error when default policy id is unknown")
	}
}

func TestExactSuffixMatchRequiresDotBoundary(t *testing.T) {
	known := map[string]bool{"p": true, "d": true}
	m, err := Build(nil, map[string]string{"example.com": "p"}, "d", known)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	// "notexample.com" should not match the "example.com" suffix.
	if got := m.MatchPolicyID("notexample.com"); got != "d" {
		t.Fatalf("expected default for non-dot-boundary suffix, got %q", got)
	}
}
