// Package domainmatch implements the domain matcher: exact and
// longest-wildcard-suffix host-to-policy-id lookup with a mandatory
// default fallback, so a wildcard entry like "*.example.com" covers every
// subdomain without an explicit record for each one.
package domainmatch

import (
	"fmt"
	"sort"
	"strings"

	"minishield.tech/waf-core/internal/normalize"
)

type suffixEntry struct {
	suffix   string
	policyID string
}

// Matcher is the compiled domain map.
type Matcher struct {
	exact           map[string]string
	wildcardSuffix  []suffixEntry // sorted by descending suffix length
	defaultPolicyID string
}

// Build constructs a Matcher from an exact-host map and a set of
// "*.suffix" wildcard entries, validating that defaultPolicyID is present
// in knownPolicyIDs: the default policy id must exist in the policies map,
// or loading fails.
func Build(exact map[string]string, wildcard map[string]string, defaultPolicyID string, knownPolicyIDs map[string]bool) (*Matcher, error) {
	if !knownPolicyIDs[defaultPolicyID] {
		return nil, fmt.Errorf("default policy id %q does not exist among loaded policies", defaultPolicyID)
	}

	m := &Matcher{
		exact:           make(map[string]string, len(exact)),
		defaultPolicyID: defaultPolicyID,
	}
	for host, pid := range exact {
		m.exact[normalize.Host(host)] = pid
	}
	for suffix, pid := range wildcard {
		m.wildcardSuffix = append(m.wildcardSuffix, suffixEntry{suffix: normalize.Host(strings.TrimPrefix(suffix, "*.")), policyID: pid})
	}
	sort.Slice(m.wildcardSuffix, func(i, j int) bool {
		return len(m.wildcardSuffix[i].suffix) > len(m.wildcardSuffix[j].suffix)
	})

	return m, nil
}

// MatchPolicyID resolves host to a policy id: exact match first, then the
// longest matching wildcard suffix, falling back to the default.
func (m *Matcher) MatchPolicyID(host string) string {
	h := normalize.Host(host)

	if pid, ok := m.exact[h]; ok {
		return pid
	}

	for _, e := range m.wildcardSuffix {
		if h == e.suffix || strings.HasSuffix(h, "."+e.suffix) {
			return e.policyID
		}
	}

	return m.defaultPolicyID
}

// DefaultPolicyID returns the configured fallback policy id.
func (m *Matcher) DefaultPolicyID() string {
	return m.defaultPolicyID
}
