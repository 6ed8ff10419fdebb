// Package policy implements the policy compiler and manager: compiling
// policy YAML files into compiled policies, and owning the atomically
// swapped snapshot of {domain matcher, policies, CC limiter}. The cache is
// an immutable snapshot behind an atomic pointer rather than a mutex, built
// wholesale off to the side from YAML files under a directory and then
// swapped in.
package policy

import (
	"fmt"

	"minishield.tech/waf-core/internal/action"
	"minishield.tech/waf-core/internal/cclimiter"
	"minishield.tech/waf-core/internal/domainmatch"
	"minishield.tech/waf-core/internal/protection"
)

// WAFConfig is a policy's WAF toggle.
type WAFConfig struct {
	Enabled bool
	Ruleset string // advisory name of the global ruleset to apply
}

// Policy is a compiled policy bundle.
type Policy struct {
	Version int
	ID      string
	WAF     WAFConfig
	Precise []protection.Rule
	Base    []protection.Rule
}

// FallbackPolicy is synthesized by State.GetPolicyForHost (never stored in
// Policies) when even the default policy id is somehow absent post-load: no
// rules and WAF disabled.
func FallbackPolicy() *Policy {
	return &Policy{ID: "__fallback__", WAF: WAFConfig{Enabled: false}}
}

// State is the atomically swappable snapshot: the compiled domain matcher,
// the policy set it resolves into, and the CC limiter, whose identity must
// be preserved by the caller across reloads.
type State struct {
	Matcher  *domainmatch.Matcher
	Policies map[string]*Policy
	Limiter  *cclimiter.Limiter
}

// GetPolicyForHost resolves host to its compiled policy, falling back to a
// trivial no-op policy only in the (should-not-occur) case that even the
// default policy id is missing from Policies.
func (s *State) GetPolicyForHost(host string) *Policy {
	pid := s.Matcher.MatchPolicyID(host)
	if p, ok := s.Policies[pid]; ok {
		return p
	}
	return FallbackPolicy()
}

// ValidateCompiledPolicies checks structural invariants that span the
// whole set (the Cc on_limit restriction is enforced at action.Compile
// time; this covers what spans multiple rules/policies instead).
func ValidateCompiledPolicies(policies map[string]*Policy) error {
	for id, p := range policies {
		if p.ID != id {
			return fmt.Errorf("policy %q: declared id %q does not match its map key", id, p.ID)
		}
		for _, list := range [][]protection.Rule{p.Precise, p.Base} {
			for _, r := range list {
				if r.Action.Kind == action.KindCc && !action.ValidOnLimit(r.Action.OnLimit.Kind) {
					return fmt.Errorf("policy %q rule %q: cc.on_limit must be log|block|challenge", id, r.ID)
				}
			}
		}
	}
	return nil
}
