// Package waf implements the header/body WAF rule engine: a header-phase
// filter that either returns a terminal decision or defers body-pattern
// rules to the streaming scan phase.
package waf

import (
	"strings"

	"minishield.tech/waf-core/internal/action"
	"minishield.tech/waf-core/internal/matcher"
	"minishield.tech/waf-core/internal/reqctx"
)

// HeaderRegexSpec is one header_regex clause inside a rule's `when` block.
type HeaderRegexSpec struct {
	Name string
	RE   RegexMatcher
}

// RegexMatcher is a tiny indirection so this package doesn't need to import
// regexp directly in its exported surface; it is always backed by
// *regexp.Regexp in practice (see compile.go).
type RegexMatcher interface {
	MatchString(string) bool
}

// Rule is one compiled WAF ruleset entry.
type Rule struct {
	ID         string
	ActionKind action.Kind // KindAllow, KindBlock, or KindChallenge
	Status     int
	Reason     string

	Methods     []string // nil means "no method restriction"
	PathPrefix  []string // nil means "no path restriction"
	URIMatcher  *matcher.Matcher
	BodyMatcher *matcher.Matcher
	HeaderRegex []HeaderRegexSpec
}

// BodyKeepLen is max_pattern_length-1 for this rule's body matcher, the
// number of tail bytes the streaming scanner must retain across chunks to
// guarantee detection of matches straddling a chunk boundary.
func (r Rule) BodyKeepLen() int {
	if r.BodyMatcher == nil || r.BodyMatcher.Empty() {
		return 0
	}
	n := r.BodyMatcher.MaxPatternLength() - 1
	if n < 0 {
		return 0
	}
	return n
}

// Decision is the engine's header-phase outcome.
type Decision struct {
	Kind   action.Kind
	Status int
	Reason string
	RuleID string
}

func allowDecision() Decision { return Decision{Kind: action.KindAllow} }

// EvalRequestHeaders runs the header phase of the WAF rule engine over
// ruleset, returning either a terminal decision or the accumulated lists of
// rule indices deferred to the body-streaming phase for the request and
// response sides. The two lists are identical today, kept separate so a
// future DSL can split them without an engine signature change.
func EvalRequestHeaders(ruleset []Rule, ctx *reqctx.Context, h reqctx.Headers) (Decision, []int, []int) {
	var deferredReq, deferredResp []int

	for i, rule := range ruleset {
		if rule.Methods != nil && !methodMatches(rule.Methods, ctx.Method) {
			continue
		}
		if rule.PathPrefix != nil && !pathPrefixMatches(rule.PathPrefix, ctx.Path) {
			continue
		}
		if rule.URIMatcher != nil && !rule.URIMatcher.Empty() && !rule.URIMatcher.IsMatch([]byte(ctx.Path)) {
			continue
		}
		if !headerRegexAllMatch(rule.HeaderRegex, h) {
			continue
		}

		if rule.BodyMatcher != nil && !rule.BodyMatcher.Empty() {
			deferredReq = append(deferredReq, i)
			deferredResp = append(deferredResp, i)
			continue
		}

		return Decision{Kind: rule.ActionKind, Status: rule.Status, Reason: rule.Reason, RuleID: rule.ID}, deferredReq, deferredResp
	}

	return allowDecision(), deferredReq, deferredResp
}

func methodMatches(methods []string, method string) bool {
	for _, m := range methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

func pathPrefixMatches(prefixes []string, path string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func headerRegexAllMatch(specs []HeaderRegexSpec, h reqctx.Headers) bool {
	for _, spec := range specs {
		v, ok := h.Get(spec.Name)
		if !ok || spec.RE == nil || !spec.RE.MatchString(v) {
			return false
		}
	}
	return true
}
