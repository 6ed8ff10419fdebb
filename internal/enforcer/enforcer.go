// Package enforcer implements the per-request orchestration of the
// precise/base protection engines and the WAF header phase against a
// resolved policy: resolve the policy for the host, run the rule engine in
// order, and decide, short-circuiting on the first terminal verdict.
package enforcer

import (
	"minishield.tech/waf-core/internal/action"
	"minishield.tech/waf-core/internal/policy"
	"minishield.tech/waf-core/internal/protection"
	"minishield.tech/waf-core/internal/reqctx"
	"minishield.tech/waf-core/internal/waf"
)

// Result is the enforcer's unified per-request outcome: the resolved
// policy id, the decision, and any deferred body-rule indices.
type Result struct {
	PolicyID string
	Decision protection.Verdict

	// WAFRuleset and the deferred index lists are only meaningful when
	// Decision is non-terminal and WAF evaluation ran (phase 5).
	WAFRuleset        []waf.Rule
	RequestBodyRules  []int
	ResponseBodyRules []int
}

func allowResult(policyID string) Result {
	return Result{PolicyID: policyID, Decision: protection.Verdict{Kind: action.KindAllow}}
}

// Enforce runs the precise -> base -> WAF phases for one request against
// state. wafRuleset is the globally-maintained compiled WAF rules
// snapshot, looked up separately from the policy snapshot since one WAF
// ruleset can be shared by many policies.
func Enforce(state *policy.State, wafRuleset []waf.Rule, ctx *reqctx.Context, h reqctx.Headers, onLog func(protection.Verdict)) Result {
	p := state.GetPolicyForHost(ctx.Host)

	if v := protection.EvalRules(p.Precise, ctx, h, state.Limiter, onLog); v.Kind != action.KindAllow {
		return Result{PolicyID: p.ID, Decision: v}
	}

	if v := protection.EvalRules(p.Base, ctx, h, state.Limiter, onLog); v.Kind != action.KindAllow {
		return Result{PolicyID: p.ID, Decision: v}
	}

	if !p.WAF.Enabled {
		return allowResult(p.ID)
	}

	decision, reqIdx, respIdx := waf.EvalRequestHeaders(wafRuleset, ctx, h)
	return Result{
		PolicyID: p.ID,
		Decision: protection.Verdict{
			Kind:     decision.Kind,
			Status:   decision.Status,
			Reason:   decision.Reason,
			RuleID:   decision.RuleID,
			Terminal: decision.Kind != action.KindAllow,
		},
		WAFRuleset:        wafRuleset,
		RequestBodyRules:  reqIdx,
		ResponseBodyRules: respIdx,
	}
}
