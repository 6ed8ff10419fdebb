// Package protection implements the protection engine: ordered iteration
// over compiled precise/base rules, executing the first matching rule's
// action, with Allow/Log non-terminal and Block/Challenge terminal, and Cc
// actions consulting the CC limiter.
package protection

import (
	"fmt"
	"strings"

	"minishield.tech/waf-core/internal/action"
	"minishield.tech/waf-core/internal/cclimiter"
	"minishield.tech/waf-core/internal/matchexpr"
	"minishield.tech/waf-core/internal/reqctx"
)

// Rule is a compiled {id, matcher, action} triple.
type Rule struct {
	ID      string
	Matcher *matchexpr.Expr
	Action  *action.Action
}

// Verdict is the protection engine's terminal/non-terminal outcome for one
// eval_rules call.
type Verdict struct {
	Kind     action.Kind // KindAllow, KindBlock, or KindChallenge; KindLog only in onLog callbacks
	Status   int
	Reason   string
	RuleID   string // id of the rule that produced a terminal decision, if any
	Terminal bool
}

// allowVerdict is returned when no rule in the list produced a terminal
// decision.
func allowVerdict() Verdict {
	return Verdict{Kind: action.KindAllow}
}

// EvalRules iterates rules in order, executing the first matching rule's
// action. limiter may be nil only if no rule in the list uses Cc (callers
// normally always pass a real *cclimiter.Limiter from the policy
// snapshot). onLog, if non-nil, is invoked synchronously for every Log
// verdict (whether from a bare Log action or a Cc on_limit:log hit) at the
// moment of match -- Log is non-terminal, so its only observable effect is
// this callback, and it fires immediately rather than being deferred to
// whatever terminal decision follows.
func EvalRules(rules []Rule, ctx *reqctx.Context, h reqctx.Headers, limiter *cclimiter.Limiter, onLog func(Verdict)) Verdict {
	for _, rule := range rules {
		if !rule.Matcher.Eval(ctx, h) {
			continue
		}

		v, terminal := execute(rule, ctx, h, limiter)
		if terminal {
			return v
		}
		if v.Kind == action.KindLog && onLog != nil {
			onLog(v)
		}
		// Allow/Log (or Cc-with-no-hit, or Cc-hit-Log): continue to the
		// next rule.
	}
	return allowVerdict()
}

// execute runs one matched rule's action and reports whether it terminates
// evaluation.
func execute(rule Rule, ctx *reqctx.Context, h reqctx.Headers, limiter *cclimiter.Limiter) (Verdict, bool) {
	a := rule.Action
	switch a.Kind {
	case action.KindAllow:
		return Verdict{Kind: action.KindAllow, Reason: a.Reason, RuleID: rule.ID}, false

	case action.KindLog:
		return Verdict{Kind: action.KindLog, Reason: a.Reason, RuleID: rule.ID}, false

	case action.KindBlock:
		return Verdict{Kind: action.KindBlock, Status: a.Status, Reason: a.Reason, RuleID: rule.ID, Terminal: true}, true

	case action.KindChallenge:
		return Verdict{Kind: action.KindChallenge, Status: a.Status, Reason: a.Reason, RuleID: rule.ID, Terminal: true}, true

	case action.KindCc:
		return executeCc(rule, a, ctx, h, limiter)
	}

	// Unreachable given the closed Kind sum type; treat defensively as a
	// non-terminal no-op rather than silently blocking traffic.
	return Verdict{}, false
}

func executeCc(rule Rule, a *action.Action, ctx *reqctx.Context, h reqctx.Headers, limiter *cclimiter.Limiter) (Verdict, bool) {
	keyBody := buildCcKey(a.KeyParts, ctx, h)

	if limiter == nil {
		return Verdict{}, false
	}

	hit := limiter.Check(rule.ID, keyBody, cclimiter.Params{
		WindowSecs:  a.WindowSecs,
		MaxRequests: a.MaxRequests,
		BlockSecs:   a.BlockSecs,
	})
	if hit == nil {
		return Verdict{}, false
	}

	onLimit := a.OnLimit
	switch onLimit.Kind {
	case action.KindLog:
		return Verdict{Kind: action.KindLog, Reason: hit.Reason, RuleID: rule.ID}, false

	case action.KindBlock:
		reason := fmt.Sprintf("%s; %s", hit.Reason, onLimit.Reason)
		return Verdict{Kind: action.KindBlock, Status: onLimit.Status, Reason: reason, RuleID: rule.ID, Terminal: true}, true

	case action.KindChallenge:
		reason := fmt.Sprintf("%s; %s", hit.Reason, onLimit.Reason)
		return Verdict{Kind: action.KindChallenge, Status: onLimit.Status, Reason: reason, RuleID: rule.ID, Terminal: true}, true
	}

	return Verdict{}, false
}

// buildCcKey resolves each key part token and joins the resulting
// "part=value" segments with "|".
func buildCcKey(parts []string, ctx *reqctx.Context, h reqctx.Headers) string {
	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		segments = append(segments, part+"="+resolveKeyPart(part, ctx, h))
	}
	return strings.Join(segments, "|")
}

func resolveKeyPart(token string, ctx *reqctx.Context, h reqctx.Headers) string {
	switch {
	case token == "client_ip":
		if ctx.ClientIP == "" {
			return "0.0.0.0"
		}
		return ctx.ClientIP

	case token == "host":
		return ctx.Host

	case token == "path":
		return ctx.Path

	case token == "method":
		return ctx.Method

	case token == "user_agent":
		return ctx.UserAgent

	case strings.HasPrefix(token, "header:"):
		name := strings.TrimPrefix(token, "header:")
		v, _ := h.Get(name)
		return v

	case strings.HasPrefix(token, "cookie:"):
		name := strings.TrimPrefix(token, "cookie:")
		return reqctx.Cookie(h, name)
	}

	return ""
}
