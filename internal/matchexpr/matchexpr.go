// Package matchexpr implements the compiled boolean match-expression tree:
// a closed sum type evaluated against a request context and a header view,
// with short-circuit And/Or/Not semantics.
package matchexpr

import (
	"regexp"
	"strings"

	"minishield.tech/waf-core/internal/reqctx"
)

// Kind discriminates the Expr sum type. Exhaustive handling is required
// everywhere an Expr is evaluated or compiled -- there is no open
// extension point by design.
type Kind int

const (
	KindAny Kind = iota
	KindPathPrefix
	KindMethodIn
	KindHostIn
	KindHeaderExists
	KindHeaderEquals
	KindHeaderRegex
	KindAnd
	KindOr
	KindNot
)

// Expr is a compiled match expression node. Exactly the fields relevant to
// Kind are populated: a closed sum type rather than a field/operator pair
// interpreted by a switch over strings.
type Expr struct {
	Kind Kind

	PathPrefix string
	Methods    []string // already uppercased
	Hosts      []string // already lowercased

	HeaderName  string // already lowercased
	HeaderValue string
	HeaderRE    *regexp.Regexp

	Children []*Expr // And/Or operands, or the single Not operand
}

// Any is the vacuously-true expression.
func Any() *Expr { return &Expr{Kind: KindAny} }

// Eval evaluates the expression against ctx/headers with short-circuit
// And/Or/Not semantics.
func (e *Expr) Eval(ctx *reqctx.Context, h reqctx.Headers) bool {
	if e == nil {
		return true
	}
	switch e.Kind {
	case KindAny:
		return true

	case KindPathPrefix:
		return strings.HasPrefix(ctx.Path, e.PathPrefix)

	case KindMethodIn:
		for _, m := range e.Methods {
			if strings.EqualFold(ctx.Method, m) {
				return true
			}
		}
		return false

	case KindHostIn:
		if ctx.Host == "" {
			return false
		}
		for _, host := range e.Hosts {
			if strings.EqualFold(ctx.Host, host) {
				return true
			}
		}
		return false

	case KindHeaderExists:
		_, ok := h.Get(e.HeaderName)
		return ok

	case KindHeaderEquals:
		v, ok := h.Get(e.HeaderName)
		return ok && v == e.HeaderValue // case-sensitive on value

	case KindHeaderRegex:
		v, ok := h.Get(e.HeaderName)
		return ok && e.HeaderRE != nil && e.HeaderRE.MatchString(v)

	case KindAnd:
		for _, c := range e.Children {
			if !c.Eval(ctx, h) {
				return false
			}
		}
		return true

	case KindOr:
		for _, c := range e.Children {
			if c.Eval(ctx, h) {
				return true
			}
		}
		return false

	case KindNot:
		if len(e.Children) != 1 {
			return false
		}
		return !e.Children[0].Eval(ctx, h)
	}

	return false
}
