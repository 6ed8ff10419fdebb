package matchexpr

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// HeaderEqualsSpec and HeaderRegexSpec mirror the nested YAML shapes for
// header_equals/header_regex.
type HeaderEqualsSpec struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

type HeaderRegexSpec struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
}

// Raw is the untagged YAML shape of a MatchExpr: the variant is whichever
// one field is non-nil. Policy files that populate more than one variant
// key at the same level are rejected by Compile.
type Raw struct {
	Any           *struct{}          `yaml:"any"`
	PathPrefix    *string            `yaml:"path_prefix"`
	MethodIn      []string           `yaml:"method_in"`
	HostIn        []string           `yaml:"host_in"`
	HeaderExists  *string            `yaml:"header_exists"`
	HeaderEquals  *HeaderEqualsSpec  `yaml:"header_equals"`
	HeaderRegex   *HeaderRegexSpec   `yaml:"header_regex"`
	And           []Raw              `yaml:"and"`
	Or            []Raw              `yaml:"or"`
	Not           *Raw               `yaml:"not"`
}

// UnmarshalYAML lets `match: any` appear as the bare scalar "any" while
// every other variant is a single-key mapping.
func (r *Raw) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		if node.Value == "any" {
			r.Any = &struct{}{}
			return nil
		}
		return fmt.Errorf("unrecognized scalar match expression %q", node.Value)
	}

	type rawAlias Raw
	var a rawAlias
	if err := node.Decode(&a); err != nil {
		return err
	}
	*r = Raw(a)
	return nil
}

func (r Raw) variantCount() int {
	n := 0
	if r.Any != nil {
		n++
	}
	if r.PathPrefix != nil {
		n++
	}
	if r.MethodIn != nil {
		n++
	}
	if r.HostIn != nil {
		n++
	}
	if r.HeaderExists != nil {
		n++
	}
	if r.HeaderEquals != nil {
		n++
	}
	if r.HeaderRegex != nil {
		n++
	}
	if r.And != nil {
		n++
	}
	if r.Or != nil {
		n++
	}
	if r.Not != nil {
		n++
	}
	return n
}

// Compile converts the untagged YAML representation into a closed Expr
// tree, rejecting ambiguous (multi-key) or empty nodes and failing the
// entire file on any regex compile error.
func Compile(r Raw) (*Expr, error) {
	switch n := r.variantCount(); {
	case n == 0:
		return nil, fmt.Errorf("match expression has no recognized variant key")
	case n > 1:
		return nil, fmt.Errorf("match expression has %d variant keys set, want exactly 1", n)
	}

	switch {
	case r.Any != nil:
		return Any(), nil

	case r.PathPrefix != nil:
		return &Expr{Kind: KindPathPrefix, PathPrefix: *r.PathPrefix}, nil

	case r.MethodIn != nil:
		ms := make([]string, len(r.MethodIn))
		for i, m := range r.MethodIn {
			ms[i] = strings.ToUpper(m)
		}
		return &Expr{Kind: KindMethodIn, Methods: ms}, nil

	case r.HostIn != nil:
		hs := make([]string, len(r.HostIn))
		for i, h := range r.HostIn {
			hs[i] = strings.ToLower(h)
		}
		return &Expr{Kind: KindHostIn, Hosts: hs}, nil

	case r.HeaderExists != nil:
		return &Expr{Kind: KindHeaderExists, HeaderName: strings.ToLower(*r.HeaderExists)}, nil

	case r.HeaderEquals != nil:
		return &Expr{
			Kind:        KindHeaderEquals,
			HeaderName:  strings.ToLower(r.HeaderEquals.Name),
			HeaderValue: r.HeaderEquals.Value,
		}, nil

	case r.HeaderRegex != nil:
		re, err := regexp.Compile(r.HeaderRegex.Pattern)
		if err != nil {
			return nil, fmt.Errorf("header_regex %q: %w", r.HeaderRegex.Pattern, err)
		}
		return &Expr{
			Kind:       KindHeaderRegex,
			HeaderName: strings.ToLower(r.HeaderRegex.Name),
			HeaderRE:   re,
		}, nil

	case r.And != nil:
		children, err := compileAll(r.And)
		if err != nil {
			return nil, fmt.Errorf("and: %w", err)
		}
		return &Expr{Kind: KindAnd, Children: children}, nil

	case r.Or != nil:
		children, err := compileAll(r.Or)
		if err != nil {
			return nil, fmt.Errorf("or: %w", err)
		}
		return &Expr{Kind: KindOr, Children: children}, nil

	case r.Not != nil:
		child, err := Compile(*r.Not)
		if err != nil {
			return nil, fmt.Errorf("not: %w", err)
		}
		return &Expr{Kind: KindNot, Children: []*Expr{child}}, nil
	}

	return nil, fmt.Errorf("unreachable: no variant matched")
}

func compileAll(raws []Raw) ([]*Expr, error) {
	out := make([]*Expr, 0, len(raws))
	for i, r := range raws {
		e, err := Compile(r)
		if err != nil {
			return nil, fmt.Errorf("child %d: %w", i, err)
		}
		out = append(out, e)
	}
	return out, nil
}
