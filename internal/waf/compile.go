package waf

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"minishield.tech/waf-core/internal/action"
	"minishield.tech/waf-core/internal/matcher"
)

// LoadRulesFile reads and parses the WAF rules file into its raw rule
// list, ready for Compile.
func LoadRulesFile(path string) ([]RuleRaw, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading waf rules file: %w", err)
	}
	var raw FileRaw
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing waf rules file: %w", err)
	}
	return raw.Rules, nil
}

// HeaderRegexRaw mirrors one {name,pattern} entry in a rule's when.header_regex.
type HeaderRegexRaw struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
}

// WhenRaw mirrors the `when` block of a WAF rules file entry.
type WhenRaw struct {
	Methods     []string         `yaml:"methods"`
	PathPrefix  []string         `yaml:"path_prefix"`
	URIAc       []string         `yaml:"uri_ac"`
	BodyAc      []string         `yaml:"body_ac"`
	HeaderRegex []HeaderRegexRaw `yaml:"header_regex"`
}

// RuleRaw mirrors one entry of the WAF rules file's `rules` list.
type RuleRaw struct {
	ID     string  `yaml:"id"`
	When   WhenRaw `yaml:"when"`
	Action string  `yaml:"action"` // allow|block|challenge
}

// FileRaw mirrors the whole WAF rules file.
type FileRaw struct {
	Version string    `yaml:"version"`
	Rules   []RuleRaw `yaml:"rules"`
}

// Compile turns the raw YAML rule list into a compiled ruleset, failing
// the whole file on any regex compile error.
func Compile(raws []RuleRaw) ([]Rule, error) {
	out := make([]Rule, 0, len(raws))
	for i, raw := range raws {
		r, err := compileOne(raw)
		if err != nil {
			return nil, fmt.Errorf("waf rule %d (%s): %w", i, raw.ID, err)
		}
		out = append(out, r)
	}
	return out, nil
}

var actionKindByName = map[string]action.Kind{
	"allow":     action.KindAllow,
	"block":     action.KindBlock,
	"challenge": action.KindChallenge,
}

func compileOne(raw RuleRaw) (Rule, error) {
	kind, ok := actionKindByName[raw.Action]
	if !ok {
		return Rule{}, fmt.Errorf("unknown action %q, want allow|block|challenge", raw.Action)
	}

	r := Rule{
		ID:         raw.ID,
		ActionKind: kind,
		Status:     403,
	}
	if kind == action.KindChallenge {
		r.Status = 0
	}

	if raw.When.Methods != nil {
		r.Methods = raw.When.Methods
	}
	if raw.When.PathPrefix != nil {
		r.PathPrefix = raw.When.PathPrefix
	}
	if raw.When.URIAc != nil {
		r.URIMatcher = matcher.New(raw.When.URIAc)
	}
	if raw.When.BodyAc != nil {
		r.BodyMatcher = matcher.New(raw.When.BodyAc)
	}
	for _, hr := range raw.When.HeaderRegex {
		re, err := regexp.Compile(hr.Pattern)
		if err != nil {
			return Rule{}, fmt.Errorf("header_regex %q: %w", hr.Pattern, err)
		}
		r.HeaderRegex = append(r.HeaderRegex, HeaderRegexSpec{Name: hr.Name, RE: re})
	}

	return r, nil
}
