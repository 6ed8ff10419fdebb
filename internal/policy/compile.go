package policy

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"minishield.tech/waf-core/internal/action"
	"minishield.tech/waf-core/internal/matchexpr"
	"minishield.tech/waf-core/internal/protection"
)

// RuleRaw mirrors one entry of a policy's protections.precise/base list:
// {id, match, action}.
type RuleRaw struct {
	ID     string        `yaml:"id"`
	Match  matchexpr.Raw `yaml:"match"`
	Action action.Raw    `yaml:"action"`
}

// ProtectionsRaw mirrors a policy file's `protections` block.
type ProtectionsRaw struct {
	Precise []RuleRaw `yaml:"precise"`
	Base    []RuleRaw `yaml:"base"`
}

// WAFRaw mirrors a policy file's `waf` block.
type WAFRaw struct {
	Enabled bool   `yaml:"enabled"`
	Ruleset string `yaml:"ruleset"`
}

// FileRaw mirrors one whole policy YAML file.
type FileRaw struct {
	Version     int            `yaml:"version"`
	ID          string         `yaml:"id"`
	Protections ProtectionsRaw `yaml:"protections"`
	WAF         WAFRaw         `yaml:"waf"`
}

// DomainMapRaw mirrors the domain map YAML file: exact hosts, "*.suffix"
// wildcard hosts, and the mandatory default policy id.
type DomainMapRaw struct {
	Default string            `yaml:"default"`
	Hosts   map[string]string `yaml:"hosts"`
}

// CompileRules turns a raw protections list into compiled protection.Rule
// values, failing the whole file on any match/action compile error.
func CompileRules(raws []RuleRaw) ([]protection.Rule, error) {
	out := make([]protection.Rule, 0, len(raws))
	for i, raw := range raws {
		m, err := matchexpr.Compile(raw.Match)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s) match: %w", i, raw.ID, err)
		}
		a, err := action.Compile(raw.Action)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s) action: %w", i, raw.ID, err)
		}
		out = append(out, protection.Rule{ID: raw.ID, Matcher: m, Action: a})
	}
	return out, nil
}

// CompileFile compiles one policy file's raw contents.
func CompileFile(raw FileRaw) (*Policy, error) {
	if raw.ID == "" {
		return nil, fmt.Errorf("policy file missing id")
	}
	precise, err := CompileRules(raw.Protections.Precise)
	if err != nil {
		return nil, fmt.Errorf("policy %q protections.precise: %w", raw.ID, err)
	}
	base, err := CompileRules(raw.Protections.Base)
	if err != nil {
		return nil, fmt.Errorf("policy %q protections.base: %w", raw.ID, err)
	}
	return &Policy{
		Version: raw.Version,
		ID:      raw.ID,
		WAF:     WAFConfig{Enabled: raw.WAF.Enabled, Ruleset: raw.WAF.Ruleset},
		Precise: precise,
		Base:    base,
	}, nil
}

// LoadPoliciesDir reads every *.yaml/*.yml file directly under dir and
// compiles each into a Policy keyed by its declared id, rejecting
// duplicate ids.
func LoadPoliciesDir(dir string) (map[string]*Policy, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading policies dir %q: %w", dir, err)
	}

	// Sorting gives deterministic "first file wins the duplicate-id error"
	// behavior across reloads and across platforms with different
	// directory-iteration order.
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	policies := make(map[string]*Policy, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", path, err)
		}
		var raw FileRaw
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing %q: %w", path, err)
		}
		p, err := CompileFile(raw)
		if err != nil {
			return nil, fmt.Errorf("compiling %q: %w", path, err)
		}
		if _, dup := policies[p.ID]; dup {
			return nil, fmt.Errorf("duplicate policy id %q (file %q)", p.ID, path)
		}
		policies[p.ID] = p
	}
	return policies, nil
}

// DirSignature computes the FNV-1a directory signature the policies-dir
// reload supervisor polls: for each .yaml/.yml entry, (file_name, size,
// mtime_nanos), in deterministic (sorted) order.
func DirSignature(dir string) (uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("reading policies dir %q: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	h := fnv.New64a()
	for _, name := range names {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			return 0, fmt.Errorf("stat %q: %w", name, err)
		}
		fmt.Fprintf(h, "%s|%d|%d\n", name, info.Size(), info.ModTime().UnixNano())
	}
	return h.Sum64(), nil
}

// LoadDomainMapFile reads and parses the domain map YAML file, splitting
// its host entries into exact and "*."-wildcard groups.
func LoadDomainMapFile(path string) (exact map[string]string, wildcard map[string]string, defaultPolicyID string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, "", fmt.Errorf("reading domain map %q: %w", path, err)
	}
	var raw DomainMapRaw
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, nil, "", fmt.Errorf("parsing domain map %q: %w", path, err)
	}
	if raw.Default == "" {
		return nil, nil, "", fmt.Errorf("domain map %q missing default policy id", path)
	}

	exact = make(map[string]string)
	wildcard = make(map[string]string)
	for host, pid := range raw.Hosts {
		if strings.HasPrefix(host, "*.") {
			wildcard[strings.TrimPrefix(host, "*.")] = pid
		} else {
			exact[host] = pid
		}
	}
	return exact, wildcard, raw.Default, nil
}
