package router

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ResolverRaw mirrors the upstream config file's `resolver` block: mode
// picks which of the two sibling field groups applies.
type ResolverRaw struct {
	Mode string `yaml:"mode"` // static | dns

	HostToCname map[string]string `yaml:"host_to_cname"`

	TimeoutMs       int      `yaml:"timeout_ms"`
	CacheTTLSecs    int      `yaml:"cache_ttl_secs"`
	CnameChainLimit int      `yaml:"cname_chain_limit"`
	Servers         []string `yaml:"servers"`
}

// CnameRoutingRaw mirrors the `cname_routing` block.
type CnameRoutingRaw struct {
	TenantFromCnameRegex string `yaml:"tenant_from_cname_regex"`
}

// TenantRaw mirrors one entry of the `tenants` map.
type TenantRaw struct {
	Upstreams []string `yaml:"upstreams"`
}

// UpstreamFileRaw mirrors the whole upstream config file.
type UpstreamFileRaw struct {
	Version      int                  `yaml:"version"`
	Resolver     ResolverRaw          `yaml:"resolver"`
	CnameRouting CnameRoutingRaw      `yaml:"cname_routing"`
	Tenants      map[string]TenantRaw `yaml:"tenants"`
	Default      TenantRaw            `yaml:"default"`
}

// CompileUpstreamConfig turns a parsed upstream file into a Router Config.
// log is attached to the Config so the router's own resolve-failure
// warnings share the caller's logger. zoneFallback, if non-nil, backstops
// the static table's misses with the zone store; it is ignored in dns
// mode, which already has its own escalation path via chain-following.
func CompileUpstreamConfig(raw UpstreamFileRaw, log *logrus.Logger, zoneFallback Resolver) (Config, error) {
	cfg := Config{
		Log:             log,
		Tenants:         make(map[string]Tenant, len(raw.Tenants)),
		DefaultUpstream: raw.Default.Upstreams,
	}

	if raw.CnameRouting.TenantFromCnameRegex != "" {
		re, err := regexp.Compile(raw.CnameRouting.TenantFromCnameRegex)
		if err != nil {
			return Config{}, fmt.Errorf("cname_routing.tenant_from_cname_regex: %w", err)
		}
		cfg.TenantRegex = re
	}

	for id, t := range raw.Tenants {
		cfg.Tenants[id] = Tenant{Upstreams: t.Upstreams}
	}

	switch raw.Resolver.Mode {
	case "static", "":
		var resolver Resolver = StaticResolver{Table: lowercaseKeys(raw.Resolver.HostToCname)}
		if zoneFallback != nil {
			resolver = ChainedResolver{Primary: resolver, Fallback: zoneFallback}
		}
		cfg.Resolver = resolver
		cfg.ChainLimit = 1

	case "dns":
		timeout := time.Duration(raw.Resolver.TimeoutMs) * time.Millisecond
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		cfg.CacheTTL = time.Duration(raw.Resolver.CacheTTLSecs) * time.Second
		cfg.ChainLimit = raw.Resolver.CnameChainLimit
		if cfg.ChainLimit <= 0 {
			cfg.ChainLimit = 1
		}
		servers := raw.Resolver.Servers
		if len(servers) == 0 {
			servers = systemResolvServers()
		}
		cfg.Resolver = DNSResolver{
			Client:  &dns.Client{Timeout: timeout},
			Servers: servers,
			Timeout: timeout,
		}

	default:
		return Config{}, fmt.Errorf("resolver.mode %q: want static|dns", raw.Resolver.Mode)
	}

	return cfg, nil
}

func lowercaseKeys(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}

// systemResolvServers reads /etc/resolv.conf for nameserver lines, the
// simplest way to get a default server list for DNS mode without pulling
// in a platform-specific resolver config library.
func systemResolvServers() []string {
	data, err := os.ReadFile("/etc/resolv.conf")
	if err != nil {
		return nil
	}
	var servers []string
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[0] == "nameserver" {
			servers = append(servers, fields[1]+":53")
		}
	}
	return servers
}

// LoadUpstreamConfigFile reads and compiles the upstream config file at
// path.
func LoadUpstreamConfigFile(path string, log *logrus.Logger, zoneFallback Resolver) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading upstream config: %w", err)
	}
	var raw UpstreamFileRaw
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("parsing upstream config: %w", err)
	}
	return CompileUpstreamConfig(raw, log, zoneFallback)
}
