// Package router implements the tenant upstream router: CNAME resolution
// (a static table or live DNS with bounded chain-following and TTL
// caching), regex tenant extraction, and round-robin upstream selection,
// generalizing a single resolved-origin lookup into a CNAME -> tenant id ->
// upstream-list model with round-robin selection across a shared pool
// keyed by a CNAME-embedded tenant id.
package router

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"

	"minishield.tech/waf-core/internal/normalize"
)

const numCnameShards = 32

// Resolver resolves one hop of a CNAME chain: ok is false when the record
// is absent, which the router treats as "no CNAME".
type Resolver interface {
	LookupCNAME(ctx context.Context, host string) (target string, ok bool, err error)
}

// ChainedResolver consults Primary first and only falls through to
// Fallback on a clean "no record" miss, not on an error -- letting the
// static host_to_cname table in the upstream config file take priority
// over a zone-store-backed fallback layered under it.
type ChainedResolver struct {
	Primary  Resolver
	Fallback Resolver
}

func (r ChainedResolver) LookupCNAME(ctx context.Context, host string) (string, bool, error) {
	target, ok, err := r.Primary.LookupCNAME(ctx, host)
	if err != nil || ok {
		return target, ok, err
	}
	if r.Fallback == nil {
		return "", false, nil
	}
	return r.Fallback.LookupCNAME(ctx, host)
}

// StaticResolver backs "resolver.mode: static": a single host -> cname
// lookup table, no chain following.
type StaticResolver struct {
	Table map[string]string
}

func (r StaticResolver) LookupCNAME(_ context.Context, host string) (string, bool, error) {
	target, ok := r.Table[strings.ToLower(host)]
	return target, ok, nil
}

// DNSResolver backs "resolver.mode: dns": a live CNAME lookup against the
// system resolver via miekg/dns, honoring a per-query timeout.
type DNSResolver struct {
	Client  *dns.Client
	Servers []string
	Timeout time.Duration
}

// LookupCNAME issues a single CNAME query and returns the first answer's
// target. "no records" is not an error, it is ok=false.
func (r DNSResolver) LookupCNAME(ctx context.Context, host string) (string, bool, error) {
	if len(r.Servers) == 0 {
		return "", false, fmt.Errorf("dns resolver: no upstream servers configured")
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeCNAME)

	client := r.Client
	if client == nil {
		client = &dns.Client{Timeout: r.Timeout}
	}

	var lastErr error
	for _, server := range r.Servers {
		resp, _, err := client.ExchangeContext(ctx, m, server)
		if err != nil {
			lastErr = err
			continue
		}
		for _, rr := range resp.Answer {
			if cname, ok := rr.(*dns.CNAME); ok {
				return strings.TrimSuffix(cname.Target, "."), true, nil
			}
		}
		return "", false, nil // answered, no CNAME record: treat as "no CNAME"
	}
	return "", false, fmt.Errorf("dns resolver: all servers failed: %w", lastErr)
}

type cnameCacheEntry struct {
	target    string
	hasTarget bool
	expiresAt time.Time
}

type cnameShard struct {
	mu      sync.Mutex
	entries map[string]cnameCacheEntry
}

// Tenant is one entry of the tenants map.
type Tenant struct {
	Upstreams []string
}

// Config is the compiled upstream routing configuration.
type Config struct {
	Resolver        Resolver
	CacheTTL        time.Duration // 0 disables caching
	ChainLimit      int           // max CNAME hops followed; static mode compiles to 1
	TenantRegex     *regexp.Regexp
	Tenants         map[string]Tenant
	DefaultUpstream []string
	Log             *logrus.Logger
}

// Router holds compiled Config plus the mutable round-robin counters and
// CNAME cache it owns between reloads.
type Router struct {
	cfg      Config
	counters sync.Map // edge key (string) -> *uint64
	shards   [numCnameShards]*cnameShard
}

// New compiles cfg into a ready Router, asserting the default upstream list
// is non-empty -- treated as a logged warning, not a hard failure, so a
// misconfigured proxy still serves domains with their own tenant pool.
func New(cfg Config) *Router {
	if len(cfg.DefaultUpstream) == 0 && cfg.Log != nil {
		cfg.Log.Warn("upstream router: default upstream list is empty")
	}
	r := &Router{cfg: cfg}
	for i := range r.shards {
		r.shards[i] = &cnameShard{entries: make(map[string]cnameCacheEntry)}
	}
	return r
}

// Peer is the resolved dial target for an upstream.
type Peer struct {
	Addr string // host:port
	TLS  bool
	SNI  string // empty when the host is an IP literal
}

// PickEndpointAndEdgeKey resolves host to a tenant's (or the default's)
// edge key and a round-robin-selected upstream URL.
func (r *Router) PickEndpointAndEdgeKey(ctx context.Context, host string) (edgeKey string, upstream string) {
	h := stripPort(normalize.Host(host))

	cname, hasCname := r.resolveCNAME(ctx, h)

	tenantID := ""
	if hasCname && r.cfg.TenantRegex != nil {
		if m := r.cfg.TenantRegex.FindStringSubmatch(cname); len(m) > 1 {
			tenantID = m[1]
		}
	}

	var list []string
	if tenantID != "" {
		if t, ok := r.cfg.Tenants[tenantID]; ok {
			edgeKey, list = tenantID, t.Upstreams
		}
	}
	if list == nil {
		edgeKey, list = "default", r.cfg.DefaultUpstream
	}

	if len(list) == 0 {
		return edgeKey, ""
	}

	counter := r.counterFor(edgeKey)
	idx := atomic.AddUint64(counter, 1) - 1
	return edgeKey, list[idx%uint64(len(list))]
}

func (r *Router) counterFor(edgeKey string) *uint64 {
	if v, ok := r.counters.Load(edgeKey); ok {
		return v.(*uint64)
	}
	v, _ := r.counters.LoadOrStore(edgeKey, new(uint64))
	return v.(*uint64)
}

// resolveCNAME performs a cache lookup, else static lookup or DNS
// chain-following, caching the outcome (including a "no CNAME" outcome)
// for cache_ttl.
func (r *Router) resolveCNAME(ctx context.Context, host string) (string, bool) {
	if r.cfg.CacheTTL > 0 {
		if entry, ok := r.cacheGet(host); ok {
			return entry.target, entry.hasTarget
		}
	}

	target, ok, err := r.followChain(ctx, host)
	if err != nil {
		if r.cfg.Log != nil {
			r.cfg.Log.WithError(err).WithField("host", host).Warn("cname resolution failed, falling back to default upstreams")
		}
		return "", false
	}

	if r.cfg.CacheTTL > 0 {
		r.cacheSet(host, cnameCacheEntry{target: target, hasTarget: ok, expiresAt: time.Now().Add(r.cfg.CacheTTL)})
	}
	return target, ok
}

// followChain follows CNAME records up to chain_limit hops (DNS mode) or
// performs the single static lookup (static mode), short-circuiting on a
// self-referential loop to guard against CNAME chain cycles.
func (r *Router) followChain(ctx context.Context, host string) (string, bool, error) {
	if r.cfg.Resolver == nil {
		return "", false, nil
	}

	limit := r.cfg.ChainLimit
	if limit <= 0 {
		limit = 1
	}

	current := host
	var last string
	found := false
	for i := 0; i < limit; i++ {
		next, ok, err := r.cfg.Resolver.LookupCNAME(ctx, current)
		if err != nil {
			return "", false, err
		}
		if !ok {
			break
		}
		if strings.EqualFold(next, current) {
			break // self-reference loop
		}
		last, found = next, true
		current = next
	}
	return last, found, nil
}

func (r *Router) shardFor(key string) *cnameShard {
	var h uint32 = 2166136261
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	return r.shards[h%numCnameShards]
}

func (r *Router) cacheGet(host string) (cnameCacheEntry, bool) {
	s := r.shardFor(host)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[host]
	if !ok || time.Now().After(e.expiresAt) {
		return cnameCacheEntry{}, false
	}
	return e, true
}

func (r *Router) cacheSet(host string, e cnameCacheEntry) {
	s := r.shardFor(host)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[host] = e
}

// stripPort removes a trailing ":<digits>" from a non-bracketed host.
func stripPort(host string) string {
	if strings.HasPrefix(host, "[") {
		return host
	}
	idx := strings.LastIndexByte(host, ':')
	if idx < 0 {
		return host
	}
	if _, err := strconv.Atoi(host[idx+1:]); err != nil {
		return host
	}
	return host[:idx]
}

// BuildPeer parses upstreamURL into a dial target: scheme chooses TLS,
// missing ports get the scheme's default, and SNI is the authority host
// unless it is an IP literal.
func BuildPeer(upstreamURL string) (Peer, error) {
	if u, err := url.Parse(upstreamURL); err == nil && u.Scheme != "" && u.Host != "" {
		tlsEnabled := u.Scheme == "https"
		host, port, splitErr := net.SplitHostPort(u.Host)
		if splitErr != nil {
			host = u.Host
			if tlsEnabled {
				port = "443"
			} else {
				port = "80"
			}
		}
		sni := host
		if net.ParseIP(host) != nil {
			sni = ""
		}
		return Peer{Addr: net.JoinHostPort(host, port), TLS: tlsEnabled, SNI: sni}, nil
	}

	// Bare host:port form.
	host, port, err := net.SplitHostPort(upstreamURL)
	if err != nil {
		return Peer{}, fmt.Errorf("build_peer: %q is neither a scheme:// url nor host:port: %w", upstreamURL, err)
	}
	return Peer{Addr: net.JoinHostPort(host, port), TLS: false, SNI: ""}, nil
}
