package proxyrt

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"minishield.tech/waf-core/internal/action"
	"minishield.tech/waf-core/internal/policy"
	"minishield.tech/waf-core/internal/protection"
)

const blockAdminPolicyYAML = `
version: 1
id: P1
protections:
  precise:
    - id: block-admin
      match:
        path_prefix: /admin
      action:
        block:
          status: 403
          reason: admin path blocked
waf:
  enabled: false
`

const defaultPolicyYAML = `
version: 1
id: PD
protections:
  base:
    - id: allow-all
      match:
        any
      action:
        allow: {}
waf:
  enabled: false
`

const domainMapYAML = `
default: PD
hosts:
  blocked.example.com: P1
`

const emptyWAFRulesYAML = "version: \"1\"\nrules: []\n"

func newTestRuntime(t *testing.T, backendAddr string) *Runtime {
	t.Helper()
	dir := t.TempDir()

	policiesDir := filepath.Join(dir, "policies")
	if err := os.Mkdir(policiesDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(policiesDir, "p1.yaml"), []byte(blockAdminPolicyYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(policiesDir, "default.yaml"), []byte(defaultPolicyYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	domainMapPath := filepath.Join(dir, "domains.yaml")
	if err := os.WriteFile(domainMapPath, []byte(domainMapYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	wafPath := filepath.Join(dir, "waf.yaml")
	if err := os.WriteFile(wafPath, []byte(emptyWAFRulesYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	upstreamPath := filepath.Join(dir, "upstream.yaml")
	upstreamYAML := "version: 1\nresolver:\n  mode: static\n  host_to_cname: {}\ndefault:\n  upstreams: [\"http://" + backendAddr + "\"]\n"
	if err := os.WriteFile(upstreamPath, []byte(upstreamYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	mgr := policy.NewManager()
	if err := mgr.Reload(domainMapPath, policiesDir); err != nil {
		t.Fatal(err)
	}

	rt := New(&Runtime{Policies: mgr})
	if err := rt.ReloadWAFRules(wafPath); err != nil {
		t.Fatal(err)
	}
	if err := rt.ReloadUpstreamConfig(upstreamPath); err != nil {
		t.Fatal(err)
	}
	return rt
}

func TestServeHTTPBlocksPreciseRuleMatch(t *testing.T) {
	rt := newTestRuntime(t, "127.0.0.1:1")

	req := httptest.NewRequest(http.MethodGet, "http://blocked.example.com/admin/panel", nil)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestServeHTTPForwardsAllowedRequestToUpstream(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hello from upstream"))
	}))
	defer backend.Close()

	rt := newTestRuntime(t, backend.Listener.Addr().String())

	req := httptest.NewRequest(http.MethodGet, "http://anything.example.com/", nil)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "hello from upstream" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestServeHTTPReturns503BeforeAnyPolicyLoaded(t *testing.T) {
	rt := New(&Runtime{Policies: policy.NewManager()})
	req := httptest.NewRequest(http.MethodGet, "http://x.example.com/", nil)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestCcRuleIDSetCollectsOnlyCcKindRules(t *testing.T) {
	p := &policy.Policy{
		Precise: []protection.Rule{
			{ID: "a", Action: &action.Action{Kind: action.KindCc}},
			{ID: "b", Action: &action.Action{Kind: action.KindBlock}},
		},
		Base: []protection.Rule{
			{ID: "c", Action: &action.Action{Kind: action.KindCc}},
		},
	}
	set := ccRuleIDSet(p)
	if !set["a"] || !set["c"] || set["b"] {
		t.Fatalf("got %v", set)
	}
}

func TestKindStringCoversAllActionKinds(t *testing.T) {
	cases := map[action.Kind]string{
		action.KindAllow:     "allow",
		action.KindLog:       "log",
		action.KindBlock:     "block",
		action.KindChallenge: "challenge",
		action.KindCc:        "cc",
	}
	for kind, want := range cases {
		if got := kindString(kind); got != want {
			t.Fatalf("kindString(%v) = %q, want %q", kind, got, want)
		}
	}
}

func TestClientIPStripsPort(t *testing.T) {
	if got := clientIP("203.0.113.5:54321"); got != "203.0.113.5" {
		t.Fatalf("got %q", got)
	}
	if got := clientIP("no-port"); got != "no-port" {
		t.Fatalf("got %q", got)
	}
}
