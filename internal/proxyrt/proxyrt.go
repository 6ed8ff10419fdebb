// Package proxyrt is the glue runtime: it wires policy/enforcer/router/waf,
// the audit sink, and the metrics registry into a single net/http dataplane
// handler and a GetCertificate callback for the TLS listener, resolving
// each request against the policy-resolved, WAF-scanned, tenant-routed
// pipeline instead of a single static origin.
package proxyrt

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/acme/autocert"

	"minishield.tech/waf-core/internal/action"
	"minishield.tech/waf-core/internal/audit"
	"minishield.tech/waf-core/internal/certstore"
	"minishield.tech/waf-core/internal/enforcer"
	"minishield.tech/waf-core/internal/metrics"
	"minishield.tech/waf-core/internal/normalize"
	"minishield.tech/waf-core/internal/policy"
	"minishield.tech/waf-core/internal/protection"
	"minishield.tech/waf-core/internal/reqctx"
	"minishield.tech/waf-core/internal/router"
	"minishield.tech/waf-core/internal/scanner"
	"minishield.tech/waf-core/internal/waf"
)

type ctxKey int

const (
	ctxKeyWAFRuleset ctxKey = iota
	ctxKeyRespBodyIdx
	ctxKeyPeerSNI
)

// Runtime holds every snapshot the dataplane consults per request plus
// the collaborators (audit, metrics, logging) every phase reports through.
type Runtime struct {
	Policies     *policy.Manager
	Audit        *audit.Sink
	Metrics      *metrics.Registry
	Log          *logrus.Logger
	ZoneFallback router.Resolver // optional: backstops the static host_to_cname table

	router   atomic.Pointer[router.Router]
	wafRules atomic.Pointer[[]waf.Rule]
	certs    atomic.Pointer[certstore.Snapshot]

	proxy *httputil.ReverseProxy
}

// ReloadUpstreamConfig reads, compiles, and atomically publishes the
// upstream config file as a fresh Router. Round-robin counters and the
// CNAME cache reset on a config change, same as a fresh process would see
// -- only the CC limiter is required to preserve identity across reloads.
func (rt *Runtime) ReloadUpstreamConfig(path string) error {
	cfg, err := router.LoadUpstreamConfigFile(path, rt.Log, rt.ZoneFallback)
	if err != nil {
		return err
	}
	rt.router.Store(router.New(cfg))
	return nil
}

// CurrentRouter returns the published upstream router, or nil before the
// first successful load.
func (rt *Runtime) CurrentRouter() *router.Router {
	return rt.router.Load()
}

// New builds a Runtime with its reverse proxy wired (director, transport,
// error handler, response body scan), ready to serve as an http.Handler.
func New(rt *Runtime) *Runtime {
	transport := &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := (&net.Dialer{Timeout: 10 * time.Second}).DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			sni, _ := ctx.Value(ctxKeyPeerSNI).(string)
			tlsConn := tls.Client(conn, &tls.Config{ServerName: sni, InsecureSkipVerify: true})
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				conn.Close()
				return nil, err
			}
			return tlsConn, nil
		},
	}

	rt.proxy = &httputil.ReverseProxy{
		Director:       rt.director,
		Transport:      transport,
		ModifyResponse: rt.scanResponseBody,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if rt.Log != nil {
				rt.Log.WithError(err).WithField("host", r.Host).Warn("upstream proxy error")
			}
			if r.Context().Err() != nil {
				return
			}
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("502 bad gateway\n"))
		},
	}
	return rt
}

// director resolves the tenant upstream and TLS peer for one request: an
// origin record lookup, dynamic scheme selection, and request rewrite
// driven by the CNAME/tenant router's round-robin pick.
func (rt *Runtime) director(req *http.Request) {
	host := normalize.Host(req.Host)
	rtr := rt.CurrentRouter()
	if rtr == nil {
		req.URL.Scheme, req.URL.Host = "http", "127.0.0.1:1"
		return
	}
	edgeKey, upstream := rtr.PickEndpointAndEdgeKey(req.Context(), host)

	if upstream == "" {
		if rt.Log != nil {
			rt.Log.WithField("host", host).Warn("no upstream resolved, routing to a closed port to force a proxy error")
		}
		req.URL.Scheme, req.URL.Host = "http", "127.0.0.1:1"
		return
	}

	peer, err := router.BuildPeer(upstream)
	if err != nil {
		if rt.Log != nil {
			rt.Log.WithError(err).WithField("upstream", upstream).Warn("build_peer failed")
		}
		req.URL.Scheme, req.URL.Host = "http", "127.0.0.1:1"
		return
	}

	scheme := "http"
	if peer.TLS {
		scheme = "https"
	}
	req.URL.Scheme = scheme
	req.URL.Host = peer.Addr
	req.Header.Set("X-Forwarded-Host", host)
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Real-IP", clientIP(req.RemoteAddr))
	req.Header.Set("X-Edge-Key", edgeKey)

	*req = *req.WithContext(context.WithValue(req.Context(), ctxKeyPeerSNI, peer.SNI))
}

// scanResponseBody runs the response-side deferred body rules against the
// upstream's response before it reaches the client, buffering the
// (typically small) response so a mid-body match can still rewrite the
// status code and body.
func (rt *Runtime) scanResponseBody(resp *http.Response) error {
	respIdx, _ := resp.Request.Context().Value(ctxKeyRespBodyIdx).([]int)
	ruleset, _ := resp.Request.Context().Value(ctxKeyWAFRuleset).([]waf.Rule)
	if len(respIdx) == 0 || resp.Body == nil {
		return nil
	}

	var buf bytes.Buffer
	st := &scanner.State{}
	chunk := make([]byte, 8192)
	var blockedRes scanner.Result
	blocked := false

	for {
		n, err := resp.Body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if !blocked {
				if r := st.Feed(ruleset, respIdx, chunk[:n]); r.Blocked {
					blocked, blockedRes = true, r
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			resp.Body.Close()
			return err
		}
	}
	resp.Body.Close()

	if blocked {
		status := blockedRes.Status
		if status == 0 {
			status = http.StatusForbidden
		}
		body := []byte(blockedRes.Reason)
		resp.StatusCode = status
		resp.Body = io.NopCloser(bytes.NewReader(body))
		resp.ContentLength = int64(len(body))
		resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
		return nil
	}

	resp.Body = io.NopCloser(bytes.NewReader(buf.Bytes()))
	resp.ContentLength = int64(buf.Len())
	resp.Header.Set("Content-Length", strconv.Itoa(buf.Len()))
	return nil
}

// ServeHTTP is the dataplane entrypoint: build the request context, run the
// enforcer, scan the request body for any deferred rules, and either
// answer the decision directly or hand off to the reverse proxy.
func (rt *Runtime) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	host := normalize.Host(r.Host)
	if rt.Metrics != nil {
		rt.Metrics.OnReqStart(host)
	}

	state := rt.Policies.Current()
	if state == nil {
		http.Error(w, "service starting", http.StatusServiceUnavailable)
		return
	}

	ctx := &reqctx.Context{
		Method:    normalize.Method(r.Method),
		Path:      normalize.Path(r.URL.Path),
		Host:      host,
		ClientIP:  clientIP(r.RemoteAddr),
		UserAgent: r.Header.Get("User-Agent"),
	}
	headers := reqctx.MapHeaders(r.Header)

	p := state.GetPolicyForHost(ctx.Host)
	ccRuleIDs := ccRuleIDSet(p)
	onLog := func(v protection.Verdict) {
		if ccRuleIDs[v.RuleID] && rt.Metrics != nil {
			rt.Metrics.IncCcHit(v.RuleID)
		}
		rt.writeSecurityEvent(ctx, p.ID, v.RuleID, v.Kind, v.Status, v.Reason)
	}

	wafRuleset := rt.CurrentWAFRules()
	result := enforcer.Enforce(state, wafRuleset, ctx, headers, onLog)

	if result.Decision.Kind == action.KindBlock || result.Decision.Kind == action.KindChallenge {
		if ccRuleIDs[result.Decision.RuleID] && rt.Metrics != nil {
			rt.Metrics.IncCcHit(result.Decision.RuleID)
		}
		rt.writeSecurityEvent(ctx, result.PolicyID, result.Decision.RuleID, result.Decision.Kind, result.Decision.Status, result.Decision.Reason)
		writeDecision(w, result.Decision.Status, result.Decision.Reason)
		rt.finish(ctx, result.PolicyID, kindString(result.Decision.Kind), start, "")
		return
	}

	if len(result.RequestBodyRules) > 0 {
		blockedRes, blocked := scanRequestBody(r, result.WAFRuleset, result.RequestBodyRules)
		if blocked {
			rt.writeSecurityEvent(ctx, result.PolicyID, blockedRes.RuleID, action.KindBlock, blockedRes.Status, blockedRes.Reason)
			writeDecision(w, blockedRes.Status, blockedRes.Reason)
			rt.finish(ctx, result.PolicyID, "block", start, "")
			return
		}
	}

	*r = *r.WithContext(context.WithValue(
		context.WithValue(r.Context(), ctxKeyWAFRuleset, result.WAFRuleset),
		ctxKeyRespBodyIdx, result.ResponseBodyRules,
	))
	rt.proxy.ServeHTTP(w, r)
	rt.finish(ctx, result.PolicyID, "allow", start, r.URL.Host)
}

// scanRequestBody streams the request body chunk-by-chunk through the
// scanner and re-attaches a buffered copy, which the reverse proxy then
// forwards upstream once cleared.
func scanRequestBody(r *http.Request, ruleset []waf.Rule, deferredIdx []int) (scanner.Result, bool) {
	if r.Body == nil {
		return scanner.Result{}, false
	}
	var buf bytes.Buffer
	st := &scanner.State{}
	chunk := make([]byte, 8192)

	for {
		n, err := r.Body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if res := st.Feed(ruleset, deferredIdx, chunk[:n]); res.Blocked {
				r.Body.Close()
				return res, true
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
	}
	r.Body = io.NopCloser(bytes.NewReader(buf.Bytes()))
	r.ContentLength = int64(buf.Len())
	return scanner.Result{}, false
}

func (rt *Runtime) writeSecurityEvent(ctx *reqctx.Context, policyID, ruleID string, kind action.Kind, status int, reason string) {
	if rt.Audit == nil {
		return
	}
	rt.Audit.WriteEvent(audit.SecurityEvent{
		Host:     ctx.Host,
		ClientIP: ctx.ClientIP,
		Method:   ctx.Method,
		Path:     ctx.Path,
		PolicyID: policyID,
		RuleID:   ruleID,
		Action:   kindString(kind),
		Status:   status,
		Reason:   reason,
	})
}

func (rt *Runtime) finish(ctx *reqctx.Context, policyID, verdict string, start time.Time, upstream string) {
	elapsed := time.Since(start)
	if rt.Metrics != nil {
		rt.Metrics.OnReqEnd(ctx.Host, elapsed.Seconds())
	}
	if rt.Audit != nil {
		rt.Audit.WriteAccess(audit.AccessLog{
			Host:         ctx.Host,
			ClientIP:     ctx.ClientIP,
			Method:       ctx.Method,
			Path:         ctx.Path,
			PolicyID:     policyID,
			Verdict:      verdict,
			Duration:     elapsed,
			UpstreamAddr: upstream,
		})
	}
}

func writeDecision(w http.ResponseWriter, status int, reason string) {
	if status == 0 {
		status = http.StatusForbidden
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if reason != "" {
		fmt.Fprintln(w, reason)
	}
}

func kindString(k action.Kind) string {
	switch k {
	case action.KindAllow:
		return "allow"
	case action.KindLog:
		return "log"
	case action.KindBlock:
		return "block"
	case action.KindChallenge:
		return "challenge"
	case action.KindCc:
		return "cc"
	}
	return "unknown"
}

func ccRuleIDSet(p *policy.Policy) map[string]bool {
	out := make(map[string]bool)
	for _, list := range [][]protection.Rule{p.Precise, p.Base} {
		for _, r := range list {
			if r.Action.Kind == action.KindCc {
				out[r.ID] = true
			}
		}
	}
	return out
}

func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// --- WAF ruleset and cert store snapshots -------------------------------

// ReloadWAFRules reads, compiles, and atomically publishes the WAF rules
// file.
func (rt *Runtime) ReloadWAFRules(path string) error {
	raws, err := waf.LoadRulesFile(path)
	if err != nil {
		return err
	}
	compiled, err := waf.Compile(raws)
	if err != nil {
		return fmt.Errorf("compiling waf rules: %w", err)
	}
	rt.wafRules.Store(&compiled)
	return nil
}

// CurrentWAFRules returns the published WAF ruleset, or nil before the
// first successful load.
func (rt *Runtime) CurrentWAFRules() []waf.Rule {
	if p := rt.wafRules.Load(); p != nil {
		return *p
	}
	return nil
}

// ReloadCerts rebuilds and publishes the SNI certificate store snapshot.
func (rt *Runtime) ReloadCerts(dir string, am *autocert.Manager) error {
	snap, err := certstore.Build(dir, am)
	if err != nil {
		return fmt.Errorf("building cert store: %w", err)
	}
	rt.certs.Store(snap)
	return nil
}

// GetCertificate implements tls.Config.GetCertificate against the
// currently published cert store snapshot.
func (rt *Runtime) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	snap := rt.certs.Load()
	if snap == nil {
		return nil, fmt.Errorf("certstore: no snapshot loaded yet")
	}
	return snap.GetCertificate(hello)
}

// --- adminapi.StatusProvider ---------------------------------------------

func (rt *Runtime) PolicyCount() int {
	if s := rt.Policies.Current(); s != nil {
		return len(s.Policies)
	}
	return 0
}

func (rt *Runtime) WAFRuleCount() int {
	return len(rt.CurrentWAFRules())
}

func (rt *Runtime) CertFingerprint() uint64 {
	if snap := rt.certs.Load(); snap != nil {
		return snap.Fingerprint()
	}
	return 0
}
