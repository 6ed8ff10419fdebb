// Command server is the WAF dataplane process entrypoint: it loads
// configuration, builds every component's initial snapshot, starts the
// background reload supervisors, and serves HTTP/HTTPS traffic plus a
// separate admin control-plane listener.
//
// Startup follows the same numbered-step shape throughout the package:
// configuration, database connections, component snapshots, reverse proxy
// wiring, routes, HTTPS config, then starting the listeners, carrying one
// static origin and a Mongo-backed domain registry forward into a
// policy/router/certstore snapshot substrate instead.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/acme/autocert"
	"golang.org/x/crypto/bcrypt"

	"minishield.tech/waf-core/internal/adminapi"
	"minishield.tech/waf-core/internal/audit"
	"minishield.tech/waf-core/internal/certstore"
	"minishield.tech/waf-core/internal/config"
	"minishield.tech/waf-core/internal/database"
	"minishield.tech/waf-core/internal/logging"
	"minishield.tech/waf-core/internal/metrics"
	"minishield.tech/waf-core/internal/policy"
	"minishield.tech/waf-core/internal/proxyrt"
	"minishield.tech/waf-core/internal/reload"
	"minishield.tech/waf-core/internal/zonestore"
)

// supervisor is the common shape of the three reload.*Supervisor types,
// enough for main to start them uniformly.
type supervisor interface {
	Run(ctx context.Context)
}

func main() {
	cfg := config.Load()
	log := logging.New(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("connecting to audit database")
	mongoClient, err := database.Connect(cfg.MongoURI)
	if err != nil {
		log.WithError(err).Fatal("audit database connection failed")
	}
	defer mongoClient.Disconnect(context.Background())
	auditSink := audit.NewSink(mongoClient, "waf", log)

	zoneStore, err := zonestore.Connect(cfg.DNSUser, cfg.DNSPass, cfg.DNSHost, cfg.DNSName)
	if err != nil {
		log.WithError(err).Warn("zone store connection failed, static routing relies on the upstream config file alone")
		zoneStore = nil
	} else {
		defer zoneStore.Close()
	}

	promReg := prometheus.NewRegistry()
	metricsRegistry := metrics.NewRegistry(promReg)

	policyMgr := policy.NewManager()
	if err := policyMgr.Reload(cfg.DomainMapFile, cfg.PolicyDir); err != nil {
		log.WithError(err).Fatal("initial policy load failed")
	}

	rt := proxyrt.New(&proxyrt.Runtime{
		Policies: policyMgr,
		Audit:    auditSink,
		Metrics:  metricsRegistry,
		Log:      log,
	})
	if zoneStore != nil {
		rt.ZoneFallback = zoneStore
	}

	if err := rt.ReloadWAFRules(cfg.WAFRulesFile); err != nil {
		log.WithError(err).Fatal("initial waf rules load failed")
	}
	if err := rt.ReloadUpstreamConfig(cfg.UpstreamConfigFile); err != nil {
		log.WithError(err).Fatal("initial upstream config load failed")
	}

	autocertMgr := &autocert.Manager{
		Prompt: autocert.AcceptTOS,
		// The cert store's directory layout (exact/wildcard dirs under
		// CertsDir) is the primary source; autocert only backstops the
		// default slot, so any SNI is acceptable here.
		HostPolicy: func(context.Context, string) error { return nil },
		Cache:      autocert.DirCache(cfg.CertsDir + "/autocert"),
	}
	if err := rt.ReloadCerts(cfg.CertsDir, autocertMgr); err != nil {
		log.WithError(err).Fatal("initial cert store build failed")
	}

	reloadFns := map[string]func() error{
		"rules":    func() error { return rt.ReloadWAFRules(cfg.WAFRulesFile) },
		"upstream": func() error { return rt.ReloadUpstreamConfig(cfg.UpstreamConfigFile) },
		"domains":  func() error { return policyMgr.Reload(cfg.DomainMapFile, cfg.PolicyDir) },
		"policies": func() error { return policyMgr.Reload(cfg.DomainMapFile, cfg.PolicyDir) },
		"certs":    func() error { return rt.ReloadCerts(cfg.CertsDir, autocertMgr) },
	}

	supervisors := map[string]supervisor{
		"rules": &reload.FileSupervisor{
			Name: "rules", Path: cfg.WAFRulesFile, Interval: cfg.RulesReloadInterval,
			Reload: reloadFns["rules"], Log: log,
		},
		"upstream": &reload.FileSupervisor{
			Name: "upstream", Path: cfg.UpstreamConfigFile, Interval: cfg.UpstreamReloadInterval,
			Reload: reloadFns["upstream"], Log: log,
		},
		"domains": &reload.FileSupervisor{
			Name: "domains", Path: cfg.DomainMapFile, Interval: cfg.DomainMapReloadInterval,
			Reload: reloadFns["domains"], Log: log,
		},
		"policies": &reload.DirSignatureSupervisor{
			Name: "policies", Interval: cfg.PoliciesReloadInterval,
			Signature: func() (uint64, error) { return policy.DirSignature(cfg.PolicyDir) },
			Reload:    reloadFns["policies"], Log: log,
		},
		"certs": &reload.CertSupervisor{
			Name: "certs", Interval: cfg.CertReloadInterval,
			Fingerprint: func() (uint64, error) { return certstore.Fingerprint(cfg.CertsDir) },
			Reload:      reloadFns["certs"], Log: log,
		},
	}
	for name, sup := range supervisors {
		go sup.Run(ctx)
		log.WithField("supervisor", name).Info("reload supervisor started")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(adminPassword()), bcrypt.DefaultCost)
	if err != nil {
		log.WithError(err).Fatal("hashing admin password failed")
	}
	adminHandler := adminapi.NewHandler(&adminapi.Handler{
		JWTSecret:      []byte(cfg.JWTSecret),
		PasswordHash:   passwordHash,
		AllowedOrigins: cfg.AdminAllowedOrigins,
		Status:         rt,
		Reload:         namedReloader(reloadFns),
		Log:            log,
	})
	adminServer := &http.Server{Addr: cfg.AdminAddr, Handler: adminHandler}
	go func() {
		log.WithField("addr", cfg.AdminAddr).Info("starting admin control plane")
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("admin control plane stopped")
		}
	}()

	httpsServer := &http.Server{
		Addr:      cfg.HTTPSAddr,
		Handler:   rt,
		TLSConfig: &tls.Config{GetCertificate: rt.GetCertificate},
	}
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: autocertMgr.HTTPHandler(nil)}

	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("starting HTTP listener (ACME challenges + redirect)")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP listener stopped")
		}
	}()

	go func() {
		log.WithField("addr", cfg.HTTPSAddr).Info("starting HTTPS dataplane")
		if err := httpsServer.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("HTTPS dataplane stopped")
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received, draining listeners")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	httpsServer.Shutdown(shutdownCtx)
	httpServer.Shutdown(shutdownCtx)
	adminServer.Shutdown(shutdownCtx)
}

// namedReloader adapts a name->func() error table into adminapi.Reloader
// for the admin-triggered out-of-band reload endpoint (POST /reload with
// a "supervisor" of rules, policies, domains, upstream, or certs).
type namedReloader map[string]func() error

func (r namedReloader) ReloadNow(name string) error {
	fn, ok := r[name]
	if !ok {
		return fmt.Errorf("unknown supervisor %q", name)
	}
	return fn()
}

func adminPassword() string {
	if v := os.Getenv("ADMIN_PASSWORD"); v != "" {
		return v
	}
	return "change-me"
}
