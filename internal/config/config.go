// Package config loads process configuration from the environment, one
// environment variable with a fallback default per field.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the dataplane's environment-sourced configuration.
type Config struct {
	// App
	AppEnv        string
	HTTPAddr      string
	HTTPSAddr     string
	AdminAddr     string
	DefaultOrigin string

	AdminAllowedOrigins []string

	// External interface file paths
	PolicyDir          string
	DomainMapFile      string
	WAFRulesFile       string
	UpstreamConfigFile string
	CertsDir           string

	// Reload cadence
	RulesReloadInterval     time.Duration
	UpstreamReloadInterval  time.Duration
	DomainMapReloadInterval time.Duration
	PoliciesReloadInterval  time.Duration
	CertReloadInterval      time.Duration

	// Secrets
	JWTSecret string

	// Database - audit log (MongoDB)
	MongoURI string

	// Database - zone store (PowerDNS-style MySQL)
	DNSUser string
	DNSPass string
	DNSHost string
	DNSName string
}

// Load reads Config from the environment.
func Load() *Config {
	return &Config{
		AppEnv:        getEnv("APP_ENV", "development"),
		HTTPAddr:      getEnv("HTTP_ADDR", ":80"),
		HTTPSAddr:     getEnv("HTTPS_ADDR", ":443"),
		AdminAddr:     getEnv("ADMIN_ADDR", ":9443"),
		DefaultOrigin: getEnv("ORIGIN_URL", "http://origin:3000"),

		AdminAllowedOrigins: getEnvList("ADMIN_ALLOWED_ORIGINS", "https://console.minishield.tech"),

		PolicyDir:          getEnv("POLICY_DIR", "/etc/waf/policies"),
		DomainMapFile:      getEnv("DOMAIN_MAP_FILE", "/etc/waf/domains.yaml"),
		WAFRulesFile:       getEnv("WAF_RULES_FILE", "/etc/waf/waf-rules.yaml"),
		UpstreamConfigFile: getEnv("UPSTREAM_CONFIG_FILE", "/etc/waf/upstream.yaml"),
		CertsDir:           getEnv("CERTS_DIR", "/etc/waf/certs"),

		RulesReloadInterval:     getEnvDuration("RULES_RELOAD_INTERVAL", 5*time.Second),
		UpstreamReloadInterval:  getEnvDuration("UPSTREAM_RELOAD_INTERVAL", 5*time.Second),
		DomainMapReloadInterval: getEnvDuration("DOMAIN_MAP_RELOAD_INTERVAL", 5*time.Second),
		PoliciesReloadInterval:  getEnvDuration("POLICIES_RELOAD_INTERVAL", 5*time.Second),
		CertReloadInterval:      getEnvDuration("CERT_RELOAD_INTERVAL", 30*time.Second),

		JWTSecret: getEnv("JWT_SECRET", "super_secret_waf_key_change_me"),
		MongoURI:  getEnv("MONGO_URI", "mongodb://mongo:27017"),
		DNSUser:   getEnv("DNS_DB_USER", "pdns"),
		DNSPass:   getEnv("DNS_DB_PASS", "pdns_password"),
		DNSHost:   getEnv("DNS_DB_HOST", "dns_sql_db"),
		DNSName:   getEnv("DNS_DB_NAME", "powerdns"),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getEnvList(key, fallback string) []string {
	raw := getEnv(key, fallback)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	secs, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return time.Duration(secs) * time.Second
}
