// Package adminapi implements the control-plane HTTP API: an admin-only
// surface to check reload status and trigger an out-of-band reload,
// protected by JWT-cookie auth against a single bcrypt-hashed credential.
//
// There is a single operator credential rather than per-tenant accounts,
// since policies are files on disk, not rows owned by a signed-up user.
package adminapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// StatusProvider reports the dataplane's current snapshot state for the
// /status endpoint.
type StatusProvider interface {
	PolicyCount() int
	WAFRuleCount() int
	CertFingerprint() uint64
}

// Reloader triggers an immediate out-of-band reload of one named
// supervisor (rules, upstream, domains, policies, or certs).
type Reloader interface {
	ReloadNow(name string) error
}

// Handler serves the admin control plane.
type Handler struct {
	JWTSecret      []byte
	PasswordHash   []byte // bcrypt hash of the single operator credential
	AllowedOrigins []string
	Status         StatusProvider
	Reload         Reloader
	Log            *logrus.Logger

	mux *http.ServeMux
}

// NewHandler wires routes; call ServeHTTP directly or mount Handler on a
// *http.Server.
func NewHandler(h *Handler) *Handler {
	h.mux = http.NewServeMux()
	h.mux.HandleFunc("/login", h.handleLogin)
	h.mux.HandleFunc("/status", h.requireAuth(h.handleStatus))
	h.mux.HandleFunc("/reload", h.requireAuth(h.handleReload))
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.cors(h.mux).ServeHTTP(w, r)
}

// cors applies the configured origin allow-list.
func (h *Handler) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		for _, allowed := range h.AllowedOrigins {
			if strings.EqualFold(allowed, origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				break
			}
		}
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type loginRequest struct {
	Password string `json:"password"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if bcrypt.CompareHashAndPassword(h.PasswordHash, []byte(req.Password)) != nil {
		unauthorized(w, "invalid credentials")
		return
	}

	claims := jwt.MapClaims{
		"role": "admin",
		"exp":  time.Now().Add(12 * time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(h.JWTSecret)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "admin_token",
		Value:    signed,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Now().Add(12 * time.Hour),
	})
	w.WriteHeader(http.StatusOK)
}

// requireAuth runs the cookie -> jwt.Parse -> claims-check pipeline before
// handing off to next.
func (h *Handler) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("admin_token")
		if err != nil {
			unauthorized(w, "no session cookie")
			return
		}

		token, err := jwt.Parse(cookie.Value, func(t *jwt.Token) (interface{}, error) {
			return h.JWTSecret, nil
		})
		if err != nil || !token.Valid {
			unauthorized(w, "invalid token")
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok || claims["role"] != "admin" {
			unauthorized(w, "invalid claims")
			return
		}

		next(w, r)
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"status": "error", "message": message})
}

type statusResponse struct {
	PolicyCount     int    `json:"policy_count"`
	WAFRuleCount    int    `json:"waf_rule_count"`
	CertFingerprint uint64 `json:"cert_fingerprint"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{}
	if h.Status != nil {
		resp.PolicyCount = h.Status.PolicyCount()
		resp.WAFRuleCount = h.Status.WAFRuleCount()
		resp.CertFingerprint = h.Status.CertFingerprint()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

type reloadRequest struct {
	Supervisor string `json:"supervisor"`
}

func (h *Handler) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req reloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Supervisor == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if h.Reload == nil {
		http.Error(w, "reload not wired", http.StatusServiceUnavailable)
		return
	}
	if err := h.Reload.ReloadNow(req.Supervisor); err != nil {
		if h.Log != nil {
			h.Log.WithError(err).WithField("supervisor", req.Supervisor).Warn("admin-triggered reload failed")
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}
