package adminapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

type fakeStatus struct{}

func (fakeStatus) PolicyCount() int        { return 3 }
func (fakeStatus) WAFRuleCount() int       { return 7 }
func (fakeStatus) CertFingerprint() uint64 { return 42 }

type fakeReloader struct {
	called string
	err    error
}

func (r *fakeReloader) ReloadNow(name string) error {
	r.called = name
	return r.err
}

func newTestHandler(t *testing.T, reloader *fakeReloader) *Handler {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	return NewHandler(&Handler{
		JWTSecret:    []byte("test-secret"),
		PasswordHash: hash,
		Status:       fakeStatus{},
		Reload:       reloader,
	})
}

func login(t *testing.T, h *Handler, password string) *http.Cookie {
	t.Helper()
	body, _ := json.Marshal(loginRequest{Password: password})
	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, want 200", rec.Code)
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == "admin_token" {
			return c
		}
	}
	t.Fatal("no admin_token cookie set")
	return nil
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	h := newTestHandler(t, &fakeReloader{})
	body, _ := json.Marshal(loginRequest{Password: "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestStatusRequiresAuth(t *testing.T) {
	h := newTestHandler(t, &fakeReloader{})
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestStatusReturnsProviderValuesAfterLogin(t *testing.T) {
	h := newTestHandler(t, &fakeReloader{})
	cookie := login(t, h, "s3cret")

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.PolicyCount != 3 || resp.WAFRuleCount != 7 || resp.CertFingerprint != 42 {
		t.Fatalf("got %+v", resp)
	}
}

func TestReloadDispatchesToNamedSupervisor(t *testing.T) {
	reloader := &fakeReloader{}
	h := newTestHandler(t, reloader)
	cookie := login(t, h, "s3cret")

	body, _ := json.Marshal(reloadRequest{Supervisor: "rules"})
	req := httptest.NewRequest(http.MethodPost, "/reload", bytes.NewReader(body))
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if reloader.called != "rules" {
		t.Fatalf("reloader called with %q, want rules", reloader.called)
	}
}

func TestReloadWithoutCookieIsUnauthorized(t *testing.T) {
	h := newTestHandler(t, &fakeReloader{})
	body, _ := json.Marshal(reloadRequest{Supervisor: "rules"})
	req := httptest.NewRequest(http.MethodPost, "/reload", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
