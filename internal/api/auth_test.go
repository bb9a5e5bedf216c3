package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AaronLay10/soundstage/internal/config"
	"github.com/AaronLay10/soundstage/internal/events"
)

func credentialedConfig() config.APIConfig {
	return config.APIConfig{
		Port:         8080,
		AdminUser:    "admin",
		AdminPass:    "secret",
		OperatorUser: "operator",
		OperatorPass: "opsecret",
	}
}

func authServer(cfg config.APIConfig) *Server {
	return New(cfg, events.NewBus(16), &fakeOperator{})
}

func TestAuthDisabledWithoutAdminCredentials(t *testing.T) {
	s := authServer(config.APIConfig{OperatorUser: "operator", OperatorPass: "opsecret"})
	if s.AuthEnabled() {
		t.Error("auth should be disabled without admin credentials")
	}

	called := false
	handler := s.requireAdmin(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest("GET", "/test", nil))

	if !called {
		t.Error("handler should be called when auth is disabled")
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name      string
		user      string
		pass      string
		adminOnly bool
		wantCode  int
	}{
		{"no credentials", "", "", false, http.StatusUnauthorized},
		{"admin", "admin", "secret", false, http.StatusOK},
		{"operator", "operator", "opsecret", false, http.StatusOK},
		{"wrong password", "admin", "wrong", false, http.StatusUnauthorized},
		{"admin on admin route", "admin", "secret", true, http.StatusOK},
		{"operator on admin route", "operator", "opsecret", true, http.StatusForbidden},
	}

	s := authServer(credentialedConfig())
	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := s.requireAnyRole(ok)
			if tt.adminOnly {
				handler = s.requireAdmin(ok)
			}

			req := httptest.NewRequest("GET", "/test", nil)
			if tt.user != "" {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			w := httptest.NewRecorder()
			handler(w, req)

			if w.Code != tt.wantCode {
				t.Errorf("expected status %d, got %d", tt.wantCode, w.Code)
			}
			if w.Code == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") == "" {
				t.Error("expected WWW-Authenticate header")
			}
		})
	}
}

func TestOperatorRouteBehindAuth(t *testing.T) {
	op := &fakeOperator{}
	s := New(credentialedConfig(), events.NewBus(16), op)

	req := httptest.NewRequest("POST", "/operator/step", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
	if len(op.Calls()) != 0 {
		t.Error("operator must not be called without credentials")
	}

	req = httptest.NewRequest("POST", "/operator/step", nil)
	req.SetBasicAuth("operator", "opsecret")
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	// health stays open for probes
	req = httptest.NewRequest("GET", "/health", nil)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected open /health, got %d", w.Code)
	}
}

func TestSecureCompare(t *testing.T) {
	tests := []struct {
		a, b     string
		expected bool
	}{
		{"admin", "admin", true},
		{"admin", "Admin", false},
		{"admin", "admin1", false},
		{"", "", true},
		{"secret", "", false},
	}

	for _, tt := range tests {
		if got := secureCompare(tt.a, tt.b); got != tt.expected {
			t.Errorf("secureCompare(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.expected)
		}
	}
}
