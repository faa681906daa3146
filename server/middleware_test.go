package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/renai/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func TestAdminAuthMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		username       string
		password       string
		token          string
		reqUsername    string
		reqPassword    string
		reqToken       string
		expectedStatus int
	}{
		{name: "no auth configured - allows request", expectedStatus: http.StatusOK},
		{name: "valid basic auth", username: "admin", password: "secret123", reqUsername: "admin", reqPassword: "secret123", expectedStatus: http.StatusOK},
		{name: "invalid basic auth username", username: "admin", password: "secret123", reqUsername: "wrong", reqPassword: "secret123", expectedStatus: http.StatusUnauthorized},
		{name: "invalid basic auth password", username: "admin", password: "secret123", reqUsername: "admin", reqPassword: "wrong", expectedStatus: http.StatusUnauthorized},
		{name: "valid token auth", token: "test-token-12345", reqToken: "test-token-12345", expectedStatus: http.StatusOK},
		{name: "invalid token auth", token: "test-token-12345", reqToken: "wrong-token", expectedStatus: http.StatusUnauthorized},
		{name: "missing credentials", token: "test-token-12345", expectedStatus: http.StatusUnauthorized},
		{name: "token wins over bad basic auth", username: "admin", password: "secret123", token: "tok", reqToken: "tok", reqUsername: "wrong", reqPassword: "wrong", expectedStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := loadAuthConfig(&config.Config{AdminUsername: tt.username, AdminPassword: tt.password, AdminToken: tt.token})
			handler := adminAuth(okHandler(), cfg)

			req := httptest.NewRequest(http.MethodPost, "/admin/worker/stop", nil)
			if tt.reqUsername != "" || tt.reqPassword != "" {
				req.SetBasicAuth(tt.reqUsername, tt.reqPassword)
			}
			if tt.reqToken != "" {
				req.Header.Set("X-Admin-Token", tt.reqToken)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rr.Code)
			}
			if tt.expectedStatus == http.StatusUnauthorized {
				if rr.Header().Get("WWW-Authenticate") == "" {
					t.Error("expected WWW-Authenticate header on 401 response")
				}
				if !strings.Contains(rr.Body.String(), `"error"`) {
					t.Errorf("expected JSON error body, got %q", rr.Body.String())
				}
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	limiter := newIPRateLimiter(t.Context(), &rateLimiterConfig{enabled: true, requestsPerIP: 3, window: 100 * time.Millisecond})

	for i := 0; i < 3; i++ {
		if !limiter.allow("192.168.1.1") {
			t.Errorf("request %d should be allowed", i+1)
		}
	}
	if limiter.allow("192.168.1.1") {
		t.Error("request 4 should be denied (rate limit exceeded)")
	}
	if !limiter.allow("192.168.1.2") {
		t.Error("a different IP has its own budget")
	}

	time.Sleep(150 * time.Millisecond)
	if !limiter.allow("192.168.1.1") {
		t.Error("request after window expiry should be allowed")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	limiter := newIPRateLimiter(t.Context(), &rateLimiterConfig{enabled: false, requestsPerIP: 1, window: time.Second})
	for i := 0; i < 100; i++ {
		if !limiter.allow("192.168.1.1") {
			t.Fatalf("request %d should be allowed when rate limiter is disabled", i+1)
		}
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remote    string
		forwarded string
		want      string
	}{
		{"192.168.1.1:12345", "", "192.168.1.1"},
		{"[2001:db8::1]:12345", "", "2001:db8::1"},
		{"10.0.0.1:12345", "203.0.113.1, 10.0.0.2", "203.0.113.1"},
		{"127.0.0.1:8080", "2001:db8::42", "2001:db8::42"},
		{"10.0.0.1:8080", "192.0.2.1", "192.0.2.1"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remote
		if tt.forwarded != "" {
			req.Header.Set("X-Forwarded-For", tt.forwarded)
		}
		if got := clientIP(req); got != tt.want {
			t.Errorf("clientIP(%q, %q) = %q, want %q", tt.remote, tt.forwarded, got, tt.want)
		}
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := newIPRateLimiter(t.Context(), &rateLimiterConfig{enabled: true, requestsPerIP: 2, window: time.Second})
	handler := rateLimitMiddleware(okHandler(), limiter)

	do := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/admin/cache", nil)
		req.RemoteAddr = remote
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}
	// Port changes must not reset the budget.
	for i, remote := range []string{"[2001:db8::1]:1000", "[2001:db8::1]:2000"} {
		if rr := do(remote); rr.Code != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i+1, rr.Code)
		}
	}
	rr := do("[2001:db8::1]:3000")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("request 3: expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on 429 response")
	}
}

func TestCORSConfig(t *testing.T) {
	tests := []struct {
		name              string
		permissive        bool
		allowedOrigins    []string
		requestOrigin     string
		expectAllowOrigin string
		expectCredentials bool
	}{
		{name: "permissive mode allows all origins", permissive: true, requestOrigin: "https://example.com", expectAllowOrigin: "*"},
		{name: "restricted mode with matching origin", allowedOrigins: []string{"https://example.com"}, requestOrigin: "https://example.com", expectAllowOrigin: "https://example.com", expectCredentials: true},
		{name: "restricted mode with non-matching origin", allowedOrigins: []string{"https://example.com"}, requestOrigin: "https://evil.com"},
		{name: "wildcard subdomain matching", allowedOrigins: []string{"*.example.com"}, requestOrigin: "https://app.example.com", expectAllowOrigin: "https://app.example.com", expectCredentials: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := loadCORSConfig(&config.Config{CORSPermissive: tt.permissive, CORSOrigins: tt.allowedOrigins})
			handler := withCORSConfig(okHandler(), cfg)

			req := httptest.NewRequest(http.MethodGet, "/messages", nil)
			req.Header.Set("Origin", tt.requestOrigin)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.expectAllowOrigin {
				t.Errorf("expected Allow-Origin %q, got %q", tt.expectAllowOrigin, got)
			}
			if tt.expectCredentials && rr.Header().Get("Access-Control-Allow-Credentials") != "true" {
				t.Error("expected Allow-Credentials: true for restricted mode")
			}
		})
	}
}

func TestCORSPreflightRequest(t *testing.T) {
	handler := withCORSConfig(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called for OPTIONS request")
	}), &corsConfig{permissive: true})

	req := httptest.NewRequest(http.MethodOptions, "/generate", nil)
	req.Header.Set("Origin", "https://example.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("expected 204 for OPTIONS, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("expected Allow-Methods header on OPTIONS response")
	}
}

func TestIsOriginAllowed(t *testing.T) {
	tests := []struct {
		origin  string
		allowed []string
		want    bool
	}{
		{"https://example.com", []string{"https://example.com", "https://other.com"}, true},
		{"https://evil.com", []string{"https://example.com"}, false},
		{"https://api.v2.example.com", []string{"*.example.com"}, true},
		{"https://example.com", []string{"*.example.com"}, true},
		{"http://example.com", []string{"https://example.com"}, false},
	}
	for _, tt := range tests {
		if got := isOriginAllowed(tt.origin, tt.allowed); got != tt.want {
			t.Errorf("isOriginAllowed(%q, %v) = %v, want %v", tt.origin, tt.allowed, got, tt.want)
		}
	}
}
