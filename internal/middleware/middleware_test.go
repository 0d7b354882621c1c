package middleware

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openfeeds/rate-layer/pkg/logger"
)

func newTestLogger() *logger.Logger {
	log := logger.NewDefault("test")
	log.SetOutput(&bytes.Buffer{})
	return log
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestTokenAuthValidToken(t *testing.T) {
	auth := NewTokenAuth(map[string]string{"feeder-1": "secret-token"}, newTestLogger())

	var gotName string
	handler := auth.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotName = ClientName(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/prices", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotName != "feeder-1" {
		t.Fatalf("expected client name feeder-1, got %q", gotName)
	}
}

func TestTokenAuthRejectsInvalidToken(t *testing.T) {
	auth := NewTokenAuth(map[string]string{"feeder-1": "secret-token"}, newTestLogger())
	handler := auth.Handler(okHandler())

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic secret-token"},
		{"wrong token", "Bearer not-the-secret"},
		{"empty token", "Bearer "},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/v1/prices", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", tc.name, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "bearer token") {
			t.Errorf("%s: unexpected body %q", tc.name, rec.Body.String())
		}
	}
}

func TestTokenAuthNoTokensConfigured(t *testing.T) {
	auth := NewTokenAuth(nil, newTestLogger())
	handler := auth.Handler(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/prices", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with no tokens configured, got %d", rec.Code)
	}
}

func TestClientNameEmptyWithoutAuth(t *testing.T) {
	if got := ClientName(context.Background()); got != "" {
		t.Fatalf("expected empty client name, got %q", got)
	}
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	rl := NewRateLimiter(1, 2, newTestLogger())
	handler := rl.Handler(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/prices", nil)
	req.RemoteAddr = "10.0.0.1:40000"

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header on 429")
	}
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	rl := NewRateLimiter(1, 1, newTestLogger())
	handler := rl.Handler(okHandler())

	first := httptest.NewRequest(http.MethodGet, "/v1/prices", nil)
	first.RemoteAddr = "10.0.0.1:40000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, first)
	if rec.Code != http.StatusOK {
		t.Fatalf("first client: expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, first)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("first client: expected 429, got %d", rec.Code)
	}

	second := httptest.NewRequest(http.MethodGet, "/v1/prices", nil)
	second.RemoteAddr = "10.0.0.2:40000"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, second)
	if rec.Code != http.StatusOK {
		t.Fatalf("second client: expected 200, got %d", rec.Code)
	}
}

func TestRateLimiterPrefersClientName(t *testing.T) {
	rl := NewRateLimiter(1, 1, newTestLogger())
	handler := rl.Handler(okHandler())

	// Same IP, different authenticated names: separate buckets.
	for _, name := range []string{"feeder-1", "feeder-2"} {
		req := httptest.NewRequest(http.MethodPost, "/v1/prices", nil)
		req.RemoteAddr = "10.0.0.1:40000"
		req = req.WithContext(context.WithValue(req.Context(), clientNameKey, name))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("client %s: expected 200, got %d", name, rec.Code)
		}
	}
}

func TestCORSAllowedOrigin(t *testing.T) {
	cors := NewCORS([]string{"https://app.example.com"})
	handler := cors.Handler(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/prices", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("expected allow-origin header, got %q", got)
	}
}

func TestCORSDisallowedOrigin(t *testing.T) {
	cors := NewCORS([]string{"https://app.example.com"})
	handler := cors.Handler(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/prices", nil)
	req.Header.Set("Origin", "https://evil.example.net")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected no allow-origin header, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("non-preflight request should still reach the handler, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	cors := NewCORS([]string{"*"})
	handler := cors.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight should not reach the handler")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/v1/prices", nil)
	req.Header.Set("Origin", "https://anywhere.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", rec.Code)
	}
}

func TestRequestLoggerAssignsID(t *testing.T) {
	rlog := NewRequestLogger(newTestLogger())

	var gotID string
	handler := rlog.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = RequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/prices", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if gotID == "" {
		t.Fatal("expected a generated request ID in context")
	}
	if rec.Header().Get("X-Request-ID") != gotID {
		t.Fatalf("response header %q does not match context ID %q", rec.Header().Get("X-Request-ID"), gotID)
	}
}

func TestRequestLoggerKeepsClientID(t *testing.T) {
	rlog := NewRequestLogger(newTestLogger())
	handler := rlog.Handler(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/prices", nil)
	req.Header.Set("X-Request-ID", "client-supplied-id")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "client-supplied-id" {
		t.Fatalf("expected client ID to be kept, got %q", got)
	}
}

func TestRequestLoggerLogsStatus(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewDefault("test")
	log.SetOutput(&buf)

	rlog := NewRequestLogger(log)
	handler := rlog.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/prices/42", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	out := buf.String()
	if !strings.Contains(out, "status=404") {
		t.Fatalf("expected status=404 in log output, got %q", out)
	}
	if !strings.Contains(out, "/v1/prices/42") {
		t.Fatalf("expected path in log output, got %q", out)
	}
}
