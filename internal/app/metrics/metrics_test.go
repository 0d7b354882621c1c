package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCanonicalPath(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"", "/"},
		{"/", "/"},
		{"/healthz", "/healthz"},
		{"/v1", "/v1"},
		{"/v1/prices", "/v1/prices"},
		{"/v1/prices/17", "/v1/prices/:asset"},
		{"/v1/pairs/1/2", "/v1/pairs/:asset0/:asset1"},
		{"/v1/pairs/query", "/v1/pairs/query"},
		{"/v1/other", "/v1/other"},
		{"/metrics", "/metrics"},
	}
	for _, tc := range cases {
		if got := canonicalPath(tc.raw); got != tc.want {
			t.Fatalf("canonicalPath(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestInstrumentHandlerCountsRequests(t *testing.T) {
	handler := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/prices/9", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want 418", rr.Code)
	}

	RecordBatch("accepted", 2, 1, 0)
	RecordDerive("ok", 3*time.Millisecond)
	RecordSweep(90*time.Second, 1)
	RecordPriceUpdate()

	metricsReq := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	metricsRR := httptest.NewRecorder()
	Handler().ServeHTTP(metricsRR, metricsReq)

	body := metricsRR.Body.String()
	for _, want := range []string{
		`rate_layer_http_requests_total{method="GET",path="/v1/prices/:asset",status="418"}`,
		`rate_layer_ingest_batches_total{outcome="accepted"}`,
		`rate_layer_ingest_entries_total{disposition="committed"}`,
		`rate_layer_derive_requests_total{outcome="ok"}`,
		`rate_layer_prices_oldest_age_seconds 90`,
		`rate_layer_prices_stale_assets 1`,
		`rate_layer_prices_updates_total`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
