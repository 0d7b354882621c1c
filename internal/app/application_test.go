package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/openfeeds/rate-layer/internal/config"
	"github.com/openfeeds/rate-layer/pkg/logger"
)

func newTestLogger() *logger.Logger {
	log := logger.NewDefault("test")
	log.SetOutput(&bytes.Buffer{})
	return log
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Ops.Port = 0
	cfg.Watchdog.Schedule = "@every 1h"
	cfg.Ingest.Tokens = config.TokenList{"feeder-1": "secret"}
	return cfg
}

func TestNewDefaultsToMemoryStore(t *testing.T) {
	app, err := New(context.Background(), nil, newTestLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer app.Close()

	if app.Store == nil || app.Ingest == nil || app.Rates == nil {
		t.Fatal("core services not wired")
	}
	if app.Watchdog == nil || app.Hub == nil || app.Audit == nil {
		t.Fatal("auxiliary services not wired")
	}
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Store.Backend = "etcd"

	if _, err := New(context.Background(), cfg, newTestLogger()); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestApplicationServesBothPlanes(t *testing.T) {
	app, err := New(context.Background(), testConfig(), newTestLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := app.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		if err := app.Stop(context.Background()); err != nil {
			t.Fatalf("Stop: %v", err)
		}
	}()

	client := &http.Client{Timeout: 5 * time.Second}

	body := fmt.Sprintf(
		`{"prices":[{"asset":7,"price":"3.5","decimals":8,"round":1,"timestamp":%q}]}`,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	req, err := http.NewRequest(http.MethodPost,
		"http://"+app.PublicAddr()+"/v1/prices", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer secret")

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	var result struct {
		Committed int `json:"committed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode submit response: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || result.Committed != 1 {
		t.Fatalf("submit status = %d, committed = %d", resp.StatusCode, result.Committed)
	}

	resp, err = client.Get("http://" + app.PublicAddr() + "/v1/prices/7")
	if err != nil {
		t.Fatalf("read price: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("read price status = %d, want 200", resp.StatusCode)
	}

	resp, err = client.Get("http://" + app.OpsAddr() + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	var health map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode healthz: %v", err)
	}
	resp.Body.Close()
	if health["backend"] != "memory" {
		t.Fatalf("healthz backend = %q, want memory", health["backend"])
	}

	resp, err = client.Post("http://"+app.OpsAddr()+"/v1/sweep", "application/json", nil)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	var summary struct {
		Checked int `json:"checked"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		t.Fatalf("decode sweep: %v", err)
	}
	resp.Body.Close()
	if summary.Checked != 1 {
		t.Fatalf("sweep checked = %d, want 1", summary.Checked)
	}

	resp, err = client.Get("http://" + app.OpsAddr() + "/v1/audit")
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	var entries []struct {
		Path   string `json:"path"`
		Client string `json:"client"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatalf("decode audit: %v", err)
	}
	resp.Body.Close()
	found := false
	for _, e := range entries {
		if e.Path == "/v1/prices" && e.Client == "feeder-1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("audit trail missing submit entry: %+v", entries)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	app, err := New(context.Background(), testConfig(), newTestLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	// Give the servers a moment to come up, then trigger shutdown.
	deadline := time.After(5 * time.Second)
	for {
		resp, err := http.Get("http://" + app.OpsAddr() + "/healthz")
		if err == nil {
			resp.Body.Close()
			break
		}
		select {
		case <-deadline:
			t.Fatal("ops plane never came up")
		case <-time.After(20 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
