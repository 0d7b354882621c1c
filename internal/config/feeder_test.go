package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const feederYAML = `
oracle_url: http://oracle:9000
token: sekrit
schedule: "@every 1m"
timeout: 3s
sources:
  - asset: 7
    url: https://api.example.com/eth
    path: data.price
    decimals: 8
  - asset: 8
    url: https://api.example.com/gas
    path: quote.mid
    decimals: 2
`

func writeFeederYAML(t *testing.T, raw string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feeder.yaml")
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFeederFromPathParsesYAML(t *testing.T) {
	cfg, err := LoadFeederFromPath(writeFeederYAML(t, feederYAML))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.OracleURL != "http://oracle:9000" || cfg.Token != "sekrit" {
		t.Fatalf("unexpected oracle settings %+v", cfg)
	}
	if cfg.Schedule != "@every 1m" || cfg.Timeout.Std() != 3*time.Second {
		t.Fatalf("unexpected schedule settings %+v", cfg)
	}
	if len(cfg.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(cfg.Sources))
	}
	if src := cfg.Sources[1]; src.Asset != 8 || src.Path != "quote.mid" || src.Decimals != 2 {
		t.Fatalf("unexpected source %+v", src)
	}
	// Keys absent from the file keep their defaults.
	if cfg.LogLevel != DefaultFeeder().LogLevel {
		t.Fatalf("expected default log level, got %q", cfg.LogLevel)
	}
}

func TestFeederEnvOverridesWinOverFile(t *testing.T) {
	t.Setenv("FEEDER_TOKEN", "env-token")
	t.Setenv("FEEDER_SCHEDULE", "@every 5s")

	cfg, err := LoadFeederFromPath(writeFeederYAML(t, feederYAML))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Token != "env-token" {
		t.Fatalf("token = %q, want env-token", cfg.Token)
	}
	if cfg.Schedule != "@every 5s" {
		t.Fatalf("schedule = %q, want @every 5s", cfg.Schedule)
	}
	// File values without env overrides survive.
	if cfg.OracleURL != "http://oracle:9000" {
		t.Fatalf("oracle_url = %q", cfg.OracleURL)
	}
}

func TestLoadFeederMissingFileFailsValidation(t *testing.T) {
	// Defaults carry no sources, so a missing file cannot validate.
	_, err := LoadFeederFromPath(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected validation error without sources")
	}
}

func TestFeederValidateRejectsBadSettings(t *testing.T) {
	valid := func() *FeederConfig {
		return &FeederConfig{
			OracleURL: "http://oracle:9000",
			Schedule:  "@every 1m",
			Sources: []FeederSource{
				{Asset: 1, URL: "https://api.example.com/a", Path: "p", Decimals: 2},
			},
		}
	}

	cases := []struct {
		name   string
		mutate func(*FeederConfig)
	}{
		{"empty oracle url", func(c *FeederConfig) { c.OracleURL = "" }},
		{"empty schedule", func(c *FeederConfig) { c.Schedule = "" }},
		{"no sources", func(c *FeederConfig) { c.Sources = nil }},
		{"source without url", func(c *FeederConfig) { c.Sources[0].URL = "" }},
		{"source without path", func(c *FeederConfig) { c.Sources[0].Path = "" }},
		{"duplicate asset", func(c *FeederConfig) {
			c.Sources = append(c.Sources, c.Sources[0])
		}},
		{"negative timeout", func(c *FeederConfig) { c.Timeout = Duration(-time.Second) }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}
