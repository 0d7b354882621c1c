package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// DefaultFeederPath is where LoadFeeder looks for the feeder config unless
// FEEDER_CONFIG_FILE points elsewhere.
var DefaultFeederPath = filepath.Join("config", "feeder.yaml")

// FeederSource describes one upstream JSON endpoint the feeder polls.
type FeederSource struct {
	// Asset is the oracle asset index the reading is submitted under.
	Asset uint32 `yaml:"asset"`
	URL   string `yaml:"url"`
	// Path extracts the price from the response body, gjson syntax.
	Path string `yaml:"path"`
	// Decimals is the fixed-point exponent readings are scaled to.
	Decimals uint8 `yaml:"decimals"`
}

// FeederConfig is the root configuration for the feeder client.
type FeederConfig struct {
	// OracleURL is the base URL of the oracle's public API.
	OracleURL string `yaml:"oracle_url" env:"FEEDER_ORACLE_URL"`
	// Token authenticates submissions; it must match one the oracle knows.
	Token string `yaml:"token" env:"FEEDER_TOKEN"`
	// Schedule is a cron spec; "@every 15s" style entries are accepted.
	Schedule string `yaml:"schedule" env:"FEEDER_SCHEDULE"`
	// Timeout bounds each upstream fetch and the batch submission.
	Timeout   Duration       `yaml:"timeout" env:"FEEDER_TIMEOUT"`
	Sources   []FeederSource `yaml:"sources"`
	LogLevel  string         `yaml:"log_level" env:"FEEDER_LOG_LEVEL"`
	LogFormat string         `yaml:"log_format" env:"FEEDER_LOG_FORMAT"`
}

// DefaultFeeder returns the feeder defaults. Sources have no default; they
// must come from the config file.
func DefaultFeeder() *FeederConfig {
	return &FeederConfig{
		OracleURL: "http://127.0.0.1:8080",
		Schedule:  "@every 15s",
		Timeout:   Duration(10 * time.Second),
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// LoadFeeder reads the config file named by FEEDER_CONFIG_FILE (or
// DefaultFeederPath when unset) and applies environment overrides.
func LoadFeeder() (*FeederConfig, error) {
	path := os.Getenv("FEEDER_CONFIG_FILE")
	if path == "" {
		path = DefaultFeederPath
	}
	return LoadFeederFromPath(path)
}

// LoadFeederFromPath loads feeder configuration from a specific file path,
// then applies environment overrides and validates the result.
func LoadFeederFromPath(path string) (*FeederConfig, error) {
	cfg := DefaultFeeder()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults plus env overrides only.
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := envdecode.Decode(cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, fmt.Errorf("decode env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings the feeder cannot run without.
func (c *FeederConfig) Validate() error {
	if c.OracleURL == "" {
		return fmt.Errorf("oracle_url must not be empty")
	}
	if c.Schedule == "" {
		return fmt.Errorf("schedule must not be empty")
	}
	if c.Timeout.Std() < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source must be configured")
	}

	seen := make(map[uint32]bool, len(c.Sources))
	for i, src := range c.Sources {
		if src.URL == "" {
			return fmt.Errorf("source %d: url must not be empty", i)
		}
		if src.Path == "" {
			return fmt.Errorf("source %d: path must not be empty", i)
		}
		if seen[src.Asset] {
			return fmt.Errorf("source %d: duplicate asset %d", i, src.Asset)
		}
		seen[src.Asset] = true
	}
	return nil
}
