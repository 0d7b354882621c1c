// Package config loads the oracle configuration from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where Load looks for the config file unless ORACLE_CONFIG_FILE
// points elsewhere.
var DefaultPath = filepath.Join("config", "oracle.yaml")

// Duration wraps time.Duration so it reads as "5m" in YAML and env vars.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Decode implements envdecode.Decoder.
func (d *Duration) Decode(repl string) error {
	parsed, err := time.ParseDuration(repl)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", repl, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// TokenList maps submitter names to their bearer tokens. The env form is
// "name:token" pairs separated by commas.
type TokenList map[string]string

// Decode implements envdecode.Decoder.
func (t *TokenList) Decode(repl string) error {
	parsed := make(TokenList)
	for _, pair := range strings.Split(repl, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, token, found := strings.Cut(pair, ":")
		if !found || name == "" || token == "" {
			return fmt.Errorf("malformed token entry %q, want name:token", pair)
		}
		parsed[name] = token
	}
	*t = parsed
	return nil
}

// ServerConfig configures the public HTTP API.
type ServerConfig struct {
	Host        string   `yaml:"host" env:"ORACLE_SERVER_HOST"`
	Port        int      `yaml:"port" env:"ORACLE_SERVER_PORT"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// OpsConfig configures the operational HTTP plane (health, metrics, audit).
type OpsConfig struct {
	Port int `yaml:"port" env:"ORACLE_OPS_PORT"`
	// AuditFile appends ingest audit entries to a JSONL file when set.
	AuditFile string `yaml:"audit_file" env:"ORACLE_AUDIT_FILE"`
}

// RedisConfig configures the redis price store backend.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ORACLE_REDIS_ADDR"`
	Password string `yaml:"password" env:"ORACLE_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"ORACLE_REDIS_DB"`
}

// StoreConfig selects and configures the price store backend.
type StoreConfig struct {
	// Backend is one of memory, postgres, redis.
	Backend         string      `yaml:"backend" env:"ORACLE_STORE_BACKEND"`
	DSN             string      `yaml:"dsn" env:"ORACLE_STORE_DSN"`
	MaxOpenConns    int         `yaml:"max_open_conns" env:"ORACLE_STORE_MAX_OPEN_CONNS"`
	MaxIdleConns    int         `yaml:"max_idle_conns" env:"ORACLE_STORE_MAX_IDLE_CONNS"`
	ConnMaxLifetime Duration    `yaml:"conn_max_lifetime" env:"ORACLE_STORE_CONN_MAX_LIFETIME"`
	Redis           RedisConfig `yaml:"redis"`
}

// IngestConfig configures batch submission handling.
type IngestConfig struct {
	// MaxStalePeriod rejects batches older than this; zero or negative
	// disables the check.
	MaxStalePeriod Duration  `yaml:"max_stale_period" env:"ORACLE_MAX_STALE_PERIOD"`
	Tokens         TokenList `yaml:"tokens" env:"ORACLE_SUBMIT_TOKENS"`
}

// WatchdogConfig configures the staleness sweeper.
type WatchdogConfig struct {
	// Schedule is a cron spec; "@every 30s" style entries are accepted.
	Schedule string `yaml:"schedule" env:"ORACLE_WATCHDOG_SCHEDULE"`
}

// RateLimitConfig configures the per-client request limiter.
type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second" env:"ORACLE_RATELIMIT_RPS"`
	Burst             int `yaml:"burst" env:"ORACLE_RATELIMIT_BURST"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"ORACLE_LOG_LEVEL"`
	Format     string `yaml:"format" env:"ORACLE_LOG_FORMAT"`
	Output     string `yaml:"output" env:"ORACLE_LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"ORACLE_LOG_FILE_PREFIX"`
}

// Config is the root configuration for the oracle service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Ops       OpsConfig       `yaml:"ops"`
	Store     StoreConfig     `yaml:"store"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Watchdog  WatchdogConfig  `yaml:"watchdog"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// Default returns the configuration used when no file or overrides are
// present: in-memory store, everything on localhost.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			CORSOrigins: []string{"*"},
		},
		Ops: OpsConfig{
			Port: 9090,
		},
		Store: StoreConfig{
			Backend: "memory",
		},
		Ingest: IngestConfig{
			MaxStalePeriod: Duration(5 * time.Minute),
		},
		Watchdog: WatchdogConfig{
			Schedule: "@every 30s",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads the config file named by ORACLE_CONFIG_FILE (or DefaultPath when
// unset) and applies environment overrides. A missing file is not an error;
// defaults are used.
func Load() (*Config, error) {
	path := os.Getenv("ORACLE_CONFIG_FILE")
	if path == "" {
		path = DefaultPath
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific file path, then applies
// environment overrides and validates the result.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

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

// Validate checks settings that would otherwise fail deep inside startup.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store backend postgres requires a dsn")
		}
	case "redis":
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("store backend redis requires redis.addr")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Ops.Port <= 0 || c.Ops.Port > 65535 {
		return fmt.Errorf("ops port %d out of range", c.Ops.Port)
	}
	if c.Server.Port == c.Ops.Port {
		return fmt.Errorf("server and ops ports must differ, both %d", c.Server.Port)
	}

	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limit values must not be negative")
	}

	if c.Watchdog.Schedule == "" {
		return fmt.Errorf("watchdog schedule must not be empty")
	}

	return nil
}
