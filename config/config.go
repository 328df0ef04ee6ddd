// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Streaming StreamingConfig `yaml:"streaming"`
	Archives  ArchivesConfig  `yaml:"archives"`
	Views     []ViewConfig    `yaml:"views"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	OpenAPI   OpenAPIConfig   `yaml:"openapi"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`   // 0 leaves long streams uncapped
	RequestTimeout  time.Duration `yaml:"request_timeout"` // per-request deadline, 0 disables
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig configures the document store.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // "sqlite", "postgres" or "memory"
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns,omitempty"`         // postgres only
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime,omitempty"` // postgres only
}

// AuthConfig configures API key authentication.
// Keys are stored as bcrypt hashes; an empty list disables authentication.
type AuthConfig struct {
	KeyPrefix string   `yaml:"key_prefix"`
	KeyHashes []string `yaml:"key_hashes"`
}

// RateLimitConfig configures per-client request throttling.
// Clients are identified by API key, or by address when no key is sent.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"` // 0 disables throttling
	Burst             int `yaml:"burst"`
}

// StreamingConfig configures streamed responses.
type StreamingConfig struct {
	Flush *bool `yaml:"flush"` // flush after every item (default: true)
}

// FlushEnabled reports whether streamed items are flushed one by one.
func (s StreamingConfig) FlushEnabled() bool {
	return s.Flush == nil || *s.Flush
}

// ArchivesConfig configures NDJSON archive serving.
type ArchivesConfig struct {
	Dir string `yaml:"dir"` // empty disables the archive endpoint
}

// ViewConfig declares a jq projection served as a streaming endpoint.
type ViewConfig struct {
	Name       string `yaml:"name"`
	Expr       string `yaml:"expr"`
	Collection string `yaml:"collection,omitempty"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // Enable /metrics endpoint
	Path    string `yaml:"path"`    // Custom path (default: /metrics)
}

// OpenAPIConfig configures OpenAPI/Swagger documentation.
type OpenAPIConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	data = []byte(expandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// expandEnv substitutes $VAR and ${VAR} with set environment variables.
// References to unset variables are left as written so bcrypt hashes,
// which contain '$', survive expansion.
func expandEnv(s string) string {
	return os.Expand(s, func(name string) string {
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return "$" + name
	})
}

// LoadFromEnv creates configuration entirely from environment variables.
//
// Environment variables:
//
//	DOCSTREAM_SERVER_HOST         - Server host (default: 0.0.0.0)
//	DOCSTREAM_SERVER_PORT         - Server port (default: 8080)
//	DOCSTREAM_DATABASE_DRIVER     - sqlite, postgres or memory (default: sqlite)
//	DOCSTREAM_DATABASE_DSN        - Database path or URL (default: docstream.db)
//	DOCSTREAM_AUTH_KEY_HASHES     - Comma-separated bcrypt hashes of API keys
//	DOCSTREAM_STREAMING_FLUSH     - Flush after every streamed item (default: true)
//	DOCSTREAM_ARCHIVES_DIR        - Directory of NDJSON archives
//	DOCSTREAM_LOG_LEVEL           - Log level: debug, info, warn, error (default: info)
//	DOCSTREAM_LOG_FORMAT          - Log format: json or console (default: json)
//	DOCSTREAM_METRICS_ENABLED     - Enable /metrics endpoint
//	DOCSTREAM_OPENAPI_ENABLED     - Enable OpenAPI/Swagger
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback loads the file when it exists and falls back to the
// environment otherwise.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// applyEnvOverrides applies DOCSTREAM_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	// Server configuration
	if v := os.Getenv("DOCSTREAM_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("DOCSTREAM_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DOCSTREAM_SERVER_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if v := os.Getenv("DOCSTREAM_SERVER_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.RequestTimeout = d
		}
	}

	// Database configuration
	if v := os.Getenv("DOCSTREAM_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("DOCSTREAM_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	// Auth configuration
	if v := os.Getenv("DOCSTREAM_AUTH_KEY_HASHES"); v != "" {
		cfg.Auth.KeyHashes = splitList(v)
	}

	// Rate limiting
	if v := os.Getenv("DOCSTREAM_RATE_LIMIT_RPM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.RequestsPerMinute = n
		}
	}
	if v := os.Getenv("DOCSTREAM_RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.Burst = n
		}
	}

	// Streaming and archives
	if v := os.Getenv("DOCSTREAM_STREAMING_FLUSH"); v != "" {
		flush := parseBool(v)
		cfg.Streaming.Flush = &flush
	}
	if v := os.Getenv("DOCSTREAM_ARCHIVES_DIR"); v != "" {
		cfg.Archives.Dir = v
	}

	// Logging configuration
	if v := os.Getenv("DOCSTREAM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DOCSTREAM_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics configuration
	if v := os.Getenv("DOCSTREAM_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("DOCSTREAM_METRICS_PATH"); v != "" {
		cfg.Metrics.Path = v
	}

	// OpenAPI configuration
	if v := os.Getenv("DOCSTREAM_OPENAPI_ENABLED"); v != "" {
		cfg.OpenAPI.Enabled = parseBool(v)
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "docstream.db"
	}

	if cfg.Auth.KeyPrefix == "" {
		cfg.Auth.KeyPrefix = "ds_"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func validate(cfg *Config) error {
	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "memory": true}
	if !validDrivers[cfg.Database.Driver] {
		return fmt.Errorf("database.driver must be 'sqlite', 'postgres' or 'memory', got %q", cfg.Database.Driver)
	}
	if cfg.Database.Driver == "postgres" && cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required when database.driver is 'postgres'")
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	for i, h := range cfg.Auth.KeyHashes {
		if !strings.HasPrefix(h, "$2") {
			return fmt.Errorf("auth.key_hashes[%d] is not a bcrypt hash", i)
		}
	}

	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit values must not be negative")
	}

	seen := make(map[string]bool, len(cfg.Views))
	for i, v := range cfg.Views {
		if !validViewName(v.Name) {
			return fmt.Errorf("views[%d].name must be 1-64 chars of [a-zA-Z0-9_-], got %q", i, v.Name)
		}
		if seen[v.Name] {
			return fmt.Errorf("views[%d].name %q is duplicated", i, v.Name)
		}
		seen[v.Name] = true
		if strings.TrimSpace(v.Expr) == "" {
			return fmt.Errorf("views[%d].expr is required", i)
		}
	}

	return nil
}

func validViewName(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}
