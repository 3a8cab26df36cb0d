// Package config loads service configuration from defaults, an optional YAML
// file and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"usersvc/internal/apperr"
	"usersvc/internal/storage"
)

// EnvPrefix namespaces every service-specific environment variable.
const EnvPrefix = "USERSVC_"

// Config is the complete runtime configuration.
type Config struct {
	Addr       string `yaml:"addr" env:"ADDR"`
	AppVersion string `yaml:"app_version" env:"APP_VERSION"`
	// TrustedProxies lists CIDRs whose X-Forwarded-For header is believed.
	TrustedProxies []string `yaml:"trusted_proxies" env:"TRUSTED_PROXIES" envSeparator:","`

	Log       LogConfig       `yaml:"log" envPrefix:"LOG_"`
	Server    ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	Metrics   MetricsConfig   `yaml:"metrics" envPrefix:"METRICS_"`
	RateLimit RateLimitConfig `yaml:"rate_limit" envPrefix:"RATE_LIMIT_"`
	Database  DatabaseConfig  `yaml:"database" envPrefix:"DATABASE_"`
	Sentry    SentryConfig    `yaml:"sentry" envPrefix:"SENTRY_"`
	Audit     AuditConfig     `yaml:"audit" envPrefix:"AUDIT_"`

	// Constraints maps storage constraint identities to field-level messages.
	// A YAML list replaces the defaults wholesale.
	Constraints []apperr.Rule `yaml:"constraints"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// ServerConfig holds HTTP server timeouts.
type ServerConfig struct {
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"READ_HEADER_TIMEOUT"`
	ReadTimeout       time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout      time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
}

// RateLimitConfig configures the per-client token bucket. Zero RPS or burst disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"rps" env:"RPS"`
	Burst             int     `yaml:"burst" env:"BURST"`
}

// DatabaseConfig selects the storage backend. Which fields matter depends on
// the build tags the binary was compiled with.
type DatabaseConfig struct {
	PostgresURL string `yaml:"postgres_url" env:"URL"`
	SQLiteDSN   string `yaml:"sqlite_dsn" env:"SQLITE_DSN"`
}

type SentryConfig struct {
	DSN              string  `yaml:"dsn" env:"DSN"`
	Environment      string  `yaml:"environment" env:"ENVIRONMENT"`
	TracesSampleRate float64 `yaml:"traces_sample_rate" env:"TRACES_SAMPLE_RATE"`
}

type AuditConfig struct {
	// Capacity bounds the in-memory audit ring.
	Capacity int `yaml:"capacity" env:"CAPACITY"`
}

// wellKnown are unprefixed variables honored for compatibility with common
// hosting platforms. They win over their prefixed counterparts.
type wellKnown struct {
	Port        string `env:"PORT"`
	DatabaseURL string `env:"DATABASE_URL"`
	SQLiteDSN   string `env:"SQLITE_DSN"`
	SentryDSN   string `env:"SENTRY_DSN"`
	AppVersion  string `env:"APP_VERSION"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:       ":8080",
		AppVersion: "dev",
		Log:        LogConfig{Level: "info", Format: "json"},
		Server: ServerConfig{
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Metrics:   MetricsConfig{Enabled: true},
		RateLimit: RateLimitConfig{RequestsPerSecond: 100, Burst: 200},
		Database:  DatabaseConfig{SQLiteDSN: "file:usersvc.db"},
		Sentry:    SentryConfig{Environment: "production", TracesSampleRate: 1.0},
		Audit:     AuditConfig{Capacity: 10000},
		Constraints: []apperr.Rule{
			{Constraint: storage.UsernameConstraint, Field: "username", Message: "already taken"},
			{Constraint: storage.EmailConstraint, Field: "email", Message: "already taken"},
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	var wk wellKnown
	if err := env.Parse(&wk); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if p := strings.TrimSpace(wk.Port); p != "" {
		cfg.Addr = ":" + p
	}
	if wk.DatabaseURL != "" {
		cfg.Database.PostgresURL = wk.DatabaseURL
	}
	if wk.SQLiteDSN != "" {
		cfg.Database.SQLiteDSN = wk.SQLiteDSN
	}
	if wk.SentryDSN != "" {
		cfg.Sentry.DSN = wk.SentryDSN
	}
	if wk.AppVersion != "" {
		cfg.AppVersion = wk.AppVersion
	}
	return nil
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Addr) == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("rate_limit.rps must not be negative"))
	}
	if c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("rate_limit.burst must not be negative"))
	}
	if c.Sentry.TracesSampleRate < 0 || c.Sentry.TracesSampleRate > 1 {
		errs = append(errs, errors.New("sentry.traces_sample_rate must be within [0,1]"))
	}
	if c.Audit.Capacity < 0 {
		errs = append(errs, errors.New("audit.capacity must not be negative"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}
	for i, r := range c.Constraints {
		if err := r.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("constraints[%d]: %w", i, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Translator builds the constraint translator from the configured rules.
func (c Config) Translator() *apperr.Translator {
	return apperr.NewTranslator(c.Constraints...)
}

// Enabled reports whether both rate and burst are positive.
func (c RateLimitConfig) Enabled() bool {
	return c.RequestsPerSecond > 0 && c.Burst > 0
}
