// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Billing  BillingConfig  `yaml:"billing"`
	Sweep    SweepConfig    `yaml:"sweep"`
	Router   RouterConfig   `yaml:"router"`
	Security SecurityConfig `yaml:"security"`
	Clock    ClockConfig    `yaml:"clock"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// OperatorToken guards operator endpoints as a bearer token.
	// Empty leaves them open, which only suits a trusted network.
	OperatorToken string `yaml:"operator_token,omitempty"`
}

// DatabaseConfig configures the database.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "memory"
	DSN    string `yaml:"dsn"`
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

// BillingConfig selects how bills are resolved.
type BillingConfig struct {
	Policy   string `yaml:"policy"`   // "ledger" or "cycle"
	Timezone string `yaml:"timezone"` // IANA name; calendar dates are compared here

	// AccountPrefix prefixes generated account numbers.
	AccountPrefix string `yaml:"account_prefix"`
}

// SweepConfig configures the overdue sweep.
type SweepConfig struct {
	Enabled              bool          `yaml:"enabled"`
	Schedule             string        `yaml:"schedule"` // standard 5-field cron spec
	RetryAttempts        int           `yaml:"retry_attempts"`
	RetryInitialInterval time.Duration `yaml:"retry_initial_interval"`
}

// RouterConfig configures device access.
type RouterConfig struct {
	Driver              string        `yaml:"driver"` // "routeros" or "simulated"
	ConnectTimeout      time.Duration `yaml:"connect_timeout"`
	ReminderPath        string        `yaml:"reminder_path"`
	AutoEnableOnPayment *bool         `yaml:"auto_enable_on_payment,omitempty"`
}

// AutoEnable reports whether settling payments re-enable access (default true).
func (r RouterConfig) AutoEnable() bool {
	return r.AutoEnableOnPayment == nil || *r.AutoEnableOnPayment
}

// SecurityConfig configures at-rest encryption.
type SecurityConfig struct {
	// EncryptionKey is a 64-char hex key, a 32-byte key or a passphrase.
	EncryptionKey string `yaml:"encryption_key,omitempty"`
}

// ClockConfig pins the clock for simulations.
type ClockConfig struct {
	Now string `yaml:"now,omitempty"`
}

// Location returns the configured billing time zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Billing.Timezone == "" || c.Billing.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Billing.Timezone)
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse builds configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	cfg := Config{
		Metrics: MetricsConfig{Enabled: true},
		Sweep:   SweepConfig{Enabled: true},
	}
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

// LoadFromEnv creates configuration entirely from environment variables.
//
// Environment variables:
//
//	NETBILL_SERVER_HOST              - Server host (default: 0.0.0.0)
//	NETBILL_SERVER_PORT              - Server port (default: 8080)
//	NETBILL_OPERATOR_TOKEN           - Bearer token for operator endpoints
//	NETBILL_DATABASE_DRIVER          - sqlite or memory (default: sqlite)
//	NETBILL_DATABASE_DSN             - Database path (default: netbill.db)
//	NETBILL_LOG_LEVEL                - debug, info, warn, error (default: info)
//	NETBILL_LOG_FORMAT               - json or console (default: json)
//	NETBILL_METRICS_ENABLED          - Enable /metrics endpoint (default: true)
//	NETBILL_BILLING_POLICY           - ledger or cycle (default: ledger)
//	NETBILL_BILLING_TIMEZONE         - IANA zone for calendar dates (default: Local)
//	NETBILL_SWEEP_ENABLED            - Run the overdue sweep (default: true)
//	NETBILL_SWEEP_SCHEDULE           - Cron spec (default: "0 2 * * *")
//	NETBILL_SWEEP_RETRY_ATTEMPTS     - Disable attempts per subscriber (default: 3)
//	NETBILL_ROUTER_DRIVER            - routeros or simulated (default: routeros)
//	NETBILL_ROUTER_CONNECT_TIMEOUT   - Device connect timeout (default: 5s)
//	NETBILL_ROUTER_AUTO_ENABLE       - Re-enable on settling payment (default: true)
//	NETBILL_ENCRYPTION_KEY           - Credential encryption key
//	NETBILL_NOW                      - Pin the clock (read by the clock adapter)
func LoadFromEnv() (*Config, error) {
	cfg := Config{
		Metrics: MetricsConfig{Enabled: true},
		Sweep:   SweepConfig{Enabled: true},
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback loads path when it exists and falls back to the environment.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// applyEnvOverrides applies NETBILL_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	// Server configuration
	if v := os.Getenv("NETBILL_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("NETBILL_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("NETBILL_OPERATOR_TOKEN"); v != "" {
		cfg.Server.OperatorToken = v
	}

	// Database configuration
	if v := os.Getenv("NETBILL_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("NETBILL_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	// Logging configuration
	if v := os.Getenv("NETBILL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("NETBILL_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics configuration
	if v := os.Getenv("NETBILL_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}

	// Billing configuration
	if v := os.Getenv("NETBILL_BILLING_POLICY"); v != "" {
		cfg.Billing.Policy = v
	}
	if v := os.Getenv("NETBILL_BILLING_TIMEZONE"); v != "" {
		cfg.Billing.Timezone = v
	}

	// Sweep configuration
	if v := os.Getenv("NETBILL_SWEEP_ENABLED"); v != "" {
		cfg.Sweep.Enabled = parseBool(v)
	}
	if v := os.Getenv("NETBILL_SWEEP_SCHEDULE"); v != "" {
		cfg.Sweep.Schedule = v
	}
	if v := os.Getenv("NETBILL_SWEEP_RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sweep.RetryAttempts = n
		}
	}

	// Router configuration
	if v := os.Getenv("NETBILL_ROUTER_DRIVER"); v != "" {
		cfg.Router.Driver = v
	}
	if v := os.Getenv("NETBILL_ROUTER_CONNECT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Router.ConnectTimeout = d
		}
	}
	if v := os.Getenv("NETBILL_ROUTER_AUTO_ENABLE"); v != "" {
		b := parseBool(v)
		cfg.Router.AutoEnableOnPayment = &b
	}

	if v := os.Getenv("NETBILL_ENCRYPTION_KEY"); v != "" {
		cfg.Security.EncryptionKey = v
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
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
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "netbill.db"
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

	if cfg.Billing.Policy == "" {
		cfg.Billing.Policy = "ledger"
	}
	if cfg.Billing.AccountPrefix == "" {
		cfg.Billing.AccountPrefix = "NB-"
	}

	if cfg.Sweep.Schedule == "" {
		cfg.Sweep.Schedule = "0 2 * * *"
	}
	if cfg.Sweep.RetryAttempts == 0 {
		cfg.Sweep.RetryAttempts = 3
	}
	if cfg.Sweep.RetryInitialInterval == 0 {
		cfg.Sweep.RetryInitialInterval = 2 * time.Second
	}

	if cfg.Router.Driver == "" {
		cfg.Router.Driver = "routeros"
	}
	if cfg.Router.ConnectTimeout == 0 {
		cfg.Router.ConnectTimeout = 5 * time.Second
	}
	if cfg.Router.ReminderPath == "" {
		cfg.Router.ReminderPath = "/payment-reminder"
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	validDrivers := map[string]bool{"sqlite": true, "memory": true}
	if !validDrivers[cfg.Database.Driver] {
		return fmt.Errorf("database.driver must be 'sqlite' or 'memory', got %q", cfg.Database.Driver)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	if cfg.Logging.Format != "json" && cfg.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	if cfg.Billing.Policy != "ledger" && cfg.Billing.Policy != "cycle" {
		return fmt.Errorf("billing.policy must be 'ledger' or 'cycle', got %q", cfg.Billing.Policy)
	}
	if _, err := cfg.Location(); err != nil {
		return fmt.Errorf("billing.timezone: %w", err)
	}

	if _, err := cron.ParseStandard(cfg.Sweep.Schedule); err != nil {
		return fmt.Errorf("sweep.schedule: %w", err)
	}
	if cfg.Sweep.RetryAttempts < 1 {
		return fmt.Errorf("sweep.retry_attempts must be at least 1")
	}

	if cfg.Router.Driver != "routeros" && cfg.Router.Driver != "simulated" {
		return fmt.Errorf("router.driver must be 'routeros' or 'simulated', got %q", cfg.Router.Driver)
	}
	if !strings.HasPrefix(cfg.Router.ReminderPath, "/") {
		return fmt.Errorf("router.reminder_path must start with '/'")
	}

	return nil
}
