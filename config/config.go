// Package config provides unified configuration loading: defaults,
// overridden by a YAML file, overridden by environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Workflow  WorkflowConfig  `yaml:"workflow"`
	Auth      AuthConfig      `yaml:"auth"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig selects and configures the session store backend.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres"; empty selects the in-memory
	// store.
	Driver string `yaml:"driver"`
	// DSN is the driver-specific connection string. For sqlite it is the
	// database file path (":memory:" for ephemeral runs).
	DSN string `yaml:"dsn"`
}

// RedisConfig configures the rate limiter backend. When disabled, an
// in-process limiter is used instead.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// WorkflowConfig tunes the orchestration engine.
type WorkflowConfig struct {
	// Per-agent execution budgets.
	PolicyTimeout   time.Duration `yaml:"policy_timeout"`
	EvidenceTimeout time.Duration `yaml:"evidence_timeout"`
	VisionTimeout   time.Duration `yaml:"vision_timeout"`
	CodeTimeout     time.Duration `yaml:"code_timeout"`
	RiskTimeout     time.Duration `yaml:"risk_timeout"`
	CriticTimeout   time.Duration `yaml:"critic_timeout"`

	// HITLWaitTimeout bounds one human-in-the-loop round.
	HITLWaitTimeout time.Duration `yaml:"hitl_wait_timeout"`
	// MaxHITLRounds caps HITL rounds per run.
	MaxHITLRounds int `yaml:"max_hitl_rounds"`

	// RateLimit is the number of run requests allowed per client per
	// window.
	RateLimit       int           `yaml:"rate_limit"`
	RateLimitWindow time.Duration `yaml:"rate_limit_window"`
}

// AuthConfig configures optional JWT bearer auth on the API. When the
// secret is empty, auth is disabled.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// LogConfig configures logging output.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`
	// Development switches to the human-friendly console encoder.
	Development bool `yaml:"development"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "auditflow.db",
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
		},
		Workflow: WorkflowConfig{
			PolicyTimeout:   20 * time.Second,
			EvidenceTimeout: 25 * time.Second,
			VisionTimeout:   15 * time.Second,
			CodeTimeout:     20 * time.Second,
			RiskTimeout:     10 * time.Second,
			CriticTimeout:   15 * time.Second,
			HITLWaitTimeout: 60 * time.Second,
			MaxHITLRounds:   2,
			RateLimit:       10,
			RateLimitWindow: time.Minute,
		},
		Log: LogConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			ServiceName:  "auditflow",
			OTLPEndpoint: "localhost:4317",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path
// (skipped when path is empty), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides select fields from AUDITFLOW_* environment
// variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("AUDITFLOW_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("AUDITFLOW_DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("AUDITFLOW_DB_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("AUDITFLOW_REDIS_ADDR"); v != "" {
		c.Redis.Enabled = true
		c.Redis.Addr = v
	}
	if v := os.Getenv("AUDITFLOW_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("AUDITFLOW_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("AUDITFLOW_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("AUDITFLOW_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Enabled = true
		c.Telemetry.OTLPEndpoint = v
	}
	if v := os.Getenv("AUDITFLOW_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Workflow.RateLimit = n
		}
	}
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.Driver != "" && c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}
	if c.Workflow.MaxHITLRounds < 0 {
		return fmt.Errorf("max_hitl_rounds must not be negative")
	}
	if c.Workflow.RateLimit <= 0 {
		return fmt.Errorf("rate_limit must be positive")
	}
	if c.Workflow.RateLimitWindow <= 0 {
		return fmt.Errorf("rate_limit_window must be positive")
	}
	return nil
}
