package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 60*time.Second, cfg.Workflow.HITLWaitTimeout)
	assert.Equal(t, 2, cfg.Workflow.MaxHITLRounds)
	assert.Equal(t, 10, cfg.Workflow.RateLimit)
	assert.Equal(t, time.Minute, cfg.Workflow.RateLimitWindow)
	assert.Empty(t, cfg.Auth.JWTSecret)
	assert.False(t, cfg.Telemetry.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
  read_timeout: 10s
database:
  driver: postgres
  dsn: "host=localhost user=auditflow dbname=auditflow"
workflow:
  policy_timeout: 5s
  max_hitl_rounds: 3
log:
  level: debug
  development: true
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5*time.Second, cfg.Workflow.PolicyTimeout)
	assert.Equal(t, 3, cfg.Workflow.MaxHITLRounds)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Development)

	// Fields not in the file keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 25*time.Second, cfg.Workflow.EvidenceTimeout)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a mapping"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config file")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AUDITFLOW_SERVER_ADDR", ":7070")
	t.Setenv("AUDITFLOW_DB_DSN", "override.db")
	t.Setenv("AUDITFLOW_REDIS_ADDR", "redis.internal:6379")
	t.Setenv("AUDITFLOW_JWT_SECRET", "env-secret")
	t.Setenv("AUDITFLOW_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("AUDITFLOW_RATE_LIMIT", "25")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, "override.db", cfg.Database.DSN)
	assert.True(t, cfg.Redis.Enabled, "setting a redis address enables redis")
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	assert.Equal(t, "env-secret", cfg.Auth.JWTSecret)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "collector:4317", cfg.Telemetry.OTLPEndpoint)
	assert.Equal(t, 25, cfg.Workflow.RateLimit)
}

func TestEnvRateLimitIgnoresGarbage(t *testing.T) {
	t.Setenv("AUDITFLOW_RATE_LIMIT", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Workflow.RateLimit)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "unsupported database driver"},
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }, "dsn is required"},
		{"negative hitl rounds", func(c *Config) { c.Workflow.MaxHITLRounds = -1 }, "max_hitl_rounds"},
		{"zero rate limit", func(c *Config) { c.Workflow.RateLimit = 0 }, "rate_limit must be positive"},
		{"zero rate limit window", func(c *Config) { c.Workflow.RateLimitWindow = 0 }, "rate_limit_window"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidateAllowsInMemoryStore(t *testing.T) {
	cfg := Default()
	cfg.Database.Driver = ""
	cfg.Database.DSN = ""
	require.NoError(t, cfg.Validate())
}
