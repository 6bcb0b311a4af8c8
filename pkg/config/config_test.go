package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/config"
)

// TestLoad_Defaults verifies that Load() returns sensible defaults
// when no environment variables are set.
// Invariant: a bare node boots with in-memory infrastructure.
func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("ATTEST_URL", "")
	t.Setenv("GOVERNANCE_PROFILE", "")
	t.Setenv("OTLP_ENDPOINT", "")
	t.Setenv("RATE_LIMIT_RPS", "")
	t.Setenv("RATE_LIMIT_BURST", "")

	cfg := config.Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.RedisAddr)
	assert.Empty(t, cfg.AttestURL)
	assert.Equal(t, 20, cfg.RateLimitRPS)
	assert.Equal(t, 40, cfg.RateLimitBurst)
}

// TestLoad_Overrides verifies that environment variables correctly
// override default values.
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("DATABASE_URL", "postgres://production:5432/s2do")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("ATTEST_URL", "https://ledger.coaching2100.com")
	t.Setenv("GOVERNANCE_PROFILE", "/etc/s2do/profile.yaml")
	t.Setenv("OTLP_ENDPOINT", "collector:4317")
	t.Setenv("RATE_LIMIT_RPS", "100")
	t.Setenv("RATE_LIMIT_BURST", "200")

	cfg := config.Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "postgres://production:5432/s2do", cfg.DatabaseURL)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, "https://ledger.coaching2100.com", cfg.AttestURL)
	assert.Equal(t, "/etc/s2do/profile.yaml", cfg.GovernanceProfile)
	assert.Equal(t, "collector:4317", cfg.OTLPEndpoint)
	assert.Equal(t, 100, cfg.RateLimitRPS)
	assert.Equal(t, 200, cfg.RateLimitBurst)
}

// TestLoad_BadRateLimits verifies that unparsable or non-positive limits
// fall back to defaults.
func TestLoad_BadRateLimits(t *testing.T) {
	t.Setenv("RATE_LIMIT_RPS", "not-a-number")
	t.Setenv("RATE_LIMIT_BURST", "-5")

	cfg := config.Load()

	assert.Equal(t, 20, cfg.RateLimitRPS)
	assert.Equal(t, 40, cfg.RateLimitBurst)
}
