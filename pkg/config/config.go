// Package config loads node configuration from 12-factor environment
// variables. Empty infrastructure addresses select in-memory fallbacks, so a
// bare `s2do-node` boots with no external services.
package config

import (
	"os"
	"strconv"
)

// Config holds server configuration.
type Config struct {
	Port     string
	LogLevel string

	// DatabaseURL selects the SQL stores; empty means in-memory.
	DatabaseURL string
	// RedisAddr selects the Redis claim store; empty means in-memory.
	RedisAddr string
	// AttestURL points at the external attestation ledger; empty means the
	// embedded hash-chained ledger.
	AttestURL string
	// GovernanceProfile is the path to a YAML policy profile; empty keeps the
	// built-in policy table and sensitivity rules.
	GovernanceProfile string
	// OTLPEndpoint enables telemetry export when set.
	OTLPEndpoint string

	RateLimitRPS   int
	RateLimitBurst int
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	return &Config{
		Port:              port,
		LogLevel:          logLevel,
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		AttestURL:         os.Getenv("ATTEST_URL"),
		GovernanceProfile: os.Getenv("GOVERNANCE_PROFILE"),
		OTLPEndpoint:      os.Getenv("OTLP_ENDPOINT"),
		RateLimitRPS:      envInt("RATE_LIMIT_RPS", 20),
		RateLimitBurst:    envInt("RATE_LIMIT_BURST", 40),
	}
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
