// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Trade lifecycle settings
	PaymentWindow time.Duration // time the buyer has to send payment
	TradeTTL      time.Duration // hard expiry for a trade from creation
	SweepInterval time.Duration // how often the timeout sweeper runs

	// Security
	AdminAPIKey  string // key for admin endpoints (dispute resolution, sweeps)
	RateLimitRPM int    // requests per minute per client

	// Observability
	OTLPEndpoint string // OpenTelemetry collector endpoint (optional)
}

// Defaults
const (
	DefaultPort          = "8080"
	DefaultEnv           = "development"
	DefaultLogLevel      = "info"
	DefaultPaymentWindow = 30 * time.Minute
	DefaultTradeTTL      = 2 * time.Hour
	DefaultSweepInterval = time.Minute
	DefaultRateLimit     = 120
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:          getEnv("PORT", DefaultPort),
		Env:           getEnv("ENV", DefaultEnv),
		LogLevel:      getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		PaymentWindow: getEnvDuration("PAYMENT_WINDOW", DefaultPaymentWindow),
		TradeTTL:      getEnvDuration("TRADE_TTL", DefaultTradeTTL),
		SweepInterval: getEnvDuration("SWEEP_INTERVAL", DefaultSweepInterval),
		AdminAPIKey:   os.Getenv("ADMIN_API_KEY"),
		RateLimitRPM:  int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
		OTLPEndpoint:  os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.PaymentWindow <= 0 {
		return fmt.Errorf("PAYMENT_WINDOW must be positive")
	}
	if c.TradeTTL < c.PaymentWindow {
		return fmt.Errorf("TRADE_TTL must be at least PAYMENT_WINDOW")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	if c.IsProduction() && c.AdminAPIKey == "" {
		return fmt.Errorf("ADMIN_API_KEY is required in production")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
