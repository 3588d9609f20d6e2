// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all runtime configuration. Every field maps to an env var.
type Config struct {
	// Server
	Env         string `mapstructure:"APP_ENV"`
	Port        int    `mapstructure:"PORT"`
	CORSOrigins string `mapstructure:"CORS_ORIGINS"` // comma separated

	// Storage
	DBPath string `mapstructure:"DB_PATH"` // ":memory:" for an ephemeral database

	// Logging
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"` // console | json
	LogOutput string `mapstructure:"LOG_OUTPUT"`

	// Ledger
	RetryMaxAttempts int           `mapstructure:"RETRY_MAX_ATTEMPTS"`
	RetryBaseDelay   time.Duration `mapstructure:"RETRY_BASE_DELAY"`
	RetryMaxDelay    time.Duration `mapstructure:"RETRY_MAX_DELAY"`
	AuditInterval    time.Duration `mapstructure:"AUDIT_INTERVAL"` // 0 disables the scheduler

	// Demo
	SeedScenario string `mapstructure:"SEED_SCENARIO"` // scenario id loaded on startup
}

// SetDefaults registers the defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("PORT", 8080)
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173,http://localhost:8080")
	v.SetDefault("DB_PATH", "chronos.db")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
	v.SetDefault("LOG_OUTPUT", "stdout")
	v.SetDefault("RETRY_MAX_ATTEMPTS", 3)
	v.SetDefault("RETRY_BASE_DELAY", "20ms")
	v.SetDefault("RETRY_MAX_DELAY", "500ms")
	v.SetDefault("AUDIT_INTERVAL", "1h")
	v.SetDefault("SEED_SCENARIO", "")
}

// Load reads configuration from environment variables (and optional .env
// file) through v. Flags bound to v with BindPFlag take precedence.
func Load(v *viper.Viper) (*Config, error) {
	// Optional .env file for local development; does not fail if missing
	_ = godotenv.Load()

	SetDefaults(v)
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be >= 1, got %d", c.RetryMaxAttempts)
	}
	if c.RetryBaseDelay < 0 || c.AuditInterval < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("DB_PATH is required")
	}
	return nil
}

// AllowedOrigins splits CORSOrigins.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
