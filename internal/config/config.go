// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Deployment environments.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// Config is the process configuration.
type Config struct {
	Environment  string        `env:"APP_ENV" envDefault:"development"`
	Port         int           `env:"PORT" envDefault:"3000"`
	LogLevel     string        `env:"LOG_LEVEL" envDefault:"debug"`
	DatabasePath string        `env:"DATABASE_PATH" envDefault:"authoritative.db"`
	ValkeyURL    string        `env:"VALKEY_URL"`
	AuthTimeout  time.Duration `env:"AUTH_TIMEOUT" envDefault:"30s"`

	RateLimitPerSecond float64 `env:"RATE_LIMIT_PER_SECOND" envDefault:"100"`
	RateLimitBurst     int     `env:"RATE_LIMIT_BURST" envDefault:"200"`
	RateLimitEnabled   bool    `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses and validates Config.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the server cannot run with.
func (c Config) Validate() error {
	switch c.Environment {
	case EnvDevelopment, EnvProduction, EnvTest:
	default:
		return fmt.Errorf("invalid APP_ENV %q: expected development, production or test", c.Environment)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if c.AuthTimeout <= 0 {
		return fmt.Errorf("AUTH_TIMEOUT must be positive, got %s", c.AuthTimeout)
	}
	if c.RateLimitEnabled && (c.RateLimitPerSecond <= 0 || c.RateLimitBurst <= 0) {
		return fmt.Errorf("rate limit requires positive RATE_LIMIT_PER_SECOND and RATE_LIMIT_BURST")
	}
	return nil
}

// Production reports whether the server runs in production.
func (c Config) Production() bool {
	return c.Environment == EnvProduction
}

// Addr is the HTTP listen address.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
