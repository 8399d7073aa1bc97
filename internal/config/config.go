// Package config handles application configuration from environment variables
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration
type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	BaseURL     string `env:"BASE_URL" envDefault:"http://localhost:8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisAddr   string `env:"REDIS_ADDR"`

	// CacheWarmSecret guards the warm endpoint. Empty leaves it open.
	CacheWarmSecret string `env:"CACHE_WARM_SECRET"`

	RateLimit RateLimitConfig `envPrefix:"RATE_LIMIT_"`
	Cache     CacheConfig     `envPrefix:"CACHE_"`
}

// RateLimitConfig holds the default per-route-class limits. Individual route
// classes may override these at registration time.
type RateLimitConfig struct {
	AnonymousLimit     int `env:"ANON" envDefault:"20"`
	AuthenticatedLimit int `env:"AUTH" envDefault:"100"`
	WindowSeconds      int `env:"WINDOW_SECONDS" envDefault:"60"`
}

// CacheConfig holds the stale-while-revalidate TTLs (seconds).
type CacheConfig struct {
	TTLFreshSeconds int `env:"TTL_FRESH_SECONDS" envDefault:"300"`
	TTLStaleSeconds int `env:"TTL_STALE_SECONDS" envDefault:"3000"`
	PageTTLSeconds  int `env:"PAGE_TTL_SECONDS" envDefault:"60"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// HasRedis returns true if a shared key-value store is configured
func (c *Config) HasRedis() bool {
	return c.RedisAddr != ""
}

// HasDatabase returns true if the dataset backend is configured
func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}

// Validate ensures limits and windows are usable before anything is wired
func (c *Config) Validate() error {
	if c.RateLimit.AnonymousLimit <= 0 || c.RateLimit.AuthenticatedLimit <= 0 {
		return fmt.Errorf("rate limits must be positive, got anon=%d auth=%d",
			c.RateLimit.AnonymousLimit, c.RateLimit.AuthenticatedLimit)
	}
	if c.RateLimit.WindowSeconds <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW_SECONDS must be positive, got %d", c.RateLimit.WindowSeconds)
	}
	if c.Cache.TTLFreshSeconds <= 0 || c.Cache.TTLStaleSeconds < 0 {
		return fmt.Errorf("cache TTLs invalid: fresh=%d stale=%d",
			c.Cache.TTLFreshSeconds, c.Cache.TTLStaleSeconds)
	}
	return nil
}
