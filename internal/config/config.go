package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/leonardcser/ttl-cache/internal/logger"
)

// Config represents the daemon and MCP server configuration.
type Config struct {
	// Unix socket the cache daemon listens on
	Socket string `env:"TTL_CACHE_SOCK"`

	// Directory holding one bolt file per namespace
	Dir string `env:"TTL_CACHE_DIR"`

	// Default TTL in seconds for entries set without one. Kept as text so that
	// a non-numeric value means "no default" instead of a startup failure.
	DefaultTTL string `env:"TTL_CACHE_DEFAULT_TTL"`

	// Prometheus listen address; empty disables the metrics server
	MetricsAddr string `env:"TTL_CACHE_METRICS_ADDR"`

	// TTLs used by the web-fetch and web-search consumers
	FetchTTL  time.Duration `env:"TTL_CACHE_FETCH_TTL" envDefault:"15m"`
	SearchTTL time.Duration `env:"TTL_CACHE_SEARCH_TTL" envDefault:"5m"`

	Log logger.Config
}

// Load reads the configuration from the environment and fills path defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}
	if cfg.Socket == "" {
		cfg.Socket = filepath.Join(baseDir(), "cache.sock")
	}
	if cfg.Dir == "" {
		cfg.Dir = baseDir()
	}
	return cfg, nil
}

// DefaultTTLSeconds returns the configured default TTL as a number of
// seconds, or nil when it is unset or not numeric.
func (c *Config) DefaultTTLSeconds() any {
	s := strings.TrimSpace(c.DefaultTTL)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return f
}

func baseDir() string {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "."
	}
	return filepath.Join(home, ".cache", "ttl-cache")
}
