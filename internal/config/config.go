// Package config loads server settings from the environment (and an optional
// .env file) and the game catalog from an optional file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/DoyleJ11/lordfarm/internal/engine"
)

type Config struct {
	// HTTPAddr is where the event/intent API listens.
	HTTPAddr string `env:"LORDFARM_HTTP_ADDR" envDefault:":8080"`
	// DatabaseURL is the Postgres DSN. Empty runs without persistence.
	DatabaseURL string `env:"DATABASE_URL"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	// LogFormat is json or console.
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	GracePeriod      time.Duration `env:"GRACE_PERIOD" envDefault:"3m"`
	WarnThreshold    int           `env:"WARN_THRESHOLD" envDefault:"3"`
	AnnounceInterval time.Duration `env:"ANNOUNCE_INTERVAL" envDefault:"3m"`
	IdleTimeout      time.Duration `env:"IDLE_TIMEOUT" envDefault:"15m"`
	SweepInterval    time.Duration `env:"SWEEP_INTERVAL" envDefault:"30s"`

	// CatalogPath points at a TOML/YAML/JSON file overriding the built-in
	// presets and character roster.
	CatalogPath string `env:"LORDFARM_CATALOG"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"false"`
}

// Load reads .env (if present) and then the environment. Variables already
// set in the environment win over .env.
func Load() (*Config, error) {
	_ = godotenv.Load() // missing .env is fine

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: LORDFARM_HTTP_ADDR must be set")
	}
	if c.WarnThreshold < 1 {
		return errors.New("config: WARN_THRESHOLD must be at least 1")
	}
	if c.GracePeriod <= 0 {
		return errors.New("config: GRACE_PERIOD must be positive")
	}
	if c.SweepInterval <= 0 {
		return errors.New("config: SWEEP_INTERVAL must be positive")
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "console":
	default:
		return fmt.Errorf("config: LOG_FORMAT must be json or console, got %q", c.LogFormat)
	}
	return nil
}

// Rules turns the discipline settings into engine rules for catalog.
func (c *Config) Rules(catalog engine.Catalog) engine.Rules {
	return engine.Rules{
		GracePeriod:      c.GracePeriod,
		WarnThreshold:    c.WarnThreshold,
		AnnounceInterval: c.AnnounceInterval,
		IdleTimeout:      c.IdleTimeout,
		Catalog:          catalog,
	}
}
