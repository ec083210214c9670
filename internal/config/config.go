// Package config loads server settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Addr string `env:"ADDR" envDefault:":8080"`

	AuthMode   string        `env:"AUTH_MODE" envDefault:"sqlite"`
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"720h"`

	LedgerMode string `env:"LEDGER_MODE" envDefault:"sqlite"`

	// Shared sqlite path; ledger and auth keep their own tables inside it.
	LocalDatabasePath string `env:"LOCAL_DATABASE_PATH"`
	DatabaseURL       string `env:"DATABASE_URL"`

	AdminUsername string `env:"ADMIN_USERNAME"`
	AdminPassword string `env:"ADMIN_PASSWORD"`
	AdminAPIKey   string `env:"ADMIN_API_KEY"`

	ReapInterval     time.Duration `env:"REAP_INTERVAL" envDefault:"30s"`
	IdleTableTimeout time.Duration `env:"IDLE_TABLE_TIMEOUT" envDefault:"5m"`

	StartingBalance int64 `env:"STARTING_BALANCE" envDefault:"10000"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.ReapInterval <= 0 {
		return Config{}, fmt.Errorf("REAP_INTERVAL must be positive, got %s", cfg.ReapInterval)
	}
	if cfg.IdleTableTimeout <= 0 {
		return Config{}, fmt.Errorf("IDLE_TABLE_TIMEOUT must be positive, got %s", cfg.IdleTableTimeout)
	}
	if cfg.StartingBalance < 0 {
		return Config{}, fmt.Errorf("STARTING_BALANCE must not be negative, got %d", cfg.StartingBalance)
	}
	return cfg, nil
}
