package bootstrap

import (
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/autopilot/internal/gateway"
	"github.com/animus-labs/autopilot/internal/platform/env"
	"github.com/animus-labs/autopilot/internal/platform/objectstore"
	"github.com/animus-labs/autopilot/internal/platform/postgres"
	"github.com/animus-labs/autopilot/internal/platform/redisclient"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config is everything needed to assemble the autopilot service graph.
type Config struct {
	Store             string
	StaleLockTTL      time.Duration
	PassTimeout       time.Duration
	FallbackTablePath string
	PolicyFilePath    string
	ReportPrefix      string

	Postgres    postgres.Config
	Redis       redisclient.Config
	ObjectStore objectstore.Config
	Gateway     gateway.Config
}

func ConfigFromEnv() (Config, error) {
	staleTTL, err := env.Duration("AUTOPILOT_STALE_LOCK_TTL", 30*time.Minute)
	if err != nil {
		return Config{}, err
	}
	passTimeout, err := env.Duration("AUTOPILOT_EXECUTION_PASS_TIMEOUT", 0)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Store:             strings.ToLower(strings.TrimSpace(env.String("AUTOPILOT_STORE", StorePostgres))),
		StaleLockTTL:      staleTTL,
		PassTimeout:       passTimeout,
		FallbackTablePath: strings.TrimSpace(env.String("AUTOPILOT_FALLBACK_TABLE_PATH", "")),
		PolicyFilePath:    strings.TrimSpace(env.String("AUTOPILOT_POLICY_FILE", "")),
		ReportPrefix:      env.String("AUTOPILOT_REPORT_PREFIX", "executions"),
	}
	if cfg.Store == StorePostgres {
		// Includes AUTOPILOT_DB_AUTO_MIGRATE.
		if cfg.Postgres, err = postgres.ConfigFromEnv(); err != nil {
			return Config{}, fmt.Errorf("postgres: %w", err)
		}
	}
	if cfg.Redis, err = redisclient.ConfigFromEnv(); err != nil {
		return Config{}, fmt.Errorf("redis: %w", err)
	}
	if cfg.ObjectStore, err = objectstore.ConfigFromEnv(); err != nil {
		return Config{}, fmt.Errorf("object store: %w", err)
	}
	if cfg.Gateway, err = gateway.ConfigFromEnv(); err != nil {
		return Config{}, fmt.Errorf("gateway: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Store {
	case StorePostgres, StoreMemory:
	default:
		return fmt.Errorf("AUTOPILOT_STORE must be one of: postgres, memory (got %q)", c.Store)
	}
	if c.StaleLockTTL < 0 {
		return fmt.Errorf("AUTOPILOT_STALE_LOCK_TTL must be >= 0")
	}
	if c.PassTimeout < 0 {
		return fmt.Errorf("AUTOPILOT_EXECUTION_PASS_TIMEOUT must be >= 0")
	}
	if c.PolicyFilePath != "" && c.Store == StorePostgres {
		return fmt.Errorf("AUTOPILOT_POLICY_FILE is only used with AUTOPILOT_STORE=memory")
	}
	return nil
}
