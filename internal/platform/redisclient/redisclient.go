package redisclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/autopilot/internal/platform/env"
	"github.com/redis/go-redis/v9"
)

// Config controls the optional Redis connection used to cache risk policies.
// An empty Addr disables the cache.
type Config struct {
	Addr      string
	Password  string
	DB        int
	PolicyTTL time.Duration
	KeyPrefix string
}

func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

func ConfigFromEnv() (Config, error) {
	db, err := env.Int("AUTOPILOT_REDIS_DB", 0)
	if err != nil {
		return Config{}, err
	}
	ttl, err := env.Duration("AUTOPILOT_REDIS_POLICY_TTL", time.Minute)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Addr:      env.String("AUTOPILOT_REDIS_ADDR", ""),
		Password:  env.String("AUTOPILOT_REDIS_PASSWORD", ""),
		DB:        db,
		PolicyTTL: ttl,
		KeyPrefix: env.String("AUTOPILOT_REDIS_KEY_PREFIX", "autopilot:"),
	}
	if !cfg.Enabled() {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("addr is required")
	}
	if c.DB < 0 {
		return errors.New("db must be >= 0")
	}
	if c.PolicyTTL <= 0 {
		return errors.New("policy ttl must be positive")
	}
	return nil
}

// Open connects and pings.
func Open(ctx context.Context, cfg Config) (*redis.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return rdb, nil
}
