package gateway

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/animus-labs/autopilot/internal/platform/env"
)

// Config for the HTTP gateway. An empty BaseURL selects the in-memory gateway.
type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Timeout      time.Duration
	RateLimit    float64
	Burst        int
}

func (c Config) Enabled() bool {
	return strings.TrimSpace(c.BaseURL) != ""
}

func ConfigFromEnv() (Config, error) {
	timeout, err := env.Duration("AUTOPILOT_GATEWAY_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}
	rateLimit, err := env.Float("AUTOPILOT_GATEWAY_RATE_LIMIT", 10)
	if err != nil {
		return Config{}, err
	}
	burst, err := env.Int("AUTOPILOT_GATEWAY_BURST", 5)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		BaseURL:      strings.TrimRight(strings.TrimSpace(env.String("AUTOPILOT_GATEWAY_URL", "")), "/"),
		TokenURL:     strings.TrimSpace(env.String("AUTOPILOT_GATEWAY_TOKEN_URL", "")),
		ClientID:     strings.TrimSpace(env.String("AUTOPILOT_GATEWAY_CLIENT_ID", "")),
		ClientSecret: env.String("AUTOPILOT_GATEWAY_CLIENT_SECRET", ""),
		Scopes:       env.CSV("AUTOPILOT_GATEWAY_SCOPES", nil),
		Timeout:      timeout,
		RateLimit:    rateLimit,
		Burst:        burst,
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
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("AUTOPILOT_GATEWAY_URL must be an absolute url")
	}
	if c.TokenURL != "" && (c.ClientID == "" || c.ClientSecret == "") {
		return errors.New("AUTOPILOT_GATEWAY_CLIENT_ID and AUTOPILOT_GATEWAY_CLIENT_SECRET are required with a token url")
	}
	if c.Timeout <= 0 {
		return errors.New("AUTOPILOT_GATEWAY_TIMEOUT must be positive")
	}
	if c.RateLimit < 0 {
		return errors.New("AUTOPILOT_GATEWAY_RATE_LIMIT must be >= 0")
	}
	if c.RateLimit > 0 && c.Burst < 1 {
		return errors.New("AUTOPILOT_GATEWAY_BURST must be >= 1")
	}
	return nil
}
