// Package auth authenticates API callers and scopes them to companies.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/autopilot/internal/platform/env"
)

type Mode string

const (
	ModeOIDC     Mode = "oidc"
	ModeDev      Mode = "dev"
	ModeDisabled Mode = "disabled"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Config selects how identities are established. Claim names apply to OIDC
// tokens; the Dev fields describe the fixed identity of dev mode.
type Config struct {
	Mode Mode

	RolesClaim     string
	EmailClaim     string
	CompaniesClaim string

	OIDCIssuerURL string
	OIDCClientID  string

	DevSubject   string
	DevEmail     string
	DevRoles     []string
	DevCompanies []string
}

func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Mode:           Mode(strings.ToLower(strings.TrimSpace(env.String("AUTH_MODE", string(ModeOIDC))))),
		RolesClaim:     env.String("AUTH_ROLES_CLAIM", "roles"),
		EmailClaim:     env.String("AUTH_EMAIL_CLAIM", "email"),
		CompaniesClaim: env.String("AUTH_COMPANIES_CLAIM", "companies"),
		OIDCIssuerURL:  env.String("OIDC_ISSUER_URL", ""),
		OIDCClientID:   env.String("OIDC_CLIENT_ID", ""),
		DevSubject:     env.String("DEV_AUTH_SUBJECT", "dev-user"),
		DevEmail:       env.String("DEV_AUTH_EMAIL", "dev-user@example.local"),
		DevRoles:       normalizeList(env.CSV("DEV_AUTH_ROLES", []string{RoleAdmin})),
		DevCompanies:   normalizeList(env.CSV("DEV_AUTH_COMPANIES", []string{AnyCompany})),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	for name, value := range map[string]string{
		"AUTH_ROLES_CLAIM":     c.RolesClaim,
		"AUTH_EMAIL_CLAIM":     c.EmailClaim,
		"AUTH_COMPANIES_CLAIM": c.CompaniesClaim,
	} {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	switch c.Mode {
	case ModeOIDC:
		if strings.TrimSpace(c.OIDCIssuerURL) == "" || strings.TrimSpace(c.OIDCClientID) == "" {
			return errors.New("OIDC_ISSUER_URL and OIDC_CLIENT_ID are required when AUTH_MODE=oidc")
		}
	case ModeDev:
		if strings.TrimSpace(c.DevSubject) == "" {
			return errors.New("DEV_AUTH_SUBJECT is required when AUTH_MODE=dev")
		}
		if len(c.DevRoles) == 0 {
			return errors.New("DEV_AUTH_ROLES must be non-empty when AUTH_MODE=dev")
		}
	case ModeDisabled:
	default:
		return fmt.Errorf("AUTH_MODE must be one of: oidc, dev, disabled (got %q)", c.Mode)
	}
	return nil
}

// NewAuthenticator builds the authenticator for cfg.Mode. Disabled mode
// treats every request as a global admin and is meant for local runs only.
func NewAuthenticator(ctx context.Context, cfg Config) (Authenticator, error) {
	switch cfg.Mode {
	case ModeOIDC:
		return NewOIDCAuthenticator(ctx, cfg)
	case ModeDev:
		return StaticAuthenticator{Identity: Identity{
			Subject:   cfg.DevSubject,
			Email:     cfg.DevEmail,
			Roles:     cfg.DevRoles,
			Companies: cfg.DevCompanies,
		}}, nil
	case ModeDisabled:
		return StaticAuthenticator{Identity: Identity{
			Subject:   "anonymous",
			Roles:     []string{RoleAdmin},
			Companies: []string{AnyCompany},
		}}, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.Mode)
	}
}

// normalizeList lowercases items and drops blanks and duplicates.
func normalizeList(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		item = strings.ToLower(strings.TrimSpace(item))
		if _, dup := seen[item]; item == "" || dup {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
