package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// tokenVerifier is the subset of *oidc.IDTokenVerifier the authenticator needs.
type tokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)
}

// OIDCAuthenticator verifies bearer ID tokens issued by the configured provider.
type OIDCAuthenticator struct {
	cfg      Config
	verifier tokenVerifier
	claims   func(*oidc.IDToken) (map[string]any, error)
}

func NewOIDCAuthenticator(ctx context.Context, cfg Config) (*OIDCAuthenticator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode != ModeOIDC {
		return nil, fmt.Errorf("auth mode must be oidc (got %q)", cfg.Mode)
	}

	provider, err := oidc.NewProvider(ctx, cfg.OIDCIssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}
	return &OIDCAuthenticator{
		cfg:      cfg,
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.OIDCClientID}),
		claims:   idTokenClaims,
	}, nil
}

func (a *OIDCAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	rawToken := tokenFromHeader(r)
	if rawToken == "" {
		return Identity{}, ErrUnauthenticated
	}

	idToken, err := a.verifier.Verify(ctx, rawToken)
	if err != nil {
		return Identity{}, err
	}
	claims, err := a.claims(idToken)
	if err != nil {
		return Identity{}, err
	}
	return identityFromClaims(a.cfg, claims), nil
}

func idTokenClaims(token *oidc.IDToken) (map[string]any, error) {
	var claims map[string]any
	if err := token.Claims(&claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func identityFromClaims(cfg Config, claims map[string]any) Identity {
	subject, _ := claims["sub"].(string)
	return Identity{
		Subject:   subject,
		Email:     extractStringClaim(claims, cfg.EmailClaim),
		Roles:     extractListClaim(claims, cfg.RolesClaim),
		Companies: extractListClaim(claims, cfg.CompaniesClaim),
	}
}

func tokenFromHeader(r *http.Request) string {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return ""
	}
	parts := strings.SplitN(authz, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func extractStringClaim(claims map[string]any, key string) string {
	v, ok := claims[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func extractListClaim(claims map[string]any, key string) []string {
	v, ok := claims[key]
	if !ok {
		return nil
	}
	switch typed := v.(type) {
	case []any:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			if s, ok := item.(string); ok {
				items = append(items, s)
			}
		}
		return normalizeList(items)
	case []string:
		return normalizeList(typed)
	case string:
		return normalizeList(strings.Split(typed, ","))
	default:
		return nil
	}
}
