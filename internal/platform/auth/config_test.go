package auth

import (
	"reflect"
	"testing"
)

func TestConfigFromEnvDevMode(t *testing.T) {
	t.Setenv("AUTH_MODE", "dev")
	t.Setenv("DEV_AUTH_ROLES", "Admin, viewer,admin")
	t.Setenv("DEV_AUTH_COMPANIES", "acme")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if !reflect.DeepEqual(cfg.DevRoles, []string{"admin", "viewer"}) {
		t.Fatalf("DevRoles=%v", cfg.DevRoles)
	}
	if !reflect.DeepEqual(cfg.DevCompanies, []string{"acme"}) {
		t.Fatalf("DevCompanies=%v", cfg.DevCompanies)
	}
}

func TestConfigFromEnvOIDCRequiresIssuer(t *testing.T) {
	t.Setenv("AUTH_MODE", "oidc")
	t.Setenv("OIDC_ISSUER_URL", "")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected error without issuer")
	}
}

func TestConfigFromEnvRejectsUnknownMode(t *testing.T) {
	t.Setenv("AUTH_MODE", "ldap")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestIdentityFromClaims(t *testing.T) {
	cfg := Config{RolesClaim: "roles", EmailClaim: "email", CompaniesClaim: "companies"}
	id := identityFromClaims(cfg, map[string]any{
		"sub":       "user-1",
		"email":     "u@example.test",
		"roles":     []any{"Admin", 7, " "},
		"companies": "acme, globex",
	})
	if id.Subject != "user-1" || id.Email != "u@example.test" {
		t.Fatalf("unexpected identity: %+v", id)
	}
	if !reflect.DeepEqual(id.Roles, []string{"admin"}) {
		t.Fatalf("Roles=%v", id.Roles)
	}
	if !reflect.DeepEqual(id.Companies, []string{"acme", "globex"}) {
		t.Fatalf("Companies=%v", id.Companies)
	}
}

func TestNewAuthenticatorStaticModes(t *testing.T) {
	dev, err := NewAuthenticator(t.Context(), Config{Mode: ModeDev, DevSubject: "dev", DevRoles: []string{"editor"}, DevCompanies: []string{"acme"}})
	if err != nil {
		t.Fatalf("NewAuthenticator(dev) err=%v", err)
	}
	id, _ := dev.Authenticate(t.Context(), nil)
	if id.Subject != "dev" || !id.MemberOf("acme") || id.MemberOf("globex") {
		t.Fatalf("unexpected dev identity: %+v", id)
	}

	disabled, err := NewAuthenticator(t.Context(), Config{Mode: ModeDisabled})
	if err != nil {
		t.Fatalf("NewAuthenticator(disabled) err=%v", err)
	}
	id, _ = disabled.Authenticate(t.Context(), nil)
	if !HasAtLeast(id.Roles, RoleAdmin) || !id.MemberOf("globex") {
		t.Fatalf("disabled mode should act as a global admin: %+v", id)
	}

	if _, err := NewAuthenticator(t.Context(), Config{Mode: "ldap"}); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
