package auth

import (
	"context"
	"strings"
)

// AnyCompany in Identity.Companies grants access to every company.
const AnyCompany = "*"

type Identity struct {
	Subject   string
	Email     string
	Roles     []string
	Companies []string
}

// MemberOf reports whether the identity is scoped to companyID.
func (i Identity) MemberOf(companyID string) bool {
	companyID = strings.ToLower(strings.TrimSpace(companyID))
	if companyID == "" {
		return false
	}
	for _, c := range i.Companies {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == AnyCompany || c == companyID {
			return true
		}
	}
	return false
}

type ctxKeyIdentity struct{}

func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(ctxKeyIdentity{}).(Identity)
	return v, ok
}
