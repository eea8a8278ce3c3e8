package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

type ctxKeyCompanyID struct{}

// ErrCompanyRequired indicates a missing company scope for a request.
var ErrCompanyRequired = errors.New("company_id_required")

// ErrCompanyForbidden indicates the identity is not scoped to the requested company.
var ErrCompanyForbidden = errors.New("company_forbidden")

// CompanyResolver extracts the tenant for the request.
type CompanyResolver func(r *http.Request, identity Identity) (string, error)

func ContextWithCompanyID(ctx context.Context, companyID string) context.Context {
	return context.WithValue(ctx, ctxKeyCompanyID{}, strings.TrimSpace(companyID))
}

func CompanyIDFromContext(ctx context.Context) (string, bool) {
	value, ok := ctx.Value(ctxKeyCompanyID{}).(string)
	return strings.TrimSpace(value), ok && strings.TrimSpace(value) != ""
}

// CompanyIDFromRequest checks the path parameter, then the X-Company-Id header.
func CompanyIDFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if v := strings.TrimSpace(r.PathValue("company_id")); v != "" {
		return v
	}
	return strings.TrimSpace(r.Header.Get("X-Company-Id"))
}

// RequireCompanyResolver enforces company scoping for requests except listed prefixes.
func RequireCompanyResolver(skipPrefixes []string) CompanyResolver {
	return func(r *http.Request, identity Identity) (string, error) {
		for _, prefix := range skipPrefixes {
			if strings.HasPrefix(r.URL.Path, prefix) {
				return "", nil
			}
		}
		companyID := CompanyIDFromRequest(r)
		if companyID == "" {
			return "", ErrCompanyRequired
		}
		if !identity.MemberOf(companyID) {
			return "", ErrCompanyForbidden
		}
		return companyID, nil
	}
}
