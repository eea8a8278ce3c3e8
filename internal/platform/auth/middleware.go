package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/animus-labs/autopilot/internal/platform/httpserver"
	"github.com/animus-labs/autopilot/internal/platform/requestid"
)

type AuthorizeFunc func(r *http.Request, identity Identity) error

// DenyEvent describes a request the middleware refused.
type DenyEvent struct {
	Time       time.Time
	Status     int
	Reason     string
	Error      string
	RequestID  string
	Method     string
	Path       string
	Subject    string
	Email      string
	Roles      []string
	CompanyID  string
	RemoteAddr string
	UserAgent  string
}

type AuditFunc func(ctx context.Context, event DenyEvent) error

// Middleware authenticates, authorizes and scopes a request to a company.
// It must wrap individual routes (not the mux) so path values are populated.
type Middleware struct {
	Logger         *slog.Logger
	Authenticator  Authenticator
	Authorize      AuthorizeFunc
	CompanyResolve CompanyResolver
	Audit          AuditFunc
	SkipPrefixes   []string
}

// denial carries the response for a refused request.
type denial struct {
	status int
	reason string
	code   string
	err    error
}

func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range m.SkipPrefixes {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}
		identity, ctx, d := m.admit(r)
		if d != nil {
			m.deny(w, r, identity, *d)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// admit runs authentication, role checks and company scoping in that order.
func (m Middleware) admit(r *http.Request) (Identity, context.Context, *denial) {
	identity, err := m.Authenticator.Authenticate(r.Context(), r)
	if err != nil {
		d := denial{status: http.StatusUnauthorized, reason: "invalid_token", code: "invalid_token", err: err}
		if errors.Is(err, ErrUnauthenticated) {
			d.reason, d.code = "unauthenticated", "unauthorized"
		}
		return Identity{}, nil, &d
	}
	if m.Authorize != nil {
		if err := m.Authorize(r, identity); err != nil {
			return identity, nil, &denial{status: http.StatusForbidden, reason: "forbidden", code: "forbidden", err: err}
		}
	}

	ctx := r.Context()
	if m.CompanyResolve != nil {
		companyID, err := m.CompanyResolve(r, identity)
		switch {
		case errors.Is(err, ErrCompanyForbidden):
			return identity, nil, &denial{status: http.StatusForbidden, reason: "company_forbidden", code: "company_forbidden", err: err}
		case err != nil:
			return identity, nil, &denial{status: http.StatusBadRequest, reason: "company_id_required", code: "company_id_required", err: err}
		case companyID != "":
			ctx = ContextWithCompanyID(ctx, companyID)
		}
	}
	return identity, ContextWithIdentity(ctx, identity), nil
}

func (m Middleware) deny(w http.ResponseWriter, r *http.Request, identity Identity, d denial) {
	event := DenyEvent{
		Time:       time.Now().UTC(),
		Status:     d.status,
		Reason:     d.reason,
		Error:      d.err.Error(),
		RequestID:  r.Header.Get(requestid.Header),
		Method:     r.Method,
		Path:       r.URL.Path,
		Subject:    identity.Subject,
		Email:      identity.Email,
		Roles:      identity.Roles,
		CompanyID:  CompanyIDFromRequest(r),
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	}
	if m.Logger != nil {
		m.Logger.Warn("auth deny",
			"reason", event.Reason,
			"status", event.Status,
			"request_id", event.RequestID,
			"method", event.Method,
			"path", event.Path,
			"subject", event.Subject,
			"company_id", event.CompanyID,
			"error", event.Error,
		)
	}
	if m.Audit != nil {
		if err := m.Audit(r.Context(), event); err != nil && m.Logger != nil {
			m.Logger.Warn("audit deny failed", "request_id", event.RequestID, "error", err.Error())
		}
	}
	httpserver.WriteError(w, r, d.status, d.code, nil)
}

// RequireRole authorizes identities holding at least role, whatever the method.
func RequireRole(role string) AuthorizeFunc {
	return func(r *http.Request, identity Identity) error {
		if HasAtLeast(identity.Roles, role) {
			return nil
		}
		return ErrForbidden
	}
}
