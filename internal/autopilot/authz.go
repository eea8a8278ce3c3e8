package autopilot

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/animus-labs/autopilot/internal/platform/auth"
	"github.com/animus-labs/autopilot/internal/repo"
)

// Caller is the principal on whose behalf an operation runs.
type Caller struct {
	Subject   string
	Email     string
	Roles     []string
	Companies []string

	IP        net.IP
	UserAgent string
}

// SystemSubject is the actor recorded for unattended execution.
const SystemSubject = "system:autopilot-sweeper"

func CallerFromIdentity(identity auth.Identity) Caller {
	return Caller{
		Subject:   identity.Subject,
		Email:     identity.Email,
		Roles:     identity.Roles,
		Companies: identity.Companies,
	}
}

// SystemCaller is an admin of every company.
func SystemCaller() Caller {
	return Caller{
		Subject:   SystemSubject,
		Roles:     []string{auth.RoleAdmin},
		Companies: []string{auth.AnyCompany},
	}
}

func (c Caller) identity() auth.Identity {
	return auth.Identity{Subject: c.Subject, Email: c.Email, Roles: c.Roles, Companies: c.Companies}
}

func (c Caller) MemberOf(companyID string) bool {
	return c.identity().MemberOf(companyID)
}

func (c Caller) actor() string {
	if strings.TrimSpace(c.Subject) != "" {
		return c.Subject
	}
	return c.Email
}

// AdminChecker decides whether a caller administers a company.
type AdminChecker interface {
	IsCompanyAdmin(ctx context.Context, caller Caller, companyID string) (bool, error)
}

// RoleAdminChecker trusts the token: an admin role plus company scope.
type RoleAdminChecker struct{}

func (RoleAdminChecker) IsCompanyAdmin(_ context.Context, caller Caller, companyID string) (bool, error) {
	return caller.MemberOf(companyID) && auth.HasAtLeast(caller.Roles, auth.RoleAdmin), nil
}

// MembershipAdminChecker reads the company membership table. Callers without
// a membership row fall back to Fallback when it is set.
type MembershipAdminChecker struct {
	Memberships repo.MembershipReader
	Fallback    AdminChecker
}

func (m MembershipAdminChecker) IsCompanyAdmin(ctx context.Context, caller Caller, companyID string) (bool, error) {
	if !caller.MemberOf(companyID) {
		return false, nil
	}
	if m.Memberships != nil && strings.TrimSpace(caller.Subject) != "" {
		role, ok, err := m.Memberships.Role(ctx, companyID, caller.Subject)
		if err != nil {
			return false, fmt.Errorf("membership lookup: %w", err)
		}
		if ok {
			return auth.Level(role) >= auth.Level(auth.RoleAdmin), nil
		}
	}
	if m.Fallback != nil {
		return m.Fallback.IsCompanyAdmin(ctx, caller, companyID)
	}
	return false, nil
}

func requireAdmin(ctx context.Context, admins AdminChecker, caller Caller, companyID string) error {
	if admins == nil {
		admins = RoleAdminChecker{}
	}
	ok, err := admins.IsCompanyAdmin(ctx, caller, companyID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

func requireMember(caller Caller, companyID string) error {
	if !caller.MemberOf(companyID) {
		return ErrUnauthorized
	}
	return nil
}
