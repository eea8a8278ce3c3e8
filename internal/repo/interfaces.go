package repo

import (
	"context"
	"time"

	"github.com/animus-labs/autopilot/internal/domain"
	"github.com/animus-labs/autopilot/internal/platform/auditlog"
)

type RunFilter struct {
	CompanyID string
	Status    domain.RunStatus
	Limit     int
}

// RunDecision is a conditional run transition with a cascade over its actions.
// It applies only when the run is in one of FromStatuses and not locked.
type RunDecision struct {
	RunID         string
	FromStatuses  []domain.RunStatus
	ToStatus      domain.RunStatus
	Phase         domain.RunPhase
	Actor         string
	Note          string
	At            time.Time
	StampApproval bool

	CascadeFrom domain.ActionStatus
	CascadeTo   domain.ActionStatus
}

// ActionDecision is a conditional single-action override.
type ActionDecision struct {
	ActionID     string
	FromStatuses []domain.ActionStatus
	ToStatus     domain.ActionStatus
	Actor        string
	At           time.Time
	// Approve stamps approved_by/approved_at; otherwise the stamp is cleared.
	Approve bool
}

// RunFinalization is written at the end of an execution pass by the lock holder.
// A zero CompletedAt leaves completed_at unset.
type RunFinalization struct {
	LockToken   string
	Status      domain.RunStatus
	Phase       domain.RunPhase
	Metrics     domain.RunMetrics
	CompletedAt time.Time
	At          time.Time
}

// RunRepository persists runs, their lock and their lifecycle transitions.
type RunRepository interface {
	CreateRun(ctx context.Context, run domain.Run, actions []domain.Action) error
	GetRun(ctx context.Context, companyID, id string) (domain.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]domain.Run, error)
	ApplyRunDecision(ctx context.Context, companyID string, decision RunDecision) (domain.Run, error)
	FinalizeRun(ctx context.Context, companyID, runID string, fin RunFinalization) error

	// AcquireLock sets the lock token when the run is free or its lock was taken
	// before staleBefore. A zero staleBefore disables takeover.
	AcquireLock(ctx context.Context, companyID, runID, token string, now, staleBefore time.Time) (bool, error)
	// RefreshLock moves execution_locked_at to now while token still holds the
	// lock, and reports whether it does.
	RefreshLock(ctx context.Context, companyID, runID, token string, now time.Time) (bool, error)
	// ReleaseLock clears the lock only when token holds it.
	ReleaseLock(ctx context.Context, companyID, runID, token string) error

	// ListExecutableRuns returns approved, unlocked runs across companies, oldest first.
	ListExecutableRuns(ctx context.Context, limit int) ([]domain.Run, error)
}

// ActionRepository persists the actions of a run.
type ActionRepository interface {
	ListActions(ctx context.Context, companyID, runID string) ([]domain.Action, error)
	GetAction(ctx context.Context, companyID, id string) (domain.Action, error)
	ApplyActionDecision(ctx context.Context, companyID string, decision ActionDecision) (domain.Action, error)
	// UpdateAction writes the execution fields of an action: status, risk,
	// requires_approval, rollback metadata, result, error and executed_at.
	UpdateAction(ctx context.Context, companyID string, action domain.Action) error
}

// MembershipReader answers which role a subject holds in a company.
type MembershipReader interface {
	Role(ctx context.Context, companyID, subject string) (string, bool, error)
}

// AuditAppender ensures append-only audit writes.
type AuditAppender interface {
	Append(ctx context.Context, event auditlog.Event) (int64, error)
}
