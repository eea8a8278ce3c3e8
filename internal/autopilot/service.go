package autopilot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/animus-labs/autopilot/internal/platform/auditlog"
	"github.com/animus-labs/autopilot/internal/platform/requestid"
	"github.com/animus-labs/autopilot/internal/repo"
	"github.com/animus-labs/autopilot/internal/risk"
	"github.com/animus-labs/autopilot/internal/tools"
)

// Service is the entry point for every autopilot operation. Company scoping is
// an explicit argument on each call.
type Service struct {
	Runs      repo.RunRepository
	Actions   repo.ActionRepository
	Admins    AdminChecker
	Audit     repo.AuditAppender
	Evaluator *risk.Evaluator
	Tools     *tools.Registry
	Executor  *Executor
	Logger    *slog.Logger
	Now       func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.New(slog.DiscardHandler)
}

// appendAudit records a committed transition. A failed write is logged; the
// transition itself stands.
func (s *Service) appendAudit(ctx context.Context, caller Caller, companyID, action, resourceType, resourceID string, payload map[string]any) {
	if s.Audit == nil {
		return
	}
	event := auditlog.Event{
		OccurredAt:   s.now(),
		CompanyID:    companyID,
		Actor:        caller.actor(),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		IP:           caller.IP,
		UserAgent:    caller.UserAgent,
		Payload:      payload,
	}
	if rid, ok := requestid.FromContext(ctx); ok {
		event.RequestID = rid
	}
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if _, err := s.Audit.Append(auditCtx, event); err != nil {
		s.logger().Error("audit append failed", "action", action, "company_id", companyID, "resource_id", resourceID, "error", err)
	}
}

func mapStoreErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}
