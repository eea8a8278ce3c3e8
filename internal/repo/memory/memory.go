// Package memory is an in-process implementation of the run, action, membership
// and audit repositories. It backs dev mode and tests; state is lost on exit.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/animus-labs/autopilot/internal/domain"
	"github.com/animus-labs/autopilot/internal/platform/auditlog"
	"github.com/animus-labs/autopilot/internal/repo"
)

type Store struct {
	mu          sync.Mutex
	runs        map[string]domain.Run
	actions     map[string]domain.Action
	memberships map[string]string
	audit       []auditlog.Event
	now         func() time.Time
}

func New() *Store {
	return &Store{
		runs:        map[string]domain.Run{},
		actions:     map[string]domain.Action{},
		memberships: map[string]string{},
		now:         time.Now,
	}
}

// SetClock replaces the time source used for stamps the store generates itself.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) CreateRun(_ context.Context, run domain.Run, actions []domain.Action) error {
	if err := run.Validate(); err != nil {
		return err
	}
	for _, action := range actions {
		if err := action.Validate(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; ok {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.now().UTC()
	}
	run.UpdatedAt = run.CreatedAt
	run.Actions = nil
	s.runs[run.ID] = run
	for _, action := range actions {
		if action.CreatedAt.IsZero() {
			action.CreatedAt = run.CreatedAt
		}
		action.UpdatedAt = action.CreatedAt
		action.ToolParams = action.ToolParams.Clone()
		s.actions[action.ID] = action
	}
	return nil
}

func (s *Store) GetRun(_ context.Context, companyID, id string) (domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[strings.TrimSpace(id)]
	if !ok || run.CompanyID != strings.TrimSpace(companyID) {
		return domain.Run{}, repo.ErrNotFound
	}
	return run, nil
}

func (s *Store) ListRuns(_ context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	companyID := strings.TrimSpace(filter.CompanyID)
	if companyID == "" {
		return nil, errors.New("company id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Run, 0)
	for _, run := range s.runs {
		if run.CompanyID != companyID {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) ListExecutableRuns(_ context.Context, limit int) ([]domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Run, 0)
	for _, run := range s.runs {
		if run.Status == domain.RunApproved && !run.Locked() {
			out = append(out, run)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ApplyRunDecision(_ context.Context, companyID string, decision repo.RunDecision) (domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[decision.RunID]
	if !ok || run.CompanyID != companyID {
		return domain.Run{}, repo.ErrNotFound
	}
	if run.Locked() || !slices.Contains(decision.FromStatuses, run.Status) {
		return domain.Run{}, repo.ErrConflict
	}
	at := decision.At
	if at.IsZero() {
		at = s.now().UTC()
	}
	run.Status = decision.ToStatus
	run.Phase = decision.Phase
	if decision.StampApproval {
		run.ApprovedBy = decision.Actor
		run.ApprovedAt = &at
	}
	run.ApprovalNote = strings.TrimSpace(decision.Note)
	run.UpdatedAt = at
	s.runs[run.ID] = run

	if decision.CascadeTo != "" {
		for id, action := range s.actions {
			if action.RunID != run.ID || action.Status != decision.CascadeFrom {
				continue
			}
			action.Status = decision.CascadeTo
			if decision.CascadeTo == domain.ActionApproved {
				action.ApprovedBy = decision.Actor
				action.ApprovedAt = &at
			} else {
				action.ApprovedBy = ""
				action.ApprovedAt = nil
			}
			action.UpdatedAt = at
			s.actions[id] = action
		}
	}
	return run, nil
}

func (s *Store) FinalizeRun(_ context.Context, companyID, runID string, fin repo.RunFinalization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok || run.CompanyID != companyID {
		return repo.ErrNotFound
	}
	if run.ExecutionLockUUID != fin.LockToken {
		return repo.ErrConflict
	}
	at := fin.At
	if at.IsZero() {
		at = s.now().UTC()
	}
	metrics := fin.Metrics
	run.Status = fin.Status
	run.Phase = fin.Phase
	run.Metrics = &metrics
	run.CompletedAt = nil
	if !fin.CompletedAt.IsZero() {
		completedAt := fin.CompletedAt
		run.CompletedAt = &completedAt
	}
	run.UpdatedAt = at
	s.runs[runID] = run
	return nil
}

func (s *Store) AcquireLock(_ context.Context, companyID, runID, token string, now, staleBefore time.Time) (bool, error) {
	if strings.TrimSpace(token) == "" {
		return false, errors.New("lock token is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok || run.CompanyID != companyID {
		return false, nil
	}
	if run.Locked() {
		stale := !staleBefore.IsZero() && run.ExecutionLockedAt != nil && run.ExecutionLockedAt.Before(staleBefore)
		if !stale {
			return false, nil
		}
	}
	if now.IsZero() {
		now = s.now().UTC()
	}
	run.ExecutionLockUUID = token
	run.ExecutionLockedAt = &now
	run.UpdatedAt = now
	s.runs[runID] = run
	return true, nil
}

func (s *Store) RefreshLock(_ context.Context, companyID, runID, token string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok || run.CompanyID != companyID || token == "" || run.ExecutionLockUUID != token {
		return false, nil
	}
	if now.IsZero() {
		now = s.now().UTC()
	}
	run.ExecutionLockedAt = &now
	run.UpdatedAt = now
	s.runs[runID] = run
	return true, nil
}

func (s *Store) ReleaseLock(_ context.Context, companyID, runID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok || run.CompanyID != companyID || token == "" || run.ExecutionLockUUID != token {
		return nil
	}
	run.ExecutionLockUUID = ""
	run.ExecutionLockedAt = nil
	run.UpdatedAt = s.now().UTC()
	s.runs[runID] = run
	return nil
}

func (s *Store) ListActions(_ context.Context, companyID, runID string) ([]domain.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Action, 0)
	for _, action := range s.actions {
		if action.RunID == runID && action.CompanyID == companyID {
			out = append(out, cloneAction(action))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepOrder < out[j].StepOrder })
	return out, nil
}

func (s *Store) GetAction(_ context.Context, companyID, id string) (domain.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	action, ok := s.actions[id]
	if !ok || action.CompanyID != companyID {
		return domain.Action{}, repo.ErrNotFound
	}
	return cloneAction(action), nil
}

func (s *Store) ApplyActionDecision(_ context.Context, companyID string, decision repo.ActionDecision) (domain.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	action, ok := s.actions[decision.ActionID]
	if !ok || action.CompanyID != companyID {
		return domain.Action{}, repo.ErrConflict
	}
	if !slices.Contains(decision.FromStatuses, action.Status) {
		return domain.Action{}, repo.ErrConflict
	}
	at := decision.At
	if at.IsZero() {
		at = s.now().UTC()
	}
	action.Status = decision.ToStatus
	if decision.Approve {
		action.ApprovedBy = decision.Actor
		action.ApprovedAt = &at
	} else {
		action.ApprovedBy = ""
		action.ApprovedAt = nil
	}
	action.UpdatedAt = at
	s.actions[action.ID] = action
	return cloneAction(action), nil
}

func (s *Store) UpdateAction(_ context.Context, companyID string, update domain.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	action, ok := s.actions[update.ID]
	if !ok || action.CompanyID != companyID {
		return repo.ErrNotFound
	}
	action.Status = update.Status
	action.RequiresApproval = update.RequiresApproval
	action.RiskLevel = update.RiskLevel
	action.RollbackMetadata = update.RollbackMetadata.Clone()
	action.Result = update.Result.Clone()
	action.ErrorMessage = update.ErrorMessage
	action.ExecutedAt = update.ExecutedAt
	action.UpdatedAt = update.UpdatedAt
	if action.UpdatedAt.IsZero() {
		action.UpdatedAt = s.now().UTC()
	}
	s.actions[action.ID] = action
	return nil
}

// PutAction overwrites an action as-is. Tests use it to seed states such as an
// abandoned executing action.
func (s *Store) PutAction(action domain.Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[action.ID] = cloneAction(action)
}

func (s *Store) SetMembership(companyID, subject, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberships[membershipKey(companyID, subject)] = strings.ToLower(strings.TrimSpace(role))
}

func (s *Store) Role(_ context.Context, companyID, subject string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.memberships[membershipKey(companyID, subject)]
	return role, ok, nil
}

func (s *Store) Append(_ context.Context, event auditlog.Event) (int64, error) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now().UTC()
	}
	if err := event.Validate(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, event)
	return int64(len(s.audit)), nil
}

// AuditEvents returns a copy of every appended event.
func (s *Store) AuditEvents() []auditlog.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.audit)
}

func membershipKey(companyID, subject string) string {
	return strings.TrimSpace(companyID) + "\x00" + strings.TrimSpace(subject)
}

func cloneAction(a domain.Action) domain.Action {
	a.ToolParams = a.ToolParams.Clone()
	a.RollbackMetadata = a.RollbackMetadata.Clone()
	a.Result = a.Result.Clone()
	return a
}

var (
	_ repo.RunRepository    = (*Store)(nil)
	_ repo.ActionRepository = (*Store)(nil)
	_ repo.MembershipReader = (*Store)(nil)
	_ repo.AuditAppender    = (*Store)(nil)
)
