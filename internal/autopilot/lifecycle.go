package autopilot

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/animus-labs/autopilot/internal/domain"
	"github.com/animus-labs/autopilot/internal/repo"
)

var (
	approveRunFrom    = []domain.RunStatus{domain.RunAwaitingApproval}
	rejectRunFrom     = []domain.RunStatus{domain.RunAwaitingApproval, domain.RunApproved}
	approveActionFrom = []domain.ActionStatus{domain.ActionPending, domain.ActionSkipped, domain.ActionFailed, domain.ActionRejected}
	rejectActionFrom  = []domain.ActionStatus{domain.ActionPending, domain.ActionApproved, domain.ActionSkipped, domain.ActionFailed}
)

// ApproveRun approves a run awaiting approval and every pending action in it.
func (s *Service) ApproveRun(ctx context.Context, caller Caller, companyID, runID, note string) (domain.Run, error) {
	return s.decideRun(ctx, caller, companyID, runID, "approve", "autopilot.run.approved", repo.RunDecision{
		RunID:         runID,
		FromStatuses:  approveRunFrom,
		ToStatus:      domain.RunApproved,
		Phase:         domain.PhaseExecution,
		Note:          note,
		StampApproval: true,
		CascadeFrom:   domain.ActionPending,
		CascadeTo:     domain.ActionApproved,
	})
}

// RejectRun cancels a run that has not started executing and rejects its
// pending actions.
func (s *Service) RejectRun(ctx context.Context, caller Caller, companyID, runID, note string) (domain.Run, error) {
	return s.decideRun(ctx, caller, companyID, runID, "reject", "autopilot.run.rejected", repo.RunDecision{
		RunID:        runID,
		FromStatuses: rejectRunFrom,
		ToStatus:     domain.RunCancelled,
		Phase:        domain.PhaseCancelled,
		Note:         note,
		CascadeFrom:  domain.ActionPending,
		CascadeTo:    domain.ActionRejected,
	})
}

func (s *Service) decideRun(ctx context.Context, caller Caller, companyID, runID, op, auditAction string, decision repo.RunDecision) (domain.Run, error) {
	companyID = strings.TrimSpace(companyID)
	runID = strings.TrimSpace(runID)
	if err := requireAdmin(ctx, s.Admins, caller, companyID); err != nil {
		return domain.Run{}, err
	}
	current, err := s.Runs.GetRun(ctx, companyID, runID)
	if err != nil {
		return domain.Run{}, mapStoreErr(err, "get run")
	}
	if err := runDecisionAllowed(current, op, decision.FromStatuses); err != nil {
		return domain.Run{}, err
	}

	decision.RunID = runID
	decision.Actor = caller.actor()
	decision.At = s.now()
	updated, err := s.Runs.ApplyRunDecision(ctx, companyID, decision)
	if errors.Is(err, repo.ErrConflict) {
		// Lost a race with an execution pass or another decision.
		latest, getErr := s.Runs.GetRun(ctx, companyID, runID)
		if getErr != nil {
			return domain.Run{}, mapStoreErr(getErr, "get run")
		}
		if err := runDecisionAllowed(latest, op, decision.FromStatuses); err != nil {
			return domain.Run{}, err
		}
		return domain.Run{}, ErrLockConflict
	}
	if err != nil {
		return domain.Run{}, mapStoreErr(err, op+" run")
	}

	s.logger().Info("run decision applied",
		"company_id", companyID,
		"run_id", runID,
		"from", current.Status,
		"to", updated.Status,
		"actor", decision.Actor,
	)
	s.appendAudit(ctx, caller, companyID, auditAction, "autopilot_run", runID, map[string]any{
		"from_status": string(current.Status),
		"to_status":   string(updated.Status),
		"note":        strings.TrimSpace(decision.Note),
	})
	return updated, nil
}

func runDecisionAllowed(run domain.Run, op string, from []domain.RunStatus) error {
	if run.Locked() {
		return ErrLockConflict
	}
	if !slices.Contains(from, run.Status) {
		return &StateError{Entity: "run", ID: run.ID, Op: op, Current: string(run.Status)}
	}
	return nil
}

// ApproveAction overrides a single action to approved. It does not consult
// the run lock; a pass already in progress keeps the state it read.
func (s *Service) ApproveAction(ctx context.Context, caller Caller, companyID, actionID string) (domain.Action, error) {
	return s.decideAction(ctx, caller, companyID, actionID, "approve", "autopilot.action.approved", repo.ActionDecision{
		FromStatuses: approveActionFrom,
		ToStatus:     domain.ActionApproved,
		Approve:      true,
	})
}

// RejectAction overrides a single action to rejected and clears its approval.
func (s *Service) RejectAction(ctx context.Context, caller Caller, companyID, actionID string) (domain.Action, error) {
	return s.decideAction(ctx, caller, companyID, actionID, "reject", "autopilot.action.rejected", repo.ActionDecision{
		FromStatuses: rejectActionFrom,
		ToStatus:     domain.ActionRejected,
	})
}

func (s *Service) decideAction(ctx context.Context, caller Caller, companyID, actionID, op, auditAction string, decision repo.ActionDecision) (domain.Action, error) {
	companyID = strings.TrimSpace(companyID)
	actionID = strings.TrimSpace(actionID)
	if err := requireAdmin(ctx, s.Admins, caller, companyID); err != nil {
		return domain.Action{}, err
	}
	current, err := s.Actions.GetAction(ctx, companyID, actionID)
	if err != nil {
		return domain.Action{}, mapStoreErr(err, "get action")
	}
	// The parent run must belong to the same company.
	if _, err := s.Runs.GetRun(ctx, companyID, current.RunID); err != nil {
		return domain.Action{}, mapStoreErr(err, "get action run")
	}
	if !slices.Contains(decision.FromStatuses, current.Status) {
		return domain.Action{}, &StateError{Entity: "action", ID: actionID, Op: op, Current: string(current.Status)}
	}

	decision.ActionID = actionID
	decision.Actor = caller.actor()
	decision.At = s.now()
	updated, err := s.Actions.ApplyActionDecision(ctx, companyID, decision)
	if errors.Is(err, repo.ErrConflict) {
		latest, getErr := s.Actions.GetAction(ctx, companyID, actionID)
		if getErr != nil {
			return domain.Action{}, mapStoreErr(getErr, "get action")
		}
		return domain.Action{}, &StateError{Entity: "action", ID: actionID, Op: op, Current: string(latest.Status)}
	}
	if err != nil {
		return domain.Action{}, mapStoreErr(err, op+" action")
	}

	s.logger().Info("action decision applied",
		"company_id", companyID,
		"run_id", updated.RunID,
		"action_id", actionID,
		"from", current.Status,
		"to", updated.Status,
		"actor", decision.Actor,
	)
	s.appendAudit(ctx, caller, companyID, auditAction, "autopilot_action", actionID, map[string]any{
		"run_id":      updated.RunID,
		"from_status": string(current.Status),
		"to_status":   string(updated.Status),
	})
	return updated, nil
}
