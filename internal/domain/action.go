package domain

import (
	"errors"
	"strings"
	"time"
)

type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionApproved  ActionStatus = "approved"
	ActionRejected  ActionStatus = "rejected"
	ActionExecuting ActionStatus = "executing"
	ActionCompleted ActionStatus = "completed"
	ActionFailed    ActionStatus = "failed"
	ActionSkipped   ActionStatus = "skipped"
)

func (s ActionStatus) Valid() bool {
	switch s {
	case ActionPending, ActionApproved, ActionRejected, ActionExecuting, ActionCompleted, ActionFailed, ActionSkipped:
		return true
	default:
		return false
	}
}

// ExecutingTimeout is how long an action may sit in executing without an
// executed_at before the next pass declares it abandoned.
const ExecutingTimeout = 5 * time.Minute

// Action is one tool invocation inside a run.
type Action struct {
	ID               string
	RunID            string
	CompanyID        string
	StepOrder        int
	ToolName         string
	ToolParams       Metadata
	Status           ActionStatus
	RequiresApproval bool
	RiskLevel        RiskLevel
	RollbackMetadata Metadata
	Result           Metadata
	ErrorMessage     string
	ExecutedAt       *time.Time
	ApprovedBy       string
	ApprovedAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsApproved is true for approved actions and for failed or skipped actions
// that carry an approval stamp from an earlier pass.
func (a Action) IsApproved() bool {
	switch a.Status {
	case ActionApproved:
		return true
	case ActionFailed, ActionSkipped:
		return a.ApprovedAt != nil
	default:
		return false
	}
}

// IsExecutable reports whether a pass may run the action given its stored state.
func (a Action) IsExecutable() bool {
	switch a.Status {
	case ActionCompleted, ActionExecuting, ActionRejected:
		return false
	}
	return a.IsApproved() || !a.RequiresApproval
}

// IsStale reports an executing action abandoned by a previous pass.
func (a Action) IsStale(now time.Time) bool {
	if a.Status != ActionExecuting || a.ExecutedAt != nil {
		return false
	}
	return now.Sub(a.UpdatedAt) > ExecutingTimeout
}

func (a Action) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("action id is required")
	}
	if strings.TrimSpace(a.RunID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(a.ToolName) == "" {
		return errors.New("tool name is required")
	}
	if a.StepOrder < 1 {
		return errors.New("step order must be >= 1")
	}
	if !a.Status.Valid() {
		return errors.New("action status is invalid")
	}
	if !a.RiskLevel.Valid() {
		return errors.New("risk level is invalid")
	}
	return nil
}
