package domain

import (
	"errors"
	"strings"
	"time"
)

type RunStatus string

const (
	RunAwaitingApproval RunStatus = "awaiting_approval"
	RunApproved         RunStatus = "approved"
	RunCancelled        RunStatus = "cancelled"
	RunFailed           RunStatus = "failed"
	RunCompleted        RunStatus = "completed"
)

func (s RunStatus) Valid() bool {
	switch s {
	case RunAwaitingApproval, RunApproved, RunCancelled, RunFailed, RunCompleted:
		return true
	default:
		return false
	}
}

// Executable reports whether an execution pass may start from this status.
// Completed runs replay idempotently; failed runs resume.
func (s RunStatus) Executable() bool {
	switch s {
	case RunApproved, RunFailed, RunCompleted:
		return true
	default:
		return false
	}
}

type RunPhase string

const (
	PhasePlanning    RunPhase = "planning"
	PhaseExecution   RunPhase = "execution"
	PhaseObservation RunPhase = "observation"
	PhaseCancelled   RunPhase = "cancelled"
)

// RunMetrics summarizes the most recent execution pass.
type RunMetrics struct {
	ExecutedActions         int   `json:"executed_actions"`
	FailedActions           int   `json:"failed_actions"`
	SkippedActions          int   `json:"skipped_actions"`
	AlreadyCompletedActions int   `json:"already_completed_actions"`
	DurationMS              int64 `json:"duration_ms"`
}

// Run is a batch of actions sharing one approval and execution lifecycle.
type Run struct {
	ID                string
	CompanyID         string
	Status            RunStatus
	Phase             RunPhase
	ExecutionLockUUID string
	ExecutionLockedAt *time.Time
	ApprovedBy        string
	ApprovedAt        *time.Time
	ApprovalNote      string
	Metrics           *RunMetrics
	CompletedAt       *time.Time
	CreatedBy         string
	CreatedAt         time.Time
	UpdatedAt         time.Time

	// Actions is populated by reads that load the full run.
	Actions []Action
}

func (r Run) Locked() bool {
	return strings.TrimSpace(r.ExecutionLockUUID) != ""
}

func (r Run) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(r.CompanyID) == "" {
		return errors.New("company id is required")
	}
	if !r.Status.Valid() {
		return errors.New("run status is invalid")
	}
	if strings.TrimSpace(string(r.Phase)) == "" {
		return errors.New("run phase is required")
	}
	return nil
}
