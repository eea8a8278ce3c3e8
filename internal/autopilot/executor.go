package autopilot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/animus-labs/autopilot/internal/domain"
	"github.com/animus-labs/autopilot/internal/gateway"
	"github.com/animus-labs/autopilot/internal/platform/telemetry"
	"github.com/animus-labs/autopilot/internal/repo"
	"github.com/animus-labs/autopilot/internal/risk"
	"github.com/animus-labs/autopilot/internal/tools"
)

type ActionOutcome string

const (
	OutcomeExecuted         ActionOutcome = "executed"
	OutcomeFailed           ActionOutcome = "failed"
	OutcomeTimedOut         ActionOutcome = "timed_out"
	OutcomeSkipped          ActionOutcome = "skipped"
	OutcomeAlreadyCompleted ActionOutcome = "already_completed"
	OutcomeDryRunOK         ActionOutcome = "dry_run_ok"
)

const (
	ReasonAwaitingApproval = "awaiting approval"
	ReasonRejected         = "rejected"
	ReasonRiskEscalated    = "risk escalated"
	ReasonInFlight         = "in flight"
)

type ExecuteOptions struct {
	DryRun bool
}

// ActionReport is what one pass did with one action.
type ActionReport struct {
	ActionID          string              `json:"action_id"`
	StepOrder         int                 `json:"step_order"`
	ToolName          string              `json:"tool_name"`
	Outcome           ActionOutcome       `json:"outcome"`
	Status            domain.ActionStatus `json:"status"`
	RiskLevel         domain.RiskLevel    `json:"risk_level"`
	Reason            string              `json:"reason,omitempty"`
	Error             string              `json:"error,omitempty"`
	RollbackAttempted bool                `json:"rollback_attempted,omitempty"`
	RollbackExecuted  bool                `json:"rollback_executed,omitempty"`
	RollbackError     string              `json:"rollback_error,omitempty"`
}

type ExecutionReport struct {
	RunID      string            `json:"run_id"`
	CompanyID  string            `json:"company_id"`
	ExecutedBy string            `json:"executed_by"`
	DryRun     bool              `json:"dry_run"`
	Status     domain.RunStatus  `json:"status"`
	Metrics    domain.RunMetrics `json:"metrics"`
	Actions    []ActionReport    `json:"actions"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	ArchiveKey string            `json:"archive_key,omitempty"`
}

// ReportSink keeps finished execution reports outside the database.
type ReportSink interface {
	Archive(ctx context.Context, report ExecutionReport) (string, error)
}

// Executor runs one sequential pass over the actions of a run.
type Executor struct {
	Runs      repo.RunRepository
	Actions   repo.ActionRepository
	Locks     *LockManager
	Evaluator *risk.Evaluator
	Tools     *tools.Registry
	Gateway   gateway.Gateway
	Reports   ReportSink
	Telemetry *telemetry.Instruments
	Logger    *slog.Logger
	Now       func() time.Time
	// PassTimeout bounds a whole pass. Zero means no deadline.
	PassTimeout time.Duration
}

func (e *Executor) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.New(slog.DiscardHandler)
}

// ExecuteRun runs a pass as caller. Approved, failed and completed runs may be
// executed; completed actions are never applied twice.
func (s *Service) ExecuteRun(ctx context.Context, caller Caller, companyID, runID string, opts ExecuteOptions) (ExecutionReport, error) {
	companyID = strings.TrimSpace(companyID)
	runID = strings.TrimSpace(runID)
	if err := requireAdmin(ctx, s.Admins, caller, companyID); err != nil {
		return ExecutionReport{}, err
	}
	run, err := s.Runs.GetRun(ctx, companyID, runID)
	if err != nil {
		return ExecutionReport{}, mapStoreErr(err, "get run")
	}
	if !run.Status.Executable() {
		return ExecutionReport{}, &StateError{Entity: "run", ID: runID, Op: "execute", Current: string(run.Status)}
	}
	if s.Executor == nil {
		return ExecutionReport{}, errors.New("executor is not configured")
	}

	report, err := s.Executor.Execute(ctx, run, caller.actor(), opts)
	if err != nil {
		return ExecutionReport{}, err
	}
	if !opts.DryRun {
		s.appendAudit(ctx, caller, companyID, "autopilot.run.executed", "autopilot_run", runID, map[string]any{
			"from_status": string(run.Status),
			"to_status":   string(report.Status),
			"metrics":     report.Metrics,
			"archive_key": report.ArchiveKey,
		})
	}
	return report, nil
}

// Execute runs one pass under the run lock. Authorization is the caller's job.
// The pass does not observe cancellation of ctx, so a disconnecting client
// never interrupts an external call between its write and the action save.
func (e *Executor) Execute(ctx context.Context, run domain.Run, actor string, opts ExecuteOptions) (ExecutionReport, error) {
	ctx = context.WithoutCancel(ctx)
	if e.PassTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.PassTimeout)
		defer cancel()
	}
	started := e.now()
	ctx, span := e.Telemetry.StartSpan(ctx, "autopilot.execute_run",
		attribute.String("run_id", run.ID),
		attribute.String("company_id", run.CompanyID),
		attribute.Bool("dry_run", opts.DryRun),
	)
	defer span.End()

	report := ExecutionReport{
		RunID:      run.ID,
		CompanyID:  run.CompanyID,
		ExecutedBy: actor,
		DryRun:     opts.DryRun,
		Status:     run.Status,
		Actions:    []ActionReport{},
		StartedAt:  started,
	}
	err := e.Locks.WithLock(ctx, run.ID, run.CompanyID, func(ctx context.Context, token string) error {
		// The run may have moved between the caller's read and the lock.
		current, err := e.Runs.GetRun(ctx, run.CompanyID, run.ID)
		if err != nil {
			return mapStoreErr(err, "get run")
		}
		if !current.Status.Executable() {
			return &StateError{Entity: "run", ID: run.ID, Op: "execute", Current: string(current.Status)}
		}
		actions, err := e.Actions.ListActions(ctx, run.CompanyID, run.ID)
		if err != nil {
			return fmt.Errorf("list actions: %w", err)
		}

		p := &pass{e: e, run: current, token: token, dryRun: opts.DryRun, report: &report}
		for _, action := range actions {
			if err := p.step(ctx, action); err != nil {
				return err
			}
		}

		finished := e.now()
		report.FinishedAt = finished
		report.Metrics.DurationMS = finished.Sub(started).Milliseconds()
		report.Status = current.Status
		if opts.DryRun {
			return nil
		}
		fin := repo.RunFinalization{
			LockToken:   token,
			Status:      domain.RunCompleted,
			Phase:       domain.PhaseObservation,
			Metrics:     report.Metrics,
			CompletedAt: finished,
			At:          finished,
		}
		switch {
		case p.failed:
			fin.Status = domain.RunFailed
		case p.interrupted && current.Status == domain.RunApproved:
			// Left approved so a later pass picks the action up once it times out.
			fin.Status = domain.RunApproved
			fin.Phase = domain.PhaseExecution
			fin.CompletedAt = time.Time{}
		case p.interrupted:
			fin.Status = domain.RunFailed
		}
		report.Status = fin.Status
		err = e.Runs.FinalizeRun(ctx, run.CompanyID, run.ID, fin)
		if errors.Is(err, repo.ErrConflict) {
			return fmt.Errorf("finalize run: %w", ErrLockConflict)
		}
		if err != nil {
			return fmt.Errorf("finalize run: %w", err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ExecutionReport{}, err
	}

	e.Telemetry.RecordRun(ctx, string(report.Status), opts.DryRun, report.FinishedAt.Sub(started))
	e.logger().Info("run executed",
		"company_id", run.CompanyID,
		"run_id", run.ID,
		"status", report.Status,
		"dry_run", opts.DryRun,
		"executed", report.Metrics.ExecutedActions,
		"failed", report.Metrics.FailedActions,
		"skipped", report.Metrics.SkippedActions,
		"already_completed", report.Metrics.AlreadyCompletedActions,
		"duration_ms", report.Metrics.DurationMS,
	)

	if !opts.DryRun && e.Reports != nil {
		key, err := e.Reports.Archive(ctx, report)
		if err != nil {
			e.logger().Warn("execution report archive failed", "company_id", run.CompanyID, "run_id", run.ID, "error", err)
		} else {
			report.ArchiveKey = key
		}
	}
	return report, nil
}

// pass holds the state of one execution pass. The gateway session is opened
// on the first action that needs it and reused afterwards.
type pass struct {
	e      *Executor
	run    domain.Run
	token  string
	dryRun bool
	report *ExecutionReport
	failed bool
	// interrupted is set when an action was left executing by an earlier pass.
	interrupted bool

	session    *gateway.Session
	sessionErr error
}

func (p *pass) step(ctx context.Context, action domain.Action) error {
	ctx, span := p.e.Telemetry.StartSpan(ctx, "autopilot.action",
		attribute.String("action_id", action.ID),
		attribute.String("tool", action.ToolName),
		attribute.Int("step_order", action.StepOrder),
	)
	defer span.End()

	if err := p.heartbeat(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("action %s: %w", action.ID, err)
	}
	rep, err := p.process(ctx, action)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("action %s: %w", action.ID, err)
	}
	span.SetAttributes(attribute.String("outcome", string(rep.Outcome)))
	p.record(ctx, rep)
	return nil
}

func (p *pass) record(ctx context.Context, rep ActionReport) {
	m := &p.report.Metrics
	switch rep.Outcome {
	case OutcomeExecuted, OutcomeDryRunOK:
		m.ExecutedActions++
	case OutcomeFailed, OutcomeTimedOut:
		m.FailedActions++
		p.failed = true
	case OutcomeSkipped:
		m.SkippedActions++
	case OutcomeAlreadyCompleted:
		m.AlreadyCompletedActions++
	}
	p.report.Actions = append(p.report.Actions, rep)
	p.e.Telemetry.CountAction(ctx, rep.ToolName, string(rep.Outcome))

	attrs := []any{
		"company_id", p.run.CompanyID,
		"run_id", p.run.ID,
		"action_id", rep.ActionID,
		"tool", rep.ToolName,
		"outcome", rep.Outcome,
	}
	switch rep.Outcome {
	case OutcomeFailed, OutcomeTimedOut:
		p.e.logger().Warn("action failed", append(attrs, "error", rep.Error, "rollback_executed", rep.RollbackExecuted)...)
	case OutcomeSkipped:
		p.e.logger().Info("action skipped", append(attrs, "reason", rep.Reason)...)
	default:
		p.e.logger().Debug("action processed", attrs...)
	}
}

func (p *pass) process(ctx context.Context, a domain.Action) (ActionReport, error) {
	rep := ActionReport{
		ActionID:  a.ID,
		StepOrder: a.StepOrder,
		ToolName:  a.ToolName,
		Status:    a.Status,
		RiskLevel: a.RiskLevel,
	}
	now := p.e.now()

	switch {
	case a.Status == domain.ActionCompleted:
		rep.Outcome = OutcomeAlreadyCompleted
		return rep, nil

	case a.Status == domain.ActionExecuting:
		if !a.IsStale(now) {
			rep.Outcome = OutcomeSkipped
			rep.Reason = ReasonInFlight
			p.interrupted = true
			return rep, nil
		}
		rep.Outcome = OutcomeTimedOut
		rep.Error = fmt.Sprintf("timed out: action was executing for more than %s without completing", domain.ExecutingTimeout)
		if p.dryRun {
			return rep, nil
		}
		a.Status = domain.ActionFailed
		a.ErrorMessage = rep.Error
		a.Result = a.Result.Merge(domain.Metadata{"timed_out": true, "rollback_attempted": false})
		a.UpdatedAt = now
		if err := p.save(ctx, a); err != nil {
			return rep, err
		}
		rep.Status = a.Status
		return rep, nil

	case !a.IsExecutable():
		rep.Outcome = OutcomeSkipped
		rep.Reason = ReasonAwaitingApproval
		if a.Status == domain.ActionRejected {
			rep.Reason = ReasonRejected
		}
		if a.Status != domain.ActionPending || p.dryRun {
			return rep, nil
		}
		a.Status = domain.ActionSkipped
		a.UpdatedAt = now
		if err := p.save(ctx, a); err != nil {
			return rep, err
		}
		rep.Status = a.Status
		return rep, nil
	}

	assessment := p.e.Evaluator.Evaluate(ctx, p.run.CompanyID, a.ToolName, a.ToolParams)
	level := a.RiskLevel.Max(assessment.RiskLevel)
	rep.RiskLevel = level
	if assessment.RequiresApproval && !a.IsApproved() {
		rep.Outcome = OutcomeSkipped
		rep.Reason = ReasonRiskEscalated
		if p.dryRun {
			return rep, nil
		}
		a.Status = domain.ActionSkipped
		a.RiskLevel = level
		a.RequiresApproval = true
		a.Result = domain.Metadata{
			"skip_reason":   ReasonRiskEscalated,
			"risk_warnings": stringsToAny(assessment.Warnings),
			"risk_source":   assessment.Source,
		}
		a.UpdatedAt = now
		if err := p.save(ctx, a); err != nil {
			return rep, err
		}
		rep.Status = a.Status
		return rep, nil
	}

	if p.dryRun {
		rep.Outcome = OutcomeDryRunOK
		return rep, nil
	}

	tool, known := p.e.Tools.Lookup(a.ToolName)
	params := tools.ParseParams(a.ToolParams)

	a.Status = domain.ActionExecuting
	a.RiskLevel = level
	a.ErrorMessage = ""
	a.ExecutedAt = nil
	a.UpdatedAt = now
	if err := p.save(ctx, a); err != nil {
		return rep, err
	}

	if !known {
		return p.failBeforeWrite(ctx, a, rep, fmt.Errorf("unknown tool %q", a.ToolName))
	}
	if err := tool.Validate(params); err != nil {
		return p.failBeforeWrite(ctx, a, rep, err)
	}
	conn, err := p.conn(ctx)
	if err != nil {
		return p.failBeforeWrite(ctx, a, rep, err)
	}
	snapshot, err := tool.Preflight(ctx, conn, params)
	if err != nil {
		return p.failBeforeWrite(ctx, a, rep, err)
	}
	a.RollbackMetadata = snapshot
	a.UpdatedAt = p.e.now()
	if err := p.save(ctx, a); err != nil {
		return rep, err
	}

	outcome, execErr := tool.Execute(ctx, conn, params)
	a.RollbackMetadata = snapshot.Merge(outcome.Rollback)
	executedAt := p.e.now()
	a.ExecutedAt = &executedAt
	a.UpdatedAt = executedAt

	if execErr != nil {
		rolled, rbErr := tool.Rollback(ctx, conn, a.RollbackMetadata)
		a.Status = domain.ActionFailed
		a.ErrorMessage = execErr.Error()
		a.Result = domain.Metadata{
			"rollback_attempted": true,
			"rollback_executed":  rolled,
		}
		rep.Outcome = OutcomeFailed
		rep.Error = a.ErrorMessage
		rep.RollbackAttempted = true
		rep.RollbackExecuted = rolled
		if rbErr != nil {
			a.Result["rollback_error"] = rbErr.Error()
			rep.RollbackError = rbErr.Error()
		}
		if err := p.save(ctx, a); err != nil {
			return rep, err
		}
		rep.Status = a.Status
		return rep, nil
	}

	a.Status = domain.ActionCompleted
	a.Result = outcome.Result
	if err := p.save(ctx, a); err != nil {
		return rep, err
	}
	rep.Outcome = OutcomeExecuted
	rep.Status = a.Status
	return rep, nil
}

// failBeforeWrite fails an action that never reached the external write, so
// there is nothing to roll back.
func (p *pass) failBeforeWrite(ctx context.Context, a domain.Action, rep ActionReport, cause error) (ActionReport, error) {
	at := p.e.now()
	a.Status = domain.ActionFailed
	a.ErrorMessage = cause.Error()
	a.ExecutedAt = &at
	a.UpdatedAt = at
	a.Result = domain.Metadata{"rollback_attempted": false}
	if err := p.save(ctx, a); err != nil {
		return rep, err
	}
	rep.Outcome = OutcomeFailed
	rep.Error = a.ErrorMessage
	rep.Status = a.Status
	return rep, nil
}

// heartbeat keeps the run lock fresh and stops the pass once another pass has
// taken it over.
func (p *pass) heartbeat(ctx context.Context) error {
	return p.e.Locks.Refresh(ctx, p.run.ID, p.run.CompanyID, p.token)
}

func (p *pass) save(ctx context.Context, a domain.Action) error {
	if err := p.heartbeat(ctx); err != nil {
		return err
	}
	if err := p.e.Actions.UpdateAction(ctx, p.run.CompanyID, a); err != nil {
		return fmt.Errorf("update action: %w", err)
	}
	return nil
}

func (p *pass) conn(ctx context.Context) (gateway.Conn, error) {
	if p.sessionErr != nil {
		return gateway.Conn{}, p.sessionErr
	}
	if p.session == nil {
		if p.e.Gateway == nil {
			p.sessionErr = errors.New("external system gateway is not configured")
			return gateway.Conn{}, p.sessionErr
		}
		session, err := p.e.Gateway.Authenticate(ctx)
		if err != nil {
			p.sessionErr = fmt.Errorf("authenticate with external system: %w", err)
			return gateway.Conn{}, p.sessionErr
		}
		p.session = &session
	}
	return gateway.Conn{Gateway: p.e.Gateway, Session: *p.session}, nil
}

func stringsToAny(values []string) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		out = append(out, v)
	}
	return out
}
