package autopilot

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/animus-labs/autopilot/internal/domain"
	"github.com/animus-labs/autopilot/internal/repo"
	"github.com/animus-labs/autopilot/internal/risk"
	"github.com/animus-labs/autopilot/internal/tools"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	maxProposals     = 100
)

// Proposal is one action an agent wants to run.
type Proposal struct {
	ToolName   string          `json:"tool_name"`
	ToolParams domain.Metadata `json:"tool_params"`
}

// ProposeRun scores every proposal and stores them as one run awaiting approval.
// Risk is always computed here; callers cannot supply it.
func (s *Service) ProposeRun(ctx context.Context, caller Caller, companyID string, proposals []Proposal) (domain.Run, error) {
	companyID = strings.TrimSpace(companyID)
	if err := requireMember(caller, companyID); err != nil {
		return domain.Run{}, err
	}
	if len(proposals) == 0 {
		return domain.Run{}, validationError("at least one action is required")
	}
	if len(proposals) > maxProposals {
		return domain.Run{}, validationError("at most %d actions per run", maxProposals)
	}

	now := s.now()
	run := domain.Run{
		ID:        uuid.NewString(),
		CompanyID: companyID,
		Status:    domain.RunAwaitingApproval,
		Phase:     domain.PhasePlanning,
		CreatedBy: caller.actor(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	actions := make([]domain.Action, 0, len(proposals))
	for i, p := range proposals {
		toolName := strings.TrimSpace(p.ToolName)
		tool, ok := s.Tools.Lookup(toolName)
		if !ok {
			return domain.Run{}, validationError("action %d: unknown tool %q", i+1, toolName)
		}
		params, err := p.ToolParams.Normalize()
		if err != nil {
			return domain.Run{}, validationError("action %d: tool_params: %v", i+1, err)
		}
		if err := tool.Validate(tools.ParseParams(params)); err != nil {
			return domain.Run{}, validationError("action %d: %v", i+1, err)
		}
		assessment := s.Evaluator.Evaluate(ctx, companyID, toolName, params)
		actions = append(actions, domain.Action{
			ID:               uuid.NewString(),
			RunID:            run.ID,
			CompanyID:        companyID,
			StepOrder:        i + 1,
			ToolName:         toolName,
			ToolParams:       params,
			Status:           domain.ActionPending,
			RequiresApproval: assessment.RequiresApproval,
			RiskLevel:        assessment.RiskLevel,
			Result:           assessmentResult(assessment),
			CreatedAt:        now,
			UpdatedAt:        now,
		})
	}

	if err := s.Runs.CreateRun(ctx, run, actions); err != nil {
		return domain.Run{}, fmt.Errorf("create run: %w", err)
	}
	run.Actions = actions

	s.logger().Info("run proposed", "company_id", companyID, "run_id", run.ID, "actions", len(actions))
	s.appendAudit(ctx, caller, companyID, "autopilot.run.proposed", "autopilot_run", run.ID, map[string]any{
		"actions":      len(actions),
		"highest_risk": highestRisk(actions).String(),
	})
	return run, nil
}

// assessmentResult keeps proposal-time warnings visible on the action until a
// pass overwrites the result.
func assessmentResult(a risk.Assessment) domain.Metadata {
	if len(a.Warnings) == 0 {
		return nil
	}
	return domain.Metadata{"risk_warnings": stringsToAny(a.Warnings), "risk_source": a.Source}
}

func highestRisk(actions []domain.Action) domain.RiskLevel {
	var level domain.RiskLevel
	for _, a := range actions {
		level = level.Max(a.RiskLevel)
	}
	return level
}

// GetRun loads a run with its actions in step order.
func (s *Service) GetRun(ctx context.Context, caller Caller, companyID, runID string) (domain.Run, error) {
	companyID = strings.TrimSpace(companyID)
	if err := requireMember(caller, companyID); err != nil {
		return domain.Run{}, err
	}
	run, err := s.Runs.GetRun(ctx, companyID, strings.TrimSpace(runID))
	if err != nil {
		return domain.Run{}, mapStoreErr(err, "get run")
	}
	actions, err := s.Actions.ListActions(ctx, companyID, run.ID)
	if err != nil {
		return domain.Run{}, fmt.Errorf("list actions: %w", err)
	}
	run.Actions = actions
	return run, nil
}

type ListRunsFilter struct {
	Status domain.RunStatus
	Limit  int
}

func (s *Service) ListRuns(ctx context.Context, caller Caller, companyID string, filter ListRunsFilter) ([]domain.Run, error) {
	companyID = strings.TrimSpace(companyID)
	if err := requireMember(caller, companyID); err != nil {
		return nil, err
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, validationError("unknown run status %q", filter.Status)
	}
	limit := filter.Limit
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	runs, err := s.Runs.ListRuns(ctx, repo.RunFilter{CompanyID: companyID, Status: filter.Status, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// SimulationResult is the flat preview of one proposed action. Warnings merge
// the risk and preview warnings without duplicates.
type SimulationResult struct {
	ToolName         string           `json:"tool_name"`
	RiskLevel        domain.RiskLevel `json:"risk_level"`
	RequiresApproval bool             `json:"requires_approval"`
	RiskSource       string           `json:"risk_source"`
	Preview          tools.Preview    `json:"preview"`
	Warnings         []string         `json:"warnings"`
}

// SimulateAction never contacts the external system and never persists.
func (s *Service) SimulateAction(ctx context.Context, caller Caller, companyID string, proposal Proposal) (SimulationResult, error) {
	companyID = strings.TrimSpace(companyID)
	if err := requireMember(caller, companyID); err != nil {
		return SimulationResult{}, err
	}
	toolName := strings.TrimSpace(proposal.ToolName)
	if toolName == "" {
		return SimulationResult{}, validationError("tool_name is required")
	}
	params, err := proposal.ToolParams.Normalize()
	if err != nil {
		return SimulationResult{}, validationError("tool_params: %v", err)
	}
	assessment := s.Evaluator.Evaluate(ctx, companyID, toolName, params)
	sim := tools.Simulator{Registry: s.Tools}.Simulate(toolName, params)
	warnings := make([]string, 0, len(assessment.Warnings)+len(sim.Warnings))
	for _, w := range append(assessment.Warnings, sim.Warnings...) {
		if !slices.Contains(warnings, w) {
			warnings = append(warnings, w)
		}
	}
	return SimulationResult{
		ToolName:         toolName,
		RiskLevel:        assessment.RiskLevel,
		RequiresApproval: assessment.RequiresApproval,
		RiskSource:       assessment.Source,
		Preview:          sim.Preview,
		Warnings:         warnings,
	}, nil
}

