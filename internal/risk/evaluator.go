// Package risk scores proposed actions. Scores only ever rise from the tool's
// baseline: every matching protected resource, policy rule and fallback
// heuristic is combined with max.
package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/animus-labs/autopilot/internal/domain"
	"github.com/animus-labs/autopilot/internal/tools"
)

const (
	SourcePolicy   = "policy"
	SourceFallback = "fallback"
)

var ErrPolicyUnavailable = errors.New("risk policy store unavailable")

// PolicyStore supplies per-company protected resources and tool rules.
type PolicyStore interface {
	ProtectedResource(ctx context.Context, companyID, resourceType string) (domain.ProtectedResource, bool, error)
	Policies(ctx context.Context, companyID, toolName string) ([]domain.RiskPolicy, error)
}

type Assessment struct {
	RiskLevel        domain.RiskLevel `json:"risk_level"`
	RequiresApproval bool             `json:"requires_approval"`
	Warnings         []string         `json:"warnings"`
	Source           string           `json:"source"`
}

type Evaluator struct {
	Store    PolicyStore
	Tools    *tools.Registry
	Fallback FallbackTable
	Logger   *slog.Logger
}

func NewEvaluator(store PolicyStore, registry *tools.Registry, fallback FallbackTable, logger *slog.Logger) *Evaluator {
	return &Evaluator{Store: store, Tools: registry, Fallback: fallback, Logger: logger}
}

// Evaluate never fails: store errors degrade to the fallback table and surface
// as a warning.
func (e *Evaluator) Evaluate(ctx context.Context, companyID, toolName string, raw domain.Metadata) Assessment {
	params := tools.ParseParams(raw)
	tool, known := e.Tools.Lookup(toolName)
	baseline := domain.RiskMedium
	write := true
	if known {
		baseline = tool.Baseline()
		write = tool.Kind() == tools.KindWrite
	}

	out := Assessment{RiskLevel: baseline, Warnings: []string{}, Source: SourcePolicy}
	matched, err := e.applyPolicies(ctx, companyID, toolName, params, &out)
	if err != nil {
		if e.Logger != nil {
			e.Logger.Warn("risk policy lookup failed", "company_id", companyID, "tool", toolName, "error", err)
		}
		out.Warnings = appendUnique(out.Warnings, fmt.Sprintf("%v: using fallback policy", ErrPolicyUnavailable))
	}
	if err != nil || !matched {
		level, warnings := e.Fallback.EvaluateFallback(FallbackInput{
			ToolName:     toolName,
			KnownTool:    known,
			Write:        write,
			ResourceType: params.ResourceType,
			Fields:       params.Fields(),
		})
		out.RiskLevel = out.RiskLevel.Max(level)
		out.Warnings = appendUnique(out.Warnings, warnings...)
		out.Source = SourceFallback
	} else if !known {
		out.Warnings = appendUnique(out.Warnings, fmt.Sprintf("unknown tool %q: defaulting to %s risk", toolName, domain.RiskMedium))
	}
	out.RequiresApproval = out.RiskLevel != domain.RiskLow
	return out
}

func (e *Evaluator) applyPolicies(ctx context.Context, companyID, toolName string, params tools.Params, out *Assessment) (bool, error) {
	if e.Store == nil {
		return false, errors.New("no policy store configured")
	}
	matched := false
	if params.ResourceType != "" {
		protected, found, err := e.Store.ProtectedResource(ctx, companyID, params.ResourceType)
		if err != nil {
			return false, err
		}
		if found && protected.MinimumLevel.Valid() {
			out.RiskLevel = out.RiskLevel.Max(protected.MinimumLevel)
			msg := fmt.Sprintf("resource type %q is protected (minimum %s)", params.ResourceType, protected.MinimumLevel)
			if protected.Note != "" {
				msg += ": " + protected.Note
			}
			out.Warnings = appendUnique(out.Warnings, msg)
			matched = true
		}
	}

	policies, err := e.Store.Policies(ctx, companyID, toolName)
	if err != nil {
		return false, err
	}
	for _, policy := range policies {
		if !ruleMatches(policy, params) {
			continue
		}
		out.RiskLevel = out.RiskLevel.Max(policy.RiskLevel)
		if policy.Note != "" {
			out.Warnings = appendUnique(out.Warnings, policy.Note)
		}
		matched = true
	}
	return matched, nil
}

// ruleMatches: an unset resource type or field is a wildcard.
func ruleMatches(policy domain.RiskPolicy, params tools.Params) bool {
	if !policy.RiskLevel.Valid() {
		return false
	}
	if policy.ResourceType != "" && policy.ResourceType != params.ResourceType {
		return false
	}
	if policy.Field != "" {
		if _, ok := params.Values[policy.Field]; !ok {
			return false
		}
	}
	return true
}

func appendUnique(list []string, items ...string) []string {
	for _, item := range items {
		if !slices.Contains(list, item) {
			list = append(list, item)
		}
	}
	return list
}
