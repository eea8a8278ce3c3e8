package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/autopilot/internal/domain"
)

// PolicyStore reads per-company risk policies and protected resource types.
type PolicyStore struct {
	db DB
}

const (
	selectProtectedResourceQuery = `SELECT company_id, resource_type, minimum_level, note
	 FROM autopilot_protected_resources
	 WHERE company_id = $1 AND resource_type = $2`

	listPoliciesQuery = `SELECT policy_id, company_id, tool_name, resource_type, field, risk_level, note
	 FROM autopilot_risk_policies
	 WHERE company_id = $1 AND tool_name = $2
	 ORDER BY policy_id ASC`
)

func NewPolicyStore(db DB) *PolicyStore {
	if db == nil {
		return nil
	}
	return &PolicyStore{db: db}
}

func (s *PolicyStore) ProtectedResource(ctx context.Context, companyID, resourceType string) (domain.ProtectedResource, bool, error) {
	if s == nil || s.db == nil {
		return domain.ProtectedResource{}, false, fmt.Errorf("policy store not initialized")
	}
	companyID = strings.TrimSpace(companyID)
	resourceType = strings.TrimSpace(resourceType)
	if companyID == "" || resourceType == "" {
		return domain.ProtectedResource{}, false, nil
	}
	var out domain.ProtectedResource
	var level string
	var note sql.NullString
	err := s.db.QueryRowContext(ctx, selectProtectedResourceQuery, companyID, resourceType).
		Scan(&out.CompanyID, &out.ResourceType, &level, &note)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ProtectedResource{}, false, nil
	}
	if err != nil {
		return domain.ProtectedResource{}, false, fmt.Errorf("get protected resource: %w", err)
	}
	out.MinimumLevel, err = domain.ParseRiskLevel(level)
	if err != nil {
		return domain.ProtectedResource{}, false, err
	}
	out.Note = stringValue(note)
	return out, true, nil
}

func (s *PolicyStore) Policies(ctx context.Context, companyID, toolName string) ([]domain.RiskPolicy, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("policy store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, listPoliciesQuery, strings.TrimSpace(companyID), strings.TrimSpace(toolName))
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer rows.Close()

	policies := make([]domain.RiskPolicy, 0)
	for rows.Next() {
		var p domain.RiskPolicy
		var resourceType, field, note sql.NullString
		var level string
		if err := rows.Scan(&p.ID, &p.CompanyID, &p.ToolName, &resourceType, &field, &level, &note); err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		p.RiskLevel, err = domain.ParseRiskLevel(level)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", p.ID, err)
		}
		p.ResourceType = stringValue(resourceType)
		p.Field = stringValue(field)
		p.Note = stringValue(note)
		policies = append(policies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	return policies, nil
}
