package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/autopilot/internal/domain"
	"github.com/animus-labs/autopilot/internal/repo"
)

type ActionStore struct {
	db DB
}

const actionColumns = `action_id, run_id, company_id, step_order, tool_name, tool_params, status,
	requires_approval, risk_level, rollback_metadata, result, error_message, executed_at,
	approved_by, approved_at, created_at, updated_at`

const (
	insertActionQuery = `INSERT INTO autopilot_actions (` + actionColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$16)`

	listActionsQuery = `SELECT ` + actionColumns + `
	 FROM autopilot_actions
	 WHERE company_id = $1 AND run_id = $2
	 ORDER BY step_order ASC`

	selectActionQuery = `SELECT ` + actionColumns + `
	 FROM autopilot_actions
	 WHERE company_id = $1 AND action_id = $2`

	decideActionQuery = `UPDATE autopilot_actions
	 SET status = $3,
	     approved_by = CASE WHEN $4::boolean THEN $5::text ELSE NULL END,
	     approved_at = CASE WHEN $4::boolean THEN $6::timestamptz ELSE NULL END,
	     updated_at = $6::timestamptz
	 WHERE company_id = $1 AND action_id = $2 AND status = ANY($7::text[])
	 RETURNING ` + actionColumns

	updateActionQuery = `UPDATE autopilot_actions
	 SET status = $3,
	     requires_approval = $4,
	     risk_level = $5,
	     rollback_metadata = $6,
	     result = $7,
	     error_message = $8,
	     executed_at = $9,
	     updated_at = $10
	 WHERE company_id = $1 AND action_id = $2`
)

func NewActionStore(db DB) *ActionStore {
	if db == nil {
		return nil
	}
	return &ActionStore{db: db}
}

func insertAction(ctx context.Context, db DB, action domain.Action) error {
	if err := action.Validate(); err != nil {
		return err
	}
	paramsJSON, err := encodeMetadata(action.ToolParams)
	if err != nil {
		return fmt.Errorf("encode tool params: %w", err)
	}
	rollbackJSON, err := encodeMetadata(action.RollbackMetadata)
	if err != nil {
		return fmt.Errorf("encode rollback metadata: %w", err)
	}
	resultJSON, err := encodeMetadata(action.Result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err = db.ExecContext(
		ctx,
		insertActionQuery,
		strings.TrimSpace(action.ID),
		strings.TrimSpace(action.RunID),
		strings.TrimSpace(action.CompanyID),
		action.StepOrder,
		strings.TrimSpace(action.ToolName),
		paramsJSON,
		string(action.Status),
		action.RequiresApproval,
		action.RiskLevel.String(),
		rollbackJSON,
		resultJSON,
		nullIfEmpty(action.ErrorMessage),
		nullTime(action.ExecutedAt),
		nullIfEmpty(action.ApprovedBy),
		nullTime(action.ApprovedAt),
		normalizeTime(action.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

func (s *ActionStore) ListActions(ctx context.Context, companyID, runID string) ([]domain.Action, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("action store not initialized")
	}
	companyID, runID, err := requireScope(companyID, runID, "run")
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, listActionsQuery, companyID, runID)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	actions := make([]domain.Action, 0)
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	return actions, nil
}

func (s *ActionStore) GetAction(ctx context.Context, companyID, id string) (domain.Action, error) {
	if s == nil || s.db == nil {
		return domain.Action{}, fmt.Errorf("action store not initialized")
	}
	companyID, id, err := requireScope(companyID, id, "action")
	if err != nil {
		return domain.Action{}, err
	}
	return scanAction(s.db.QueryRowContext(ctx, selectActionQuery, companyID, id))
}

func (s *ActionStore) ApplyActionDecision(ctx context.Context, companyID string, decision repo.ActionDecision) (domain.Action, error) {
	if s == nil || s.db == nil {
		return domain.Action{}, fmt.Errorf("action store not initialized")
	}
	companyID, id, err := requireScope(companyID, decision.ActionID, "action")
	if err != nil {
		return domain.Action{}, err
	}
	if len(decision.FromStatuses) == 0 {
		return domain.Action{}, fmt.Errorf("from statuses are required")
	}
	from := make([]string, 0, len(decision.FromStatuses))
	for _, status := range decision.FromStatuses {
		from = append(from, string(status))
	}
	row := s.db.QueryRowContext(
		ctx,
		decideActionQuery,
		companyID,
		id,
		string(decision.ToStatus),
		decision.Approve,
		strings.TrimSpace(decision.Actor),
		normalizeTime(decision.At),
		from,
	)
	action, err := scanAction(row)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Action{}, repo.ErrConflict
		}
		return domain.Action{}, err
	}
	return action, nil
}

func (s *ActionStore) UpdateAction(ctx context.Context, companyID string, action domain.Action) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("action store not initialized")
	}
	companyID, id, err := requireScope(companyID, action.ID, "action")
	if err != nil {
		return err
	}
	rollbackJSON, err := encodeMetadata(action.RollbackMetadata)
	if err != nil {
		return fmt.Errorf("encode rollback metadata: %w", err)
	}
	resultJSON, err := encodeMetadata(action.Result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	updatedAt := action.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(
		ctx,
		updateActionQuery,
		companyID,
		id,
		string(action.Status),
		action.RequiresApproval,
		action.RiskLevel.String(),
		rollbackJSON,
		resultJSON,
		nullIfEmpty(action.ErrorMessage),
		nullTime(action.ExecutedAt),
		updatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("update action: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update action: %w", err)
	}
	if affected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func scanAction(scanner rowScanner) (domain.Action, error) {
	var action domain.Action
	var status, riskLevel string
	var paramsJSON, rollbackJSON, resultJSON []byte
	var errorMessage, approvedBy sql.NullString
	var executedAt, approvedAt sql.NullTime
	if err := scanner.Scan(
		&action.ID,
		&action.RunID,
		&action.CompanyID,
		&action.StepOrder,
		&action.ToolName,
		&paramsJSON,
		&status,
		&action.RequiresApproval,
		&riskLevel,
		&rollbackJSON,
		&resultJSON,
		&errorMessage,
		&executedAt,
		&approvedBy,
		&approvedAt,
		&action.CreatedAt,
		&action.UpdatedAt,
	); err != nil {
		if err = handleNotFound(err); errors.Is(err, repo.ErrNotFound) {
			return domain.Action{}, err
		}
		return domain.Action{}, fmt.Errorf("scan action: %w", err)
	}
	level, err := domain.ParseRiskLevel(riskLevel)
	if err != nil {
		return domain.Action{}, err
	}
	params, err := decodeMetadata(paramsJSON)
	if err != nil {
		return domain.Action{}, fmt.Errorf("decode tool params: %w", err)
	}
	rollback, err := decodeMetadata(rollbackJSON)
	if err != nil {
		return domain.Action{}, fmt.Errorf("decode rollback metadata: %w", err)
	}
	result, err := decodeMetadata(resultJSON)
	if err != nil {
		return domain.Action{}, fmt.Errorf("decode result: %w", err)
	}
	action.Status = domain.ActionStatus(status)
	action.RiskLevel = level
	action.ToolParams = params
	action.RollbackMetadata = rollback
	action.Result = result
	action.ErrorMessage = stringValue(errorMessage)
	action.ExecutedAt = timePtr(executedAt)
	action.ApprovedBy = stringValue(approvedBy)
	action.ApprovedAt = timePtr(approvedAt)
	action.CreatedAt = action.CreatedAt.UTC()
	action.UpdatedAt = action.UpdatedAt.UTC()
	return action, nil
}
