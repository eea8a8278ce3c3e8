package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/autopilot/internal/domain"
	platformpg "github.com/animus-labs/autopilot/internal/platform/postgres"
	"github.com/animus-labs/autopilot/internal/repo"
)

// Beginner is a DB that can open transactions, normally *sql.DB.
type Beginner interface {
	DB
	platformpg.TxBeginner
}

type RunStore struct {
	db Beginner
}

const runColumns = `run_id, company_id, status, phase, execution_lock_uuid, execution_locked_at,
	approved_by, approved_at, approval_note, metrics, completed_at, created_by, created_at, updated_at`

const (
	insertRunQuery = `INSERT INTO autopilot_runs (` + runColumns + `)
	VALUES ($1,$2,$3,$4,NULL,NULL,NULL,NULL,NULL,NULL,NULL,$5,$6,$6)`

	selectRunQuery = `SELECT ` + runColumns + `
	 FROM autopilot_runs
	 WHERE company_id = $1 AND run_id = $2`

	acquireLockQuery = `UPDATE autopilot_runs
	 SET execution_lock_uuid = $3::uuid, execution_locked_at = $4::timestamptz, updated_at = $4::timestamptz
	 WHERE company_id = $1 AND run_id = $2
	   AND (execution_lock_uuid IS NULL OR ($5::timestamptz IS NOT NULL AND execution_locked_at < $5::timestamptz))`

	refreshLockQuery = `UPDATE autopilot_runs
	 SET execution_locked_at = $4::timestamptz, updated_at = $4::timestamptz
	 WHERE company_id = $1 AND run_id = $2 AND execution_lock_uuid = $3::uuid`

	releaseLockQuery = `UPDATE autopilot_runs
	 SET execution_lock_uuid = NULL, execution_locked_at = NULL, updated_at = $4::timestamptz
	 WHERE company_id = $1 AND run_id = $2 AND execution_lock_uuid = $3::uuid`

	finalizeRunQuery = `UPDATE autopilot_runs
	 SET status = $4, phase = $5, metrics = $6::jsonb, completed_at = $7::timestamptz, updated_at = $8::timestamptz
	 WHERE company_id = $1 AND run_id = $2 AND execution_lock_uuid = $3::uuid`

	decideRunQuery = `UPDATE autopilot_runs
	 SET status = $3,
	     phase = $4,
	     approved_by = CASE WHEN $5::boolean THEN $6::text ELSE approved_by END,
	     approved_at = CASE WHEN $5::boolean THEN $7::timestamptz ELSE approved_at END,
	     approval_note = $8::text,
	     updated_at = $7::timestamptz
	 WHERE company_id = $1 AND run_id = $2
	   AND status = ANY($9::text[])
	   AND execution_lock_uuid IS NULL`

	cascadeActionsQuery = `UPDATE autopilot_actions
	 SET status = $4,
	     approved_by = CASE WHEN $5::boolean THEN $6::text ELSE NULL END,
	     approved_at = CASE WHEN $5::boolean THEN $7::timestamptz ELSE NULL END,
	     updated_at = $7::timestamptz
	 WHERE company_id = $1 AND run_id = $2 AND status = $3`

	listExecutableRunsQuery = `SELECT ` + runColumns + `
	 FROM autopilot_runs
	 WHERE status = 'approved' AND execution_lock_uuid IS NULL
	 ORDER BY created_at ASC
	 LIMIT $1`
)

func NewRunStore(db Beginner) *RunStore {
	if db == nil {
		return nil
	}
	return &RunStore{db: db}
}

func (s *RunStore) CreateRun(ctx context.Context, run domain.Run, actions []domain.Action) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	if err := run.Validate(); err != nil {
		return err
	}
	createdAt := normalizeTime(run.CreatedAt)
	return platformpg.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(
			ctx,
			insertRunQuery,
			strings.TrimSpace(run.ID),
			strings.TrimSpace(run.CompanyID),
			string(run.Status),
			string(run.Phase),
			strings.TrimSpace(run.CreatedBy),
			createdAt,
		); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		for _, action := range actions {
			if action.CreatedAt.IsZero() {
				action.CreatedAt = createdAt
			}
			if err := insertAction(ctx, tx, action); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *RunStore) GetRun(ctx context.Context, companyID, id string) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	companyID, id, err := requireScope(companyID, id, "run")
	if err != nil {
		return domain.Run{}, err
	}
	return scanRun(s.db.QueryRowContext(ctx, selectRunQuery, companyID, id))
}

func (s *RunStore) ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run store not initialized")
	}
	query, args, err := buildListRunsQuery(filter)
	if err != nil {
		return nil, err
	}
	return s.queryRuns(ctx, query, args...)
}

func buildListRunsQuery(filter repo.RunFilter) (string, []any, error) {
	companyID := strings.TrimSpace(filter.CompanyID)
	if companyID == "" {
		return "", nil, fmt.Errorf("company id is required")
	}
	args := []any{companyID}
	clauses := []string{"company_id = $1"}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + runColumns + ` FROM autopilot_runs WHERE ` + strings.Join(clauses, " AND ") +
		" ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args, nil
}

func (s *RunStore) ListExecutableRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run store not initialized")
	}
	if limit <= 0 {
		limit = 50
	}
	return s.queryRuns(ctx, listExecutableRunsQuery, limit)
}

func (s *RunStore) queryRuns(ctx context.Context, query string, args ...any) ([]domain.Run, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]domain.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func (s *RunStore) ApplyRunDecision(ctx context.Context, companyID string, decision repo.RunDecision) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	companyID, runID, err := requireScope(companyID, decision.RunID, "run")
	if err != nil {
		return domain.Run{}, err
	}
	if len(decision.FromStatuses) == 0 {
		return domain.Run{}, fmt.Errorf("from statuses are required")
	}
	at := normalizeTime(decision.At)
	from := make([]string, 0, len(decision.FromStatuses))
	for _, status := range decision.FromStatuses {
		from = append(from, string(status))
	}

	var updated domain.Run
	err = platformpg.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(
			ctx,
			decideRunQuery,
			companyID,
			runID,
			string(decision.ToStatus),
			string(decision.Phase),
			decision.StampApproval,
			strings.TrimSpace(decision.Actor),
			at,
			nullIfEmpty(decision.Note),
			from,
		)
		if err != nil {
			return fmt.Errorf("update run: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update run: %w", err)
		}
		if affected == 0 {
			return repo.ErrConflict
		}
		if decision.CascadeTo != "" {
			if _, err := tx.ExecContext(
				ctx,
				cascadeActionsQuery,
				companyID,
				runID,
				string(decision.CascadeFrom),
				string(decision.CascadeTo),
				decision.CascadeTo == domain.ActionApproved,
				strings.TrimSpace(decision.Actor),
				at,
			); err != nil {
				return fmt.Errorf("cascade actions: %w", err)
			}
		}
		run, err := scanRun(tx.QueryRowContext(ctx, selectRunQuery, companyID, runID))
		if err != nil {
			return err
		}
		updated = run
		return nil
	})
	if err != nil {
		return domain.Run{}, err
	}
	return updated, nil
}

func (s *RunStore) FinalizeRun(ctx context.Context, companyID, runID string, fin repo.RunFinalization) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	companyID, runID, err := requireScope(companyID, runID, "run")
	if err != nil {
		return err
	}
	metricsJSON, err := json.Marshal(fin.Metrics)
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	res, err := s.db.ExecContext(
		ctx,
		finalizeRunQuery,
		companyID,
		runID,
		strings.TrimSpace(fin.LockToken),
		string(fin.Status),
		string(fin.Phase),
		metricsJSON,
		nullTime(&fin.CompletedAt),
		normalizeTime(fin.At),
	)
	if err != nil {
		return fmt.Errorf("finalize run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalize run: %w", err)
	}
	if affected == 0 {
		return repo.ErrConflict
	}
	return nil
}

func (s *RunStore) AcquireLock(ctx context.Context, companyID, runID, token string, now, staleBefore time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("run store not initialized")
	}
	companyID, runID, err := requireScope(companyID, runID, "run")
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(token) == "" {
		return false, fmt.Errorf("lock token is required")
	}
	var stale sql.NullTime
	if !staleBefore.IsZero() {
		stale = sql.NullTime{Time: staleBefore.UTC(), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, acquireLockQuery, companyID, runID, token, normalizeTime(now), stale)
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	return affected == 1, nil
}

func (s *RunStore) RefreshLock(ctx context.Context, companyID, runID, token string, now time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("run store not initialized")
	}
	companyID, runID, err := requireScope(companyID, runID, "run")
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(token) == "" {
		return false, nil
	}
	res, err := s.db.ExecContext(ctx, refreshLockQuery, companyID, runID, token, normalizeTime(now))
	if err != nil {
		return false, fmt.Errorf("refresh lock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("refresh lock: %w", err)
	}
	return affected == 1, nil
}

func (s *RunStore) ReleaseLock(ctx context.Context, companyID, runID, token string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	companyID, runID, err := requireScope(companyID, runID, "run")
	if err != nil {
		return err
	}
	if strings.TrimSpace(token) == "" {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, releaseLockQuery, companyID, runID, token, time.Now().UTC()); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

func scanRun(scanner rowScanner) (domain.Run, error) {
	var run domain.Run
	var status, phase string
	var lockUUID, approvedBy, approvalNote sql.NullString
	var lockedAt, approvedAt, completedAt sql.NullTime
	var metricsJSON []byte
	if err := scanner.Scan(
		&run.ID,
		&run.CompanyID,
		&status,
		&phase,
		&lockUUID,
		&lockedAt,
		&approvedBy,
		&approvedAt,
		&approvalNote,
		&metricsJSON,
		&completedAt,
		&run.CreatedBy,
		&run.CreatedAt,
		&run.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Run{}, repo.ErrNotFound
		}
		return domain.Run{}, fmt.Errorf("scan run: %w", err)
	}
	run.Status = domain.RunStatus(status)
	run.Phase = domain.RunPhase(phase)
	run.ExecutionLockUUID = stringValue(lockUUID)
	run.ExecutionLockedAt = timePtr(lockedAt)
	run.ApprovedBy = stringValue(approvedBy)
	run.ApprovedAt = timePtr(approvedAt)
	run.ApprovalNote = stringValue(approvalNote)
	run.CompletedAt = timePtr(completedAt)
	run.CreatedAt = run.CreatedAt.UTC()
	run.UpdatedAt = run.UpdatedAt.UTC()
	if len(metricsJSON) > 0 && string(metricsJSON) != "null" {
		var metrics domain.RunMetrics
		if err := json.Unmarshal(metricsJSON, &metrics); err != nil {
			return domain.Run{}, fmt.Errorf("decode metrics: %w", err)
		}
		run.Metrics = &metrics
	}
	return run, nil
}
