package autopilot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/autopilot/internal/repo"
)

const lockReleaseTimeout = 10 * time.Second

// LockManager guards execution passes with the run-level lock.
type LockManager struct {
	Runs repo.RunRepository
	// StaleTTL allows a new pass to take over a lock held longer than this.
	// Zero disables takeover.
	StaleTTL time.Duration
	Now      func() time.Time
	Logger   *slog.Logger
}

func (m *LockManager) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

// Acquire returns the new lock token and whether the lock was taken.
func (m *LockManager) Acquire(ctx context.Context, runID, companyID string) (string, bool, error) {
	token := uuid.NewString()
	now := m.now()
	var staleBefore time.Time
	if m.StaleTTL > 0 {
		staleBefore = now.Add(-m.StaleTTL)
	}
	ok, err := m.Runs.AcquireLock(ctx, companyID, runID, token, now, staleBefore)
	if err != nil {
		return "", false, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release clears the lock when token still holds it. A holder whose lock was
// taken over leaves the new holder's lock in place.
func (m *LockManager) Release(ctx context.Context, runID, companyID, token string) error {
	if err := m.Runs.ReleaseLock(ctx, companyID, runID, token); err != nil {
		return fmt.Errorf("release run lock: %w", err)
	}
	return nil
}

// Refresh renews the lock heartbeat and returns ErrLockConflict once token no
// longer holds the lock.
func (m *LockManager) Refresh(ctx context.Context, runID, companyID, token string) error {
	ok, err := m.Runs.RefreshLock(ctx, companyID, runID, token, m.now())
	if err != nil {
		return fmt.Errorf("refresh run lock: %w", err)
	}
	if !ok {
		return ErrLockConflict
	}
	return nil
}

// WithLock runs fn while holding the lock. The lock is released on every exit
// path, panics included, using a context that survives cancellation of ctx.
func (m *LockManager) WithLock(ctx context.Context, runID, companyID string, fn func(ctx context.Context, token string) error) error {
	token, ok, err := m.Acquire(ctx, runID, companyID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLockConflict
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lockReleaseTimeout)
		defer cancel()
		if err := m.Release(releaseCtx, runID, companyID, token); err != nil && m.Logger != nil {
			m.Logger.Error("run lock release failed", "run_id", runID, "company_id", companyID, "error", err)
		}
	}()
	return fn(ctx, token)
}
