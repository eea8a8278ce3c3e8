package autopilot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/animus-labs/autopilot/internal/domain"
	"github.com/animus-labs/autopilot/internal/gateway"
)

func TestWithLockReleasesOnError(t *testing.T) {
	f := newFixture(t)
	run := f.seedRun(t, domain.RunApproved)
	locks := f.svc.Executor.Locks
	boom := errors.New("boom")

	err := locks.WithLock(context.Background(), run.ID, company, func(ctx context.Context, token string) error {
		if token == "" {
			t.Fatalf("empty lock token")
		}
		if !f.run(t, run.ID).Locked() {
			t.Fatalf("run not locked inside WithLock")
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithLock() err=%v", err)
	}
	if f.run(t, run.ID).Locked() {
		t.Fatalf("lock not released after error")
	}
}

func TestWithLockReleasesOnPanic(t *testing.T) {
	f := newFixture(t)
	run := f.seedRun(t, domain.RunApproved)
	locks := f.svc.Executor.Locks

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic to propagate")
			}
		}()
		_ = locks.WithLock(context.Background(), run.ID, company, func(context.Context, string) error {
			panic("tool bug")
		})
	}()
	if f.run(t, run.ID).Locked() {
		t.Fatalf("lock not released after panic")
	}
}

func TestWithLockReleasesAfterCancellation(t *testing.T) {
	f := newFixture(t)
	run := f.seedRun(t, domain.RunApproved)
	ctx, cancel := context.WithCancel(context.Background())

	_ = f.svc.Executor.Locks.WithLock(ctx, run.ID, company, func(context.Context, string) error {
		cancel()
		return nil
	})
	if f.run(t, run.ID).Locked() {
		t.Fatalf("lock not released after the caller's context was cancelled")
	}
}

func TestLockConflictAndStaleTakeover(t *testing.T) {
	f := newFixture(t)
	run := f.seedRun(t, domain.RunApproved)
	locks := f.svc.Executor.Locks
	ctx := context.Background()

	first, ok, err := locks.Acquire(ctx, run.ID, company)
	if err != nil || !ok {
		t.Fatalf("Acquire() ok=%v err=%v", ok, err)
	}
	if _, ok, _ := locks.Acquire(ctx, run.ID, company); ok {
		t.Fatalf("second Acquire() succeeded while lock is fresh")
	}
	err = locks.WithLock(ctx, run.ID, company, func(context.Context, string) error { return nil })
	if !errors.Is(err, ErrLockConflict) {
		t.Fatalf("WithLock() err=%v", err)
	}

	f.clock.Advance(31 * time.Minute)
	second, ok, err := locks.Acquire(ctx, run.ID, company)
	if err != nil || !ok {
		t.Fatalf("stale takeover failed: ok=%v err=%v", ok, err)
	}
	if second == first {
		t.Fatalf("takeover reused the old token")
	}
}

func TestStaleTakeoverDisabled(t *testing.T) {
	f := newFixture(t)
	run := f.seedRun(t, domain.RunApproved)
	locks := &LockManager{Runs: f.store, Now: f.clock.Now}
	ctx := context.Background()

	if _, ok, _ := locks.Acquire(ctx, run.ID, company); !ok {
		t.Fatalf("Acquire() failed")
	}
	f.clock.Advance(24 * time.Hour)
	if _, ok, _ := locks.Acquire(ctx, run.ID, company); ok {
		t.Fatalf("takeover must be disabled when StaleTTL is zero")
	}
}

func TestFinalizeAfterLockStolenConflicts(t *testing.T) {
	f := newFixture(t)
	run := f.seedRun(t, domain.RunApproved, domain.Action{
		ID:         "a-1",
		ToolName:   "propose_draft",
		ToolParams: domain.Metadata{"resource_type": "email", "values": map[string]any{"subject": "Hi"}},
		Status:     domain.ActionApproved,
		RiskLevel:  domain.RiskLow,
	})
	// Another process takes the lock over while this pass is talking to the gateway.
	f.gw.authEntered = make(chan struct{})
	f.gw.authRelease = make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := f.svc.ExecuteRun(context.Background(), admin, company, run.ID, ExecuteOptions{})
		done <- err
	}()
	<-f.gw.authEntered
	f.clock.Advance(time.Hour)
	if _, ok, err := f.svc.Executor.Locks.Acquire(context.Background(), run.ID, company); err != nil || !ok {
		t.Fatalf("takeover ok=%v err=%v", ok, err)
	}
	close(f.gw.authRelease)
	if err := <-done; !errors.Is(err, ErrLockConflict) {
		t.Fatalf("ExecuteRun() err=%v", err)
	}
}

func TestTakenOverPassStopsAndKeepsNewHoldersLock(t *testing.T) {
	f := newFixture(t)
	f.gw.Put("customer", "c-1", gateway.Record{"name": "Old"})
	f.gw.Put("customer", "c-2", gateway.Record{"name": "Old"})
	run := f.proposeApproved(t,
		updateProposal("customer", "c-1", map[string]any{"name": "New"}),
		updateProposal("customer", "c-2", map[string]any{"name": "New"}),
	)
	locks := f.svc.Executor.Locks
	ctx := context.Background()

	// Pass A stalls in the gateway long enough for its lock to go stale.
	f.gw.authEntered = make(chan struct{})
	f.gw.authRelease = make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := f.svc.ExecuteRun(ctx, admin, company, run.ID, ExecuteOptions{})
		done <- err
	}()
	<-f.gw.authEntered
	f.clock.Advance(31 * time.Minute)
	tokenB, ok, err := locks.Acquire(ctx, run.ID, company)
	if err != nil || !ok {
		t.Fatalf("takeover ok=%v err=%v", ok, err)
	}
	close(f.gw.authRelease)

	if err := <-done; !errors.Is(err, ErrLockConflict) {
		t.Fatalf("pass A err=%v", err)
	}
	if n := f.gw.writeCount(); n != 0 {
		t.Fatalf("pass A wrote %d times after losing the lock", n)
	}
	stored := f.run(t, run.ID)
	if stored.ExecutionLockUUID != tokenB {
		t.Fatalf("pass A's release cleared the new holder's lock: %q", stored.ExecutionLockUUID)
	}
	if _, ok, _ := locks.Acquire(ctx, run.ID, company); ok {
		t.Fatalf("a third pass acquired the lock while B holds it")
	}
	if err := locks.Release(ctx, run.ID, company, tokenB); err != nil {
		t.Fatalf("Release() err=%v", err)
	}
	if f.run(t, run.ID).Locked() {
		t.Fatalf("holder's release did not clear the lock")
	}
}

func TestRefreshKeepsLockFresh(t *testing.T) {
	f := newFixture(t)
	run := f.seedRun(t, domain.RunApproved)
	locks := f.svc.Executor.Locks
	ctx := context.Background()

	token, ok, err := locks.Acquire(ctx, run.ID, company)
	if err != nil || !ok {
		t.Fatalf("Acquire() ok=%v err=%v", ok, err)
	}
	f.clock.Advance(20 * time.Minute)
	if err := locks.Refresh(ctx, run.ID, company, token); err != nil {
		t.Fatalf("Refresh() err=%v", err)
	}
	f.clock.Advance(20 * time.Minute)
	if _, ok, _ := locks.Acquire(ctx, run.ID, company); ok {
		t.Fatalf("lock refreshed 20m ago was taken over")
	}
	if err := locks.Refresh(ctx, run.ID, company, "not-the-holder"); !errors.Is(err, ErrLockConflict) {
		t.Fatalf("Refresh() by a non-holder err=%v", err)
	}
}
