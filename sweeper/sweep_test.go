package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/animus-labs/autopilot/internal/autopilot"
	"github.com/animus-labs/autopilot/internal/domain"
)

type fakeLister struct {
	runs  []domain.Run
	err   error
	limit int
}

func (f *fakeLister) ListExecutableRuns(_ context.Context, limit int) ([]domain.Run, error) {
	f.limit = limit
	return f.runs, f.err
}

type fakeExecutor struct {
	mu      sync.Mutex
	calls   []string
	callers []autopilot.Caller
	errs    map[string]error
	dryRun  bool

	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeExecutor) ExecuteRun(_ context.Context, caller autopilot.Caller, companyID, runID string, opts autopilot.ExecuteOptions) (autopilot.ExecutionReport, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	f.mu.Lock()
	f.calls = append(f.calls, companyID+"/"+runID)
	f.callers = append(f.callers, caller)
	f.dryRun = f.dryRun || opts.DryRun
	err := f.errs[runID]
	f.mu.Unlock()
	if err != nil {
		return autopilot.ExecutionReport{}, err
	}
	return autopilot.ExecutionReport{RunID: runID, CompanyID: companyID, Status: domain.RunCompleted}, nil
}

func runs(ids ...string) []domain.Run {
	out := make([]domain.Run, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.Run{ID: id, CompanyID: "acme", Status: domain.RunApproved})
	}
	return out
}

func TestSweepOnceClassifiesOutcomes(t *testing.T) {
	lister := &fakeLister{runs: runs("r1", "r2", "r3", "r4")}
	exec := &fakeExecutor{errs: map[string]error{
		"r2": autopilot.ErrLockConflict,
		"r3": &autopilot.StateError{Entity: "run", ID: "r3", Op: "execute", Current: "cancelled"},
		"r4": errors.New("database gone"),
	}}
	s := &sweeper{runs: lister, exec: exec, logger: slog.New(slog.DiscardHandler), batch: 10, concurrency: 2}

	stats, err := s.sweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweepOnce() err=%v", err)
	}
	if stats != (sweepStats{Found: 4, Executed: 1, Contended: 2, Failed: 1}) {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if lister.limit != 10 {
		t.Fatalf("expected batch 10, got %d", lister.limit)
	}
	for _, c := range exec.callers {
		if c.Subject != autopilot.SystemSubject {
			t.Fatalf("expected system caller, got %q", c.Subject)
		}
	}
}

func TestSweepOnceBoundsConcurrency(t *testing.T) {
	exec := &fakeExecutor{}
	s := &sweeper{
		runs:        &fakeLister{runs: runs("a", "b", "c", "d", "e", "f", "g", "h")},
		exec:        exec,
		logger:      slog.New(slog.DiscardHandler),
		batch:       8,
		concurrency: 3,
		dryRun:      true,
	}
	stats, err := s.sweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweepOnce() err=%v", err)
	}
	if stats.Executed != 8 || len(exec.calls) != 8 {
		t.Fatalf("expected 8 executions, got %+v calls=%d", stats, len(exec.calls))
	}
	if peak := exec.peak.Load(); peak > 3 {
		t.Fatalf("concurrency exceeded: peak=%d", peak)
	}
	if !exec.dryRun {
		t.Fatalf("dry run flag not forwarded")
	}
}

func TestSweepOnceListError(t *testing.T) {
	s := &sweeper{
		runs:   &fakeLister{err: errors.New("boom")},
		exec:   &fakeExecutor{},
		logger: slog.New(slog.DiscardHandler),
		batch:  5,
	}
	if _, err := s.sweepOnce(context.Background()); err == nil {
		t.Fatalf("expected list error")
	}
}

func TestLoopStopsOnCancel(t *testing.T) {
	exec := &fakeExecutor{}
	s := &sweeper{runs: &fakeLister{}, exec: exec, logger: slog.New(slog.DiscardHandler), batch: 5, concurrency: 1}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.loop(ctx, time.Millisecond)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("loop did not stop after cancel")
	}
}
