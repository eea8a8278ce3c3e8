package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/animus-labs/autopilot/internal/autopilot"
	"github.com/animus-labs/autopilot/internal/domain"
)

type runLister interface {
	ListExecutableRuns(ctx context.Context, limit int) ([]domain.Run, error)
}

type runExecutor interface {
	ExecuteRun(ctx context.Context, caller autopilot.Caller, companyID, runID string, opts autopilot.ExecuteOptions) (autopilot.ExecutionReport, error)
}

type sweepStats struct {
	Found     int
	Executed  int
	Contended int
	Failed    int
}

// sweeper drives approved runs that nobody executed by hand.
type sweeper struct {
	runs        runLister
	exec        runExecutor
	logger      *slog.Logger
	batch       int
	concurrency int
	dryRun      bool
}

// sweepOnce executes up to batch runs with bounded concurrency. A run held
// by another pass is counted as contended, not failed.
func (s *sweeper) sweepOnce(ctx context.Context) (sweepStats, error) {
	runs, err := s.runs.ListExecutableRuns(ctx, s.batch)
	if err != nil {
		return sweepStats{}, err
	}
	stats := sweepStats{Found: len(runs)}
	if len(runs) == 0 {
		return stats, nil
	}

	limit := s.concurrency
	if limit <= 0 {
		limit = 1
	}
	sem := make(chan struct{}, limit)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, run := range runs {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(run domain.Run) {
			defer wg.Done()
			defer func() { <-sem }()

			report, err := s.exec.ExecuteRun(ctx, autopilot.SystemCaller(), run.CompanyID, run.ID, autopilot.ExecuteOptions{DryRun: s.dryRun})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				stats.Executed++
				s.logger.Info("run swept", "company_id", run.CompanyID, "run_id", run.ID, "status", report.Status,
					"executed", report.Metrics.ExecutedActions, "failed", report.Metrics.FailedActions)
			case errors.Is(err, autopilot.ErrLockConflict), errors.Is(err, autopilot.ErrInvalidState):
				stats.Contended++
				s.logger.Info("run skipped", "company_id", run.CompanyID, "run_id", run.ID, "reason", err.Error())
			default:
				stats.Failed++
				s.logger.Error("run sweep failed", "company_id", run.CompanyID, "run_id", run.ID, "error", err)
			}
		}(run)
	}
	wg.Wait()
	return stats, nil
}

// loop sweeps every interval until ctx is done.
func (s *sweeper) loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		stats, err := s.sweepOnce(ctx)
		if err != nil && ctx.Err() == nil {
			s.logger.Error("list executable runs failed", "error", err)
		} else if stats.Found > 0 {
			s.logger.Info("sweep finished", "found", stats.Found, "executed", stats.Executed, "contended", stats.Contended, "failed", stats.Failed)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
