// Command sweeper executes approved autopilot runs in the background.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/animus-labs/autopilot/internal/bootstrap"
	"github.com/animus-labs/autopilot/internal/platform/telemetry"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	var (
		once        bool
		dryRun      bool
		interval    time.Duration
		concurrency int
		batch       int
	)
	flags := pflag.NewFlagSet("sweeper", pflag.ContinueOnError)
	flags.BoolVar(&once, "once", false, "run a single sweep and exit")
	flags.BoolVar(&dryRun, "dry-run", false, "evaluate runs without writing to the external system")
	flags.DurationVar(&interval, "interval", 30*time.Second, "time between sweeps")
	flags.IntVar(&concurrency, "concurrency", 4, "runs executed in parallel")
	flags.IntVar(&batch, "batch", 50, "maximum runs picked up per sweep")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	if interval <= 0 || concurrency <= 0 || batch <= 0 {
		fmt.Fprintln(os.Stderr, "error: --interval, --concurrency and --batch must be positive")
		os.Exit(2)
	}

	cfg, err := bootstrap.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetryCfg, err := telemetry.ConfigFromEnv("autopilot-sweeper")
	if err != nil {
		logger.Error("invalid telemetry config", "error", err)
		os.Exit(2)
	}
	shutdownTelemetry, err := telemetry.Setup(ctx, telemetryCfg)
	if err != nil {
		logger.Error("telemetry init failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry flush failed", "error", err)
		}
	}()

	rt, err := bootstrap.Build(ctx, logger, cfg)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	s := &sweeper{
		runs:        rt.Runs,
		exec:        rt.Service,
		logger:      logger,
		batch:       batch,
		concurrency: concurrency,
		dryRun:      dryRun,
	}
	if once {
		stats, err := s.sweepOnce(ctx)
		if err != nil {
			logger.Error("sweep failed", "error", err)
			os.Exit(1)
		}
		logger.Info("sweep finished", "found", stats.Found, "executed", stats.Executed, "contended", stats.Contended, "failed", stats.Failed)
		return
	}
	logger.Info("sweeper started", "interval", interval.String(), "concurrency", concurrency, "batch", batch, "dry_run", dryRun)
	s.loop(ctx, interval)
}
