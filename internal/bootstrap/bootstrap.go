// Package bootstrap assembles the autopilot service from configuration. The
// HTTP service and the sweeper share it.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/redis/go-redis/v9"

	"github.com/animus-labs/autopilot/internal/autopilot"
	"github.com/animus-labs/autopilot/internal/gateway"
	"github.com/animus-labs/autopilot/internal/platform/httpserver"
	"github.com/animus-labs/autopilot/internal/platform/objectstore"
	"github.com/animus-labs/autopilot/internal/platform/postgres"
	"github.com/animus-labs/autopilot/internal/platform/redisclient"
	"github.com/animus-labs/autopilot/internal/platform/telemetry"
	"github.com/animus-labs/autopilot/internal/repo"
	"github.com/animus-labs/autopilot/internal/repo/memory"
	repopg "github.com/animus-labs/autopilot/internal/repo/postgres"
	"github.com/animus-labs/autopilot/internal/reports"
	"github.com/animus-labs/autopilot/internal/risk"
	"github.com/animus-labs/autopilot/internal/tools"
)

const readinessTimeout = 750 * time.Millisecond

type Runtime struct {
	Service *autopilot.Service
	Runs    repo.RunRepository
	DB      *sql.DB
	Redis   *redis.Client
	Minio   *minio.Client

	cfg    Config
	checks []httpserver.ReadinessCheck
}

// Build opens every configured dependency. Errors mean a dependency is
// unavailable; configuration errors are caught by ConfigFromEnv.
func Build(ctx context.Context, logger *slog.Logger, cfg Config) (*Runtime, error) {
	rt := &Runtime{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	var (
		runs     repo.RunRepository
		actions  repo.ActionRepository
		members  repo.MembershipReader
		audit    repo.AuditAppender
		policies risk.PolicyStore
	)
	switch cfg.Store {
	case StorePostgres:
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("database unavailable: %w", err)
		}
		rt.DB = db
		if cfg.Postgres.AutoMigrate {
			if err := repopg.Migrate(ctx, db); err != nil {
				return nil, err
			}
			logger.Info("database schema applied")
		}
		runs = repopg.NewRunStore(db)
		actions = repopg.NewActionStore(db)
		members = repopg.NewMembershipStore(db)
		audit = repopg.NewAuditAppender(db)
		policies = repopg.NewPolicyStore(db)
		rt.checks = append(rt.checks, httpserver.ReadinessCheck{
			Name:  "postgres",
			Check: httpserver.CheckWithTimeout(readinessTimeout, db.PingContext),
		})
	default:
		store := memory.New()
		runs, actions, members, audit = store, store, store, store
		filePolicies, err := risk.ParseFilePolicies(nil)
		if cfg.PolicyFilePath != "" {
			filePolicies, err = risk.LoadFilePolicies(cfg.PolicyFilePath)
		}
		if err != nil {
			return nil, err
		}
		policies = filePolicies
		logger.Warn("using in-memory store; state is lost on exit")
	}
	rt.Runs = runs
	// Proposals may read through the cache; execution re-checks always go to
	// the source store.
	sourcePolicies := policies

	if cfg.Redis.Enabled() {
		rdb, err := redisclient.Open(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("redis unavailable: %w", err)
		}
		rt.Redis = rdb
		policies = risk.NewCachedPolicyStore(policies, rdb, cfg.Redis.PolicyTTL, cfg.Redis.KeyPrefix, logger)
		rt.checks = append(rt.checks, httpserver.ReadinessCheck{
			Name: "redis",
			Check: httpserver.CheckWithTimeout(readinessTimeout, func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			}),
		})
	}

	var sink autopilot.ReportSink
	if cfg.ObjectStore.Enabled() {
		client, err := objectstore.NewMinIOClient(cfg.ObjectStore)
		if err != nil {
			return nil, fmt.Errorf("object store client: %w", err)
		}
		startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = objectstore.EnsureReportsBucket(startupCtx, client, cfg.ObjectStore)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("object store unavailable: %w", err)
		}
		rt.Minio = client
		store, err := reports.NewMinioStoreWithClient(client)
		if err != nil {
			return nil, err
		}
		sink = reports.Archive{Store: store, Bucket: cfg.ObjectStore.BucketReports, Prefix: cfg.ReportPrefix}
		rt.checks = append(rt.checks, httpserver.ReadinessCheck{
			Name: "minio",
			Check: httpserver.CheckWithTimeout(readinessTimeout, func(ctx context.Context) error {
				return objectstore.CheckReportsBucket(ctx, client, cfg.ObjectStore)
			}),
		})
	}

	var gw gateway.Gateway
	if cfg.Gateway.Enabled() {
		httpGateway, err := gateway.NewHTTPGateway(cfg.Gateway)
		if err != nil {
			return nil, fmt.Errorf("gateway: %w", err)
		}
		gw = httpGateway
	} else {
		gw = gateway.NewMemoryGateway()
		logger.Warn("no external gateway configured; writes go to an in-memory record store")
	}

	fallback := risk.DefaultFallbackTable()
	if cfg.FallbackTablePath != "" {
		table, err := risk.LoadFallbackTable(cfg.FallbackTablePath)
		if err != nil {
			return nil, err
		}
		fallback = table
	}

	rt.Service = newService(serviceDeps{
		runs:             runs,
		actions:          actions,
		members:          members,
		audit:            audit,
		proposalPolicies: policies,
		sourcePolicies:   sourcePolicies,
		fallback:         fallback,
		gateway:          gw,
		reports:          sink,
		staleLockTTL:     cfg.StaleLockTTL,
		passTimeout:      cfg.PassTimeout,
		logger:           logger,
	})
	ok = true
	return rt, nil
}

type serviceDeps struct {
	runs    repo.RunRepository
	actions repo.ActionRepository
	members repo.MembershipReader
	audit   repo.AuditAppender
	// proposalPolicies may be cached; sourcePolicies never is.
	proposalPolicies risk.PolicyStore
	sourcePolicies   risk.PolicyStore
	fallback         risk.FallbackTable
	gateway          gateway.Gateway
	reports          autopilot.ReportSink
	staleLockTTL     time.Duration
	passTimeout      time.Duration
	logger           *slog.Logger
}

func newService(d serviceDeps) *autopilot.Service {
	registry := tools.DefaultRegistry()
	return &autopilot.Service{
		Runs:      d.runs,
		Actions:   d.actions,
		Admins:    autopilot.MembershipAdminChecker{Memberships: d.members, Fallback: autopilot.RoleAdminChecker{}},
		Audit:     d.audit,
		Evaluator: risk.NewEvaluator(d.proposalPolicies, registry, d.fallback, d.logger),
		Tools:     registry,
		Logger:    d.logger,
		Executor: &autopilot.Executor{
			Runs:        d.runs,
			Actions:     d.actions,
			Locks:       &autopilot.LockManager{Runs: d.runs, StaleTTL: d.staleLockTTL, Logger: d.logger},
			Evaluator:   risk.NewEvaluator(d.sourcePolicies, registry, d.fallback, d.logger),
			Tools:       registry,
			Gateway:     d.gateway,
			Reports:     d.reports,
			Telemetry:   telemetry.New(),
			Logger:      d.logger,
			PassTimeout: d.passTimeout,
		},
	}
}

func (rt *Runtime) ReadinessChecks() []httpserver.ReadinessCheck {
	return rt.checks
}

func (rt *Runtime) Close() {
	if rt.Redis != nil {
		_ = rt.Redis.Close()
	}
	if rt.DB != nil {
		_ = rt.DB.Close()
	}
}
