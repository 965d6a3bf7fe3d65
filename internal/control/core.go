// Package control wires the resilience core: lock registry, transaction
// coordinator, checkpoint store, recovery orchestrator, error classifier and
// health monitor, assembled from configuration.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/pressly/goose/v3"
	"github.com/vietddude/sentinel/internal/checkpoint"
	"github.com/vietddude/sentinel/internal/core/config"
	"github.com/vietddude/sentinel/internal/core/domain"
	"github.com/vietddude/sentinel/internal/faults"
	"github.com/vietddude/sentinel/internal/health"
	redisclient "github.com/vietddude/sentinel/internal/infra/redis"
	"github.com/vietddude/sentinel/internal/infra/storage"
	"github.com/vietddude/sentinel/internal/infra/storage/memory"
	"github.com/vietddude/sentinel/internal/infra/storage/postgres"
	"github.com/vietddude/sentinel/internal/locking"
	"github.com/vietddude/sentinel/internal/recovery"
	"github.com/vietddude/sentinel/internal/txn"
)

// Core owns every component of the resilience layer. Construct with NewCore,
// then Start/Stop around the process lifetime.
type Core struct {
	cfg config.AppConfig
	log *slog.Logger

	Locks        *locking.Registry
	Transactions *txn.Coordinator
	Checkpoints  *checkpoint.Store
	Recovery     *recovery.Orchestrator
	Faults       *faults.Classifier
	Health       *health.Monitor
	Audit        storage.RecoveryAuditRepository

	healthServer *health.Server
	db           *postgres.DB
	redisClient  *redisclient.Client
}

// NewCore creates a Core instance with all dependencies initialized.
func NewCore(ctx context.Context, cfg config.AppConfig, log *slog.Logger) (*Core, error) {
	if log == nil {
		log = slog.Default()
	}

	c := &Core{cfg: cfg, log: log}

	// 1. Error classifier and breakers
	c.Faults = faults.NewClassifier(faults.BreakerConfig{
		Threshold: cfg.Breaker.Threshold,
		Window:    cfg.Breaker.Window,
		Cooldown:  cfg.Breaker.Cooldown,
	})

	// 2. Locking
	c.Locks = locking.NewRegistry()
	c.Transactions = txn.NewCoordinator(c.Locks, cfg.Locking.DefaultTimeout, log)

	// 3. Checkpoint backend
	var backend checkpoint.Backend
	switch cfg.Checkpoints.Backend {
	case "", "fs":
		fs, err := checkpoint.NewFSBackend(cfg.Checkpoints.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to init checkpoint backend: %w", err)
		}
		backend = fs
		log.Info("using filesystem checkpoint backend", "dir", cfg.Checkpoints.Dir)
	case "redis":
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		c.redisClient = client
		backend = checkpoint.NewRedisBackend(client, "checkpoints")
		log.Info("using redis checkpoint backend")
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Checkpoints.Backend)
	}

	store, err := checkpoint.NewStore(ctx, backend, cfg.Checkpoints.Config, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	c.Checkpoints = store

	// 4. Audit storage
	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		c.db = db

		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(db.DB.DB, "migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		c.Audit = postgres.NewAuditRepo(db)
		log.Info("using PostgreSQL audit storage")
	} else {
		c.Audit = memory.NewAuditRepo()
		log.Info("using in-memory audit storage")
	}

	// 5. Recovery
	c.Recovery = recovery.NewOrchestrator(c.Checkpoints, c.Faults, c.Audit, cfg.Recovery, log)

	// 6. Health monitoring
	c.Health = health.NewMonitor(cfg.Health, health.NewHostSampler(), log)
	c.registerCoreGauges()
	c.healthServer = health.NewServer(c.Health, cfg.Server.Port)

	return c, nil
}

// registerCoreGauges feeds the monitor with gauges derived from the core's
// own components.
func (c *Core) registerCoreGauges() {
	c.Health.RegisterGauge("transactions.in_flight", func(ctx context.Context) (float64, error) {
		return float64(len(c.Transactions.InFlight())), nil
	})
	c.Health.RegisterGauge("transactions.stale", func(ctx context.Context) (float64, error) {
		return float64(len(c.Transactions.Stale(c.cfg.Locking.StaleAge))), nil
	})
	c.Health.RegisterGauge("checkpoints.count", func(ctx context.Context) (float64, error) {
		return float64(len(c.Checkpoints.List(""))), nil
	})
	c.Health.RegisterGauge("locks.queue_depth", func(ctx context.Context) (float64, error) {
		depth := 0
		for _, snap := range c.Locks.Snapshots() {
			depth += snap.QueueDepth
		}
		return float64(depth), nil
	})
}

// Start launches the health monitor loops and HTTP server.
func (c *Core) Start(ctx context.Context) error {
	c.Health.Start(ctx)

	go func() {
		c.log.Info("health server listening", "port", c.cfg.Server.Port)
		if err := c.healthServer.Start(); err != nil && err != http.ErrServerClosed {
			c.log.Error("health server failed", "error", err)
		}
	}()

	return nil
}

// Stop shuts everything down gracefully, flagging transactions still in
// flight.
func (c *Core) Stop(ctx context.Context) error {
	c.Health.Stop()

	if err := c.healthServer.Stop(ctx); err != nil {
		c.log.Warn("health server shutdown failed", "error", err)
	}

	if stale := c.Transactions.InFlight(); len(stale) > 0 {
		ids := make([]string, 0, len(stale))
		for _, t := range stale {
			ids = append(ids, t.ID)
		}
		c.log.Warn("transactions still in flight at shutdown", "transactions", ids)
	}

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.log.Warn("db close failed", "error", err)
		}
	}
	if c.redisClient != nil {
		if err := c.redisClient.Close(); err != nil {
			c.log.Warn("redis close failed", "error", err)
		}
	}
	return nil
}

// CheckpointList exposes checkpoint metadata for operator tooling.
func (c *Core) CheckpointList(typ domain.CheckpointType) []domain.Checkpoint {
	return c.Checkpoints.List(typ)
}
