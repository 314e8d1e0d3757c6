package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/vietddude/resilience/internal/core/config"
	"github.com/vietddude/resilience/internal/core/worker"
	"github.com/vietddude/resilience/internal/health"
	"github.com/vietddude/resilience/internal/infra/downstream"
	redisclient "github.com/vietddude/resilience/internal/infra/redis"
	"github.com/vietddude/resilience/internal/infra/storage"
	"github.com/vietddude/resilience/internal/infra/storage/memory"
	"github.com/vietddude/resilience/internal/infra/storage/postgres"
	"github.com/vietddude/resilience/internal/infra/tracing"
	"github.com/vietddude/resilience/internal/resilience"
)

// App owns the resilience service and its supporting infrastructure.
type App struct {
	cfg          *config.AppConfig
	service      *resilience.Service
	snapshots    storage.SnapshotRepository
	snapshotter  *worker.Snapshotter
	healthServer *health.Server
	db           *postgres.DB
	redisClient  *redisclient.Client
	tracing      *tracing.Provider
	log          *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewApp creates the application with all dependencies initialized.
func NewApp(ctx context.Context, cfg *config.AppConfig, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{cfg: cfg, log: log}

	tp, err := tracing.Setup(cfg.Tracing, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	a.tracing = tp

	a.service = resilience.New(cfg.Resilience.Service(), log)
	a.service.SetTracer(tp.Tracer)

	// 1. Initialize Storage
	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			_ = tp.Shutdown(ctx)
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			_ = tp.Shutdown(ctx)
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		a.db = db
		a.snapshots = postgres.NewSnapshotRepo(db)
		log.Info("Using PostgreSQL snapshot storage")
	} else {
		a.snapshots = memory.NewSnapshotRepo()
		log.Info("Using Memory snapshot storage")
	}

	// 2. Breaker transition fan-out
	if cfg.Redis.URL != "" {
		rc, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			a.closeStores()
			_ = tp.Shutdown(ctx)
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		a.redisClient = rc
		a.service.SetPublisher(redisclient.NewTransitionPublisher(rc))
		log.Info("Publishing breaker transitions", "channel", rc.Channel())
	}

	// 3. Workers and admin surface
	m := cfg.Resilience.Metrics
	a.snapshotter = worker.NewSnapshotter(a.service, a.snapshots, m.SnapshotInterval, m.SnapshotRetention, log)
	a.healthServer = health.NewServer(a.service, cfg.Server.Port)

	return a, nil
}

// Service returns the shared resilience service.
func (a *App) Service() *resilience.Service {
	return a.service
}

// Snapshots returns the snapshot repository in use.
func (a *App) Snapshots() storage.SnapshotRepository {
	return a.snapshots
}

// NewDownstream creates a guarded JSON client for a dependency.
func (a *App) NewDownstream(name, baseURL string, timeout time.Duration) *downstream.Client {
	return downstream.NewClient(name, baseURL, timeout, a.service)
}

// Start launches background work and the admin server. It does not block.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	// Start Health Server
	go func() {
		if err := a.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("Health server failed", "error", err)
		}
	}()

	a.service.Start(ctx)

	// Start DB Metrics Collector
	if a.db != nil {
		a.db.StartMetricsCollector(ctx)
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.snapshotter.Start(ctx)
	}()

	a.log.Info("Resilience app started", "port", a.cfg.Server.Port)
	return nil
}

// Stop stops background work and releases connections.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping resilience app...")

	if a.cancel != nil {
		a.cancel()
	}
	a.service.Stop()
	a.wg.Wait()

	err := a.healthServer.Stop(ctx)
	a.closeStores()
	if terr := a.tracing.Shutdown(ctx); terr != nil {
		a.log.Warn("Failed to flush traces", "error", terr)
	}
	return err
}

func (a *App) closeStores() {
	// Close Redis
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("Failed to close database", "error", err)
		}
	}
}
