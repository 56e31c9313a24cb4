package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"switchyard.dev/audit"
	"switchyard.dev/auth"
	"switchyard.dev/channels"
	"switchyard.dev/circuit"
	"switchyard.dev/common"
	"switchyard.dev/config"
	"switchyard.dev/dedup"
	"switchyard.dev/delivery"
	"switchyard.dev/dlq"
	"switchyard.dev/events"
	"switchyard.dev/jobs"
	"switchyard.dev/ratelimit"
	"switchyard.dev/retry"
	"switchyard.dev/scheduler"
	"switchyard.dev/sources"
	"switchyard.dev/store"
	"switchyard.dev/transform"
	"switchyard.dev/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the gateway until interrupted",
	Long: `Serve wires the full gateway: document store, redis locks and rate
limits, the delivery engine, the event pipeline with its worker pool, the
per-tenant source adapters, the push-source HTTP server and the scheduler,
retry, DLQ and scheduled-job workers. SIGINT or SIGTERM triggers a graceful
shutdown in reverse dependency order.`,
	RunE: runServe,
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := common.ServiceLogger("serve")
	logger.WithFields(map[string]interface{}{
		"service":     cfg.Service.Name,
		"environment": cfg.Service.Environment,
	}).Info("gateway starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.New(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer st.Close()

	locks, err := store.NewLockManager(cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer locks.Close()

	sandbox := transform.NewSandbox(cfg.Delivery.ScriptBudget)
	transformer := transform.New(transform.NoopLookups{}, sandbox)
	authBuilder := auth.NewBuilder(st)

	engine := delivery.NewEngine(st, transformer, authBuilder,
		ratelimit.New(locks.Client()),
		circuit.New(st, cfg.Circuit),
		channels.NewRegistry(),
		sandbox,
		delivery.EngineConfig{
			Delivery:           cfg.Delivery,
			DLQMaxRetries:      cfg.DLQ.MaxRetries,
			MultiActionDelayMs: cfg.Pipeline.MultiActionDelayMs,
		})

	auditWriter := audit.NewWriter(st, cfg.Pipeline.AuditQueueSize)
	auditWriter.CapturePayloads = cfg.Pipeline.AuditPayloadSnapshot
	defer auditWriter.Close()

	checker := dedup.NewChecker(dedup.NewCache(cfg.Dedup), st, cfg.Dedup)
	processor := events.NewProcessor(engine, st, transformer, sandbox)
	handler := events.NewHandler(st, checker, auditWriter, processor, cfg.Pipeline)

	pool := worker.NewPool(handler, cfg.Pipeline)
	pool.Start(ctx)

	sharedDB, closeSharedDB, err := openSharedSQL(cfg.SharedSQL)
	if err != nil {
		pool.Stop()
		return fmt.Errorf("shared sql: %w", err)
	}
	defer closeSharedDB()

	cursors, err := sources.OpenCursorStore(cfg.Sources.CursorPath)
	if err != nil {
		pool.Stop()
		return fmt.Errorf("cursor store: %w", err)
	}
	defer cursors.Close()

	gateway := sources.NewPushGateway(st)
	manager, err := sources.NewManager(st, pool, gateway, cursors, sharedDB, cfg.Sources, cfg.Server.RateLimit)
	if err != nil {
		pool.Stop()
		return fmt.Errorf("source manager: %w", err)
	}
	manager.Start(ctx)

	pending := sources.NewPendingWorker(st, pool, 0, 0)
	pending.Start(ctx)

	watchdog := events.NewWatchdog(st, cfg.Pipeline.StuckThreshold)
	watchdog.Start(ctx)

	schedWorker := scheduler.NewWorker(st, engine, locks, cfg.Scheduler)
	schedWorker.Start(ctx)

	retryProcessor := retry.NewProcessor(st, engine, cfg.Retry)
	retryProcessor.Start(ctx)

	dlqWorker := dlq.NewWorker(st, engine, cfg.DLQ)
	if err := dlqWorker.Start(ctx); err != nil {
		return fmt.Errorf("dlq worker: %w", err)
	}

	jobWorker := jobs.NewWorker(st, jobs.NewFetcher(sharedDB, st), transformer, authBuilder)
	jobWorker.Start(ctx)

	e := newPushServer(cfg.Server, gateway)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	serverErr := make(chan error, 1)
	go func() {
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()
	logger.WithField("addr", addr).Info("push server listening")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.WithField("signal", sig.String()).Info("shutdown signal received")
	case err := <-serverErr:
		logger.WithError(err).Error("push server failed")
	}

	// Intake closes first so no new events enter the pipeline, then the
	// pipeline drains, then the background workers stop.
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("push server shutdown incomplete")
	}
	manager.Stop()
	pending.Stop()
	pool.Stop()
	jobWorker.Stop()
	dlqWorker.Stop()
	retryProcessor.Stop()
	schedWorker.Stop()
	watchdog.Stop()

	logger.Info("gateway stopped")
	return nil
}

// newPushServer builds the echo instance serving push ingestion and health.
func newPushServer(cfg config.ServerConfig, gateway *sources.PushGateway) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	if cfg.Debug {
		e.Use(middleware.Logger())
	}
	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}
	if cfg.RateLimit > 0 {
		e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(cfg.RateLimit))))
	}
	gateway.Mount(e)
	return e
}

// openSharedSQL opens the shared relational pool for table-poll sources and
// scheduled jobs. An empty DSN is fine; sources needing SQL then fail to
// start individually instead of blocking the whole gateway.
func openSharedSQL(cfg config.SharedSQLConfig) (*gorm.DB, func(), error) {
	if cfg.DSN == "" {
		return nil, func() {}, nil
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		dialector = mysql.Open(cfg.DSN)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	return db, func() { sqlDB.Close() }, nil
}
