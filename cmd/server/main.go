// Command server assembles the escrow ledger runtime: configuration, secret
// resolution, the Postgres-backed ledger, the payment provider registry, the
// domain event bus with outbound hook delivery, metrics and health endpoints,
// and the settlement reconciliation sweep. The settlement and escrow services
// are the module's programmatic API; this binary runs their operational
// shell.
package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kevin07696/escrow-service/internal/adapters/logging"
	"github.com/kevin07696/escrow-service/internal/adapters/postgres"
	"github.com/kevin07696/escrow-service/internal/adapters/sandbox"
	"github.com/kevin07696/escrow-service/internal/config"
	"github.com/kevin07696/escrow-service/internal/domain"
	"github.com/kevin07696/escrow-service/internal/events"
	"github.com/kevin07696/escrow-service/internal/services/hooks"
	"github.com/kevin07696/escrow-service/internal/services/providers"
	"github.com/kevin07696/escrow-service/internal/services/settlement"
	"github.com/kevin07696/escrow-service/pkg/observability"
	"github.com/kevin07696/escrow-service/pkg/resourcemgmt"
	"github.com/kevin07696/escrow-service/pkg/shutdown"
)

func main() {
	// Load configuration from environment
	cfg, err := config.LoadFromEnv()
	if err != nil {
		bootstrap, _ := zap.NewProduction()
		bootstrap.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Initialize logger
	zapLogger := initLogger(cfg.Logger)
	defer zapLogger.Sync()

	zapLogger.Info("Starting escrow service",
		zap.String("version", "0.1.0"),
	)

	ctx := context.Background()

	// Secret source backs the credentials resolved below
	secretSource, err := initSecretSource(ctx, cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to initialize secret source", zap.Error(err))
	}

	if err := resolveCredentials(ctx, cfg, secretSource, zapLogger); err != nil {
		zapLogger.Fatal("Failed to resolve credentials", zap.Error(err))
	}

	// Initialize database connection pool
	dbPool, err := initDatabase(ctx, &cfg.Database)
	if err != nil {
		zapLogger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbPool.Close()

	zapLogger.Info("Database connection established",
		zap.String("database", cfg.Database.Database),
	)

	// Ledger stack behind the domain ports
	logger := logging.NewZapLogger(zapLogger)
	db := postgres.NewDBExecutor(dbPool)
	ledger := postgres.NewLedgerRepository(db)

	// Domain event bus with outbound hook delivery
	bus := events.NewBus(logger)
	dispatcher := initDispatcher(&cfg.Hooks, bus, logger)

	// Payment providers
	registry := providers.NewRegistry()
	if err := registry.Register(sandbox.New(sandbox.Config{
		Name:          cfg.Providers.SandboxName,
		WebhookSecret: cfg.Providers.SandboxWebhookSecret,
	})); err != nil {
		zapLogger.Fatal("Failed to register sandbox provider", zap.Error(err))
	}

	settlementSvc := settlement.NewService(db, ledger, registry, bus, logger)

	zapLogger.Info("Settlement pipeline assembled",
		zap.Strings("providers", registry.Names()),
		zap.Int("hook_endpoints", len(cfg.Hooks.Endpoints)),
	)

	// Metrics and health endpoints
	healthChecker := observability.NewHealthChecker(dbPool)
	metricsServer := observability.StartMetricsServer(strconv.Itoa(cfg.Server.MetricsPort), healthChecker, zapLogger)
	zapLogger.Info("Metrics server listening", zap.Int("port", cfg.Server.MetricsPort))

	// Goroutine leak monitoring
	monitor := resourcemgmt.NewGoroutineMonitor(zapLogger, nil)
	monitorCtx, stopMonitor := context.WithCancel(ctx)
	go monitor.Run(monitorCtx)

	// Hook delivery workers
	dispatcherCtx, stopDispatcher := context.WithCancel(ctx)
	dispatcher.Start(dispatcherCtx)

	// Background sweep for payments stuck mid-collection
	var reconciler *shutdown.PeriodicWorker
	if cfg.Reconciler.Enabled {
		reconciler = startReconciler(cfg.Reconciler, settlementSvc, zapLogger, logger)
	}

	// Graceful shutdown. The reconciler stops producing work first, the
	// dispatcher drains its queue, then the metrics server closes; the pool
	// closes on the deferred Close once everything else is done.
	manager := shutdown.NewManager(zapLogger, cfg.Server.ShutdownTimeout)
	manager.RegisterNoErr("goroutine-monitor", stopMonitor)
	manager.RegisterHTTPServer("metrics-server", metricsServer)
	manager.Register("hook-dispatcher", func(shutdownCtx context.Context) error {
		defer stopDispatcher()
		return dispatcher.Shutdown(shutdownCtx)
	})
	if reconciler != nil {
		manager.Register("settlement-reconciler", reconciler.Shutdown)
	}

	manager.WaitForShutdown()
}

// initLogger builds the process logger. Development mode gets human-readable
// console output; production gets structured JSON at the configured level.
func initLogger(cfg config.LoggerConfig) *zap.Logger {
	if cfg.Development {
		logger, _ := zap.NewDevelopment()
		return logger
	}

	zapCfg := zap.NewProductionConfig()
	if level, err := zapcore.ParseLevel(cfg.Level); err == nil {
		zapCfg.Level = zap.NewAtomicLevelAt(level)
	}
	logger, _ := zapCfg.Build()
	return logger
}

// initDatabase initializes the PostgreSQL connection pool
func initDatabase(ctx context.Context, cfg *config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns

	pool, err := pgxpool.NewWithConfig(poolCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(poolCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// initDispatcher builds the hook dispatcher for the configured endpoints and
// subscribes it to every domain event.
func initDispatcher(cfg *config.HooksConfig, bus *events.Bus, logger *logging.ZapLogger) *hooks.Dispatcher {
	endpoints := make([]hooks.Endpoint, 0, len(cfg.Endpoints))
	for _, url := range cfg.Endpoints {
		endpoints = append(endpoints, hooks.Endpoint{
			URL:           url,
			Secret:        cfg.SigningSecret,
			RatePerSecond: cfg.RatePerSecond,
			Burst:         cfg.Burst,
		})
	}

	dispatcher := hooks.NewDispatcher(hooks.Config{
		Workers:        cfg.Workers,
		QueueSize:      cfg.QueueSize,
		MaxAttempts:    cfg.MaxAttempts,
		RequestTimeout: cfg.RequestTimeout,
	}, endpoints, nil, logger)

	dispatcher.Attach(bus,
		domain.PaymentVerifiedEvent{}.Name(),
		domain.PaymentFailedEvent{}.Name(),
		domain.PaymentRefundedEvent{}.Name(),
		domain.WebhookProcessedEvent{}.Name(),
		domain.EscrowHeldEvent{}.Name(),
		domain.EscrowReleasedEvent{}.Name(),
		domain.EscrowSplitEvent{}.Name(),
		domain.EscrowCancelledEvent{}.Name(),
	)

	return dispatcher
}
