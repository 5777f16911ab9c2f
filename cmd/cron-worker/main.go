package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/learnloop/coursemarket-backend/internal/cron"
	"github.com/learnloop/coursemarket-backend/internal/enrollments"
	"github.com/learnloop/coursemarket-backend/internal/purchases"
	"github.com/learnloop/coursemarket-backend/internal/reconciliation"
	"github.com/learnloop/coursemarket-backend/internal/sweeper"
	"github.com/learnloop/coursemarket-backend/pkg/config"
	"github.com/learnloop/coursemarket-backend/pkg/db"
	"github.com/learnloop/coursemarket-backend/pkg/logger"
	"github.com/learnloop/coursemarket-backend/pkg/metrics"
	"github.com/learnloop/coursemarket-backend/pkg/migrate"
	"github.com/learnloop/coursemarket-backend/pkg/outbox"
	"github.com/learnloop/coursemarket-backend/pkg/redis"
)

const serviceKind = "cron-worker"

func main() {
	boot := logger.New(logger.Options{ServiceName: serviceKind})
	if err := godotenv.Load(); err != nil {
		boot.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		boot.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceKind

	logg := logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "serviceKind": serviceKind})

	if err := run(ctx, cfg, logg); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer closeQuietly(ctx, logg, "database", dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer closeQuietly(ctx, logg, "redis", redisClient.Close)

	jobs, err := buildJobs(cfg, logg, dbClient)
	if err != nil {
		return err
	}

	lock, err := cron.NewRedisLock(redisClient, lockKeys(redisClient, cfg.App.Env))
	if err != nil {
		return fmt.Errorf("cron lock: %w", err)
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: jobs,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Tick:     cfg.Sweeper.CronTick,
	})
	if err != nil {
		return fmt.Errorf("create cron service: %w", err)
	}

	go func() {
		if err := metrics.Serve(ctx, cfg.Metrics.Addr, prometheus.DefaultGatherer, logg); err != nil {
			logg.Error(ctx, "metrics listener stopped", err)
		}
	}()

	logg.Info(ctx, "starting cron worker")
	return service.Run(ctx)
}

// buildJobs registers the expiry sweep on the sweeper cadence and the two
// deletion jobs on the slower purge cadence.
func buildJobs(cfg *config.Config, logg *logger.Logger, dbClient *db.Client) (*cron.Registry, error) {
	reconMetrics := metrics.NewReconciliationMetrics(prometheus.DefaultRegisterer)
	outboxRepo := outbox.NewRepository(dbClient.DB())
	purchaseRepo := purchases.NewRepository(dbClient.DB())

	engine, err := reconciliation.NewEngine(reconciliation.EngineParams{
		TxRunner:    dbClient,
		Purchases:   purchaseRepo,
		Enrollments: enrollments.NewStore(dbClient.DB()),
		Outbox:      outbox.NewService(outboxRepo, logg),
		Metrics:     reconMetrics,
		Logger:      logg,
	})
	if err != nil {
		return nil, fmt.Errorf("reconciliation engine: %w", err)
	}

	purchaseSweeper, err := sweeper.New(sweeper.Params{
		Expirer:      engine,
		Ledger:       purchaseRepo,
		Metrics:      reconMetrics,
		Logger:       logg,
		ExpiryWindow: cfg.Sweeper.ExpiryWindow,
		PurgeWindow:  cfg.Sweeper.PurgeWindow,
		Concurrency:  cfg.Sweeper.Concurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("sweeper: %w", err)
	}

	jobParams := cron.PurchaseJobParams{Logger: logg, Sweeper: purchaseSweeper}
	expiry, err := cron.NewPurchaseExpiryJob(jobParams)
	if err != nil {
		return nil, fmt.Errorf("purchase expiry job: %w", err)
	}
	purge, err := cron.NewPurchasePurgeJob(jobParams)
	if err != nil {
		return nil, fmt.Errorf("purchase purge job: %w", err)
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: outboxRepo,
		Metrics:    reconMetrics,
		Retention:  time.Duration(cfg.Outbox.RetentionDays) * 24 * time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("outbox retention job: %w", err)
	}

	registry := cron.NewRegistry()
	registry.Register(expiry, cfg.Sweeper.CronInterval)
	registry.Register(purge, cfg.Sweeper.PurgeInterval)
	registry.Register(retention, cfg.Sweeper.PurgeInterval)
	return registry, nil
}

// lockKeys scopes job locks per environment so staging and prod workers
// sharing a redis never block each other.
func lockKeys(client *redis.Client, env string) func(string) string {
	if env == "" {
		env = "local"
	}
	return func(job string) string {
		return client.LockKey(fmt.Sprintf("%s:%s:%s", serviceKind, env, job))
	}
}

func closeQuietly(ctx context.Context, logg *logger.Logger, what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(ctx, "error closing "+what, err)
	}
}
