package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/learnloop/coursemarket-backend/api/routes"
	"github.com/learnloop/coursemarket-backend/internal/checkout"
	"github.com/learnloop/coursemarket-backend/internal/courses"
	"github.com/learnloop/coursemarket-backend/internal/enrollments"
	"github.com/learnloop/coursemarket-backend/internal/payments"
	"github.com/learnloop/coursemarket-backend/internal/purchases"
	"github.com/learnloop/coursemarket-backend/internal/reconciliation"
	"github.com/learnloop/coursemarket-backend/internal/sweeper"
	"github.com/learnloop/coursemarket-backend/internal/users"
	stripewebhook "github.com/learnloop/coursemarket-backend/internal/webhooks/stripe"
	"github.com/learnloop/coursemarket-backend/pkg/config"
	"github.com/learnloop/coursemarket-backend/pkg/db"
	"github.com/learnloop/coursemarket-backend/pkg/logger"
	"github.com/learnloop/coursemarket-backend/pkg/metrics"
	"github.com/learnloop/coursemarket-backend/pkg/migrate"
	"github.com/learnloop/coursemarket-backend/pkg/outbox"
	"github.com/learnloop/coursemarket-backend/pkg/redis"
	"github.com/learnloop/coursemarket-backend/pkg/stripe"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe client", err)
		os.Exit(1)
	}
	gateway, err := payments.NewStripeGateway(stripeClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create payment gateway", err)
		os.Exit(1)
	}

	reconMetrics := metrics.NewReconciliationMetrics(prometheus.DefaultRegisterer)
	purchaseRepo := purchases.NewRepository(dbClient.DB())
	enrollmentStore := enrollments.NewStore(dbClient.DB())

	engine, err := reconciliation.NewEngine(reconciliation.EngineParams{
		TxRunner:    dbClient,
		Purchases:   purchaseRepo,
		Enrollments: enrollmentStore,
		Outbox:      outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Metrics:     reconMetrics,
		Logger:      logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconciliation engine", err)
		os.Exit(1)
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
		logg.Error(context.Background(), "failed to create sweeper", err)
		os.Exit(1)
	}

	checkoutService, err := checkout.NewService(checkout.ServiceParams{
		Purchases:      purchaseRepo,
		Courses:        courses.NewRepository(dbClient.DB()),
		Users:          users.NewRepository(dbClient.DB()),
		Enrollments:    enrollmentStore,
		Gateway:        gateway,
		Reconciler:     engine,
		Sweeper:        purchaseSweeper,
		Logger:         logg,
		SuccessURL:     cfg.Checkout.SuccessURL,
		CancelURL:      cfg.Checkout.CancelURL,
		SessionTimeout: cfg.Checkout.SessionTimeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	deliveries, err := stripewebhook.NewDeliveryLedger(redisClient, cfg.Eventing.WebhookIdempotencyTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe delivery ledger", err)
		os.Exit(1)
	}
	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Verifier:   gateway,
		Reconciler: engine,
		Deliveries: deliveries,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe webhook service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":        cfg.App.Env,
		"addr":       addr,
		"stripe_env": stripeClient.Environment(),
	})

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, routes.Deps{
			DB:               dbClient,
			Redis:            redisClient,
			IdempotencyStore: redisClient,
			Checkout:         checkoutService,
			StripeWebhook:    webhookService,
			Gatherer:         prometheus.DefaultGatherer,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
		logg.Info(ctx, "api server shutting down gracefully")
	}
}
