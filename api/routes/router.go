package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/learnloop/coursemarket-backend/api/controllers"
	webhookcontrollers "github.com/learnloop/coursemarket-backend/api/controllers/webhooks"
	"github.com/learnloop/coursemarket-backend/api/middleware"
	checkoutsvc "github.com/learnloop/coursemarket-backend/internal/checkout"
	pkgauth "github.com/learnloop/coursemarket-backend/pkg/auth"
	"github.com/learnloop/coursemarket-backend/pkg/config"
	"github.com/learnloop/coursemarket-backend/pkg/enums"
	"github.com/learnloop/coursemarket-backend/pkg/logger"
	pkgredis "github.com/learnloop/coursemarket-backend/pkg/redis"
)

// Deps carries everything the HTTP surface needs. Nil services still mount
// their routes and answer with an internal error.
type Deps struct {
	DB               controllers.Pinger
	Redis            controllers.Pinger
	IdempotencyStore pkgredis.IdempotencyStore
	Checkout         checkoutsvc.Service
	StripeWebhook    webhookcontrollers.StripeWebhookService
	Gatherer         prometheus.Gatherer
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSAllowedOrigins),
	)

	readiness := map[string]controllers.Pinger{}
	if deps.DB != nil {
		readiness["db"] = deps.DB
	}
	if deps.Redis != nil {
		readiness["redis"] = deps.Redis
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness))
	})

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(deps.StripeWebhook, logg))
	})

	verifier, err := pkgauth.NewVerifier(cfg.JWT)
	if err != nil && logg != nil {
		logg.Error(context.Background(), "jwt verifier unavailable, authenticated routes will fail", err)
	}
	authenticate := middleware.Auth(verifier, logg)

	standard := middleware.Idempotency(deps.IdempotencyStore, logg, cfg.Eventing.RequestIdempotencyTTL)
	checkout := middleware.Idempotency(deps.IdempotencyStore, logg, cfg.Eventing.CheckoutIdempotencyTTL)

	r.Route("/api/v1/purchases", func(r chi.Router) {
		r.Use(authenticate)

		r.Get("/", controllers.ListPurchases(deps.Checkout, logg))
		r.Get("/pending-count", controllers.PendingPurchaseCount(deps.Checkout, logg))
		r.Get("/sessions/{sessionId}", controllers.PollSession(deps.Checkout, logg))

		r.With(checkout).Post("/", controllers.InitiatePurchase(deps.Checkout, logg))
		r.With(checkout).Post("/cart", controllers.InitiateCartPurchase(deps.Checkout, logg))
		r.With(standard).Post("/{purchaseId}/cancel", controllers.CancelPurchase(deps.Checkout, logg))
		r.With(checkout).Post("/{purchaseId}/retry", controllers.RetryPurchase(deps.Checkout, logg))
	})

	r.Route("/api/admin/v1/purchases", func(r chi.Router) {
		r.Use(authenticate)
		r.Use(middleware.RequireRole(enums.UserRoleAdmin, logg))

		r.With(standard).Post("/{purchaseId}/complete", controllers.AdminCompletePurchase(deps.Checkout, logg))
		r.With(standard).Post("/{purchaseId}/refund", controllers.AdminRefundPurchase(deps.Checkout, logg))
	})

	return r
}
