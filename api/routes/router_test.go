package routes

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	checkoutsvc "github.com/learnloop/coursemarket-backend/internal/checkout"
	"github.com/learnloop/coursemarket-backend/internal/purchases"
	stripewebhook "github.com/learnloop/coursemarket-backend/internal/webhooks/stripe"
	pkgAuth "github.com/learnloop/coursemarket-backend/pkg/auth"
	"github.com/learnloop/coursemarket-backend/pkg/config"
	"github.com/learnloop/coursemarket-backend/pkg/enums"
	pkgerrors "github.com/learnloop/coursemarket-backend/pkg/errors"
	"github.com/learnloop/coursemarket-backend/pkg/logger"
	"github.com/learnloop/coursemarket-backend/pkg/outbox"
)

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(context.Context) error {
	return s.err
}

type stubCheckout struct {
	pending int64
	calls   []string
}

func (s *stubCheckout) InitiatePurchase(context.Context, uuid.UUID, uuid.UUID) (*checkoutsvc.InitiateResult, error) {
	s.calls = append(s.calls, "initiate")
	return &checkoutsvc.InitiateResult{PurchaseID: uuid.New(), SessionID: "cs_test"}, nil
}

func (s *stubCheckout) InitiateCartPurchase(context.Context, uuid.UUID, []uuid.UUID) (*checkoutsvc.CartInitiateResult, error) {
	s.calls = append(s.calls, "cart")
	return &checkoutsvc.CartInitiateResult{SessionID: "cs_cart"}, nil
}

func (s *stubCheckout) PollAndReconcile(context.Context, uuid.UUID, string) (*checkoutsvc.PollResult, error) {
	s.calls = append(s.calls, "poll")
	return &checkoutsvc.PollResult{}, nil
}

func (s *stubCheckout) CancelPurchase(context.Context, uuid.UUID, uuid.UUID) (enums.PurchaseStatus, error) {
	s.calls = append(s.calls, "cancel")
	return enums.PurchaseStatusCancelled, nil
}

func (s *stubCheckout) RetryPurchase(context.Context, uuid.UUID, uuid.UUID) (*checkoutsvc.InitiateResult, error) {
	s.calls = append(s.calls, "retry")
	return &checkoutsvc.InitiateResult{}, nil
}

func (s *stubCheckout) ListPurchases(context.Context, uuid.UUID, *enums.PurchaseStatus) ([]purchases.PurchaseDTO, error) {
	s.calls = append(s.calls, "list")
	return nil, nil
}

func (s *stubCheckout) PendingCount(context.Context, uuid.UUID) (int64, error) {
	s.calls = append(s.calls, "pending")
	return s.pending, nil
}

func (s *stubCheckout) AdminForceComplete(_ context.Context, _ outbox.ActorRef, id uuid.UUID) (*purchases.PurchaseDTO, error) {
	s.calls = append(s.calls, "complete")
	return &purchases.PurchaseDTO{ID: id, Status: enums.PurchaseStatusCompleted}, nil
}

func (s *stubCheckout) AdminRefund(_ context.Context, _ outbox.ActorRef, id uuid.UUID) (*purchases.PurchaseDTO, error) {
	s.calls = append(s.calls, "refund")
	return &purchases.PurchaseDTO{ID: id, Status: enums.PurchaseStatusRefunded}, nil
}

type stubWebhook struct {
	signature string
}

func (s *stubWebhook) HandlePaymentEvent(_ context.Context, _ []byte, signature string) (*stripewebhook.Ack, error) {
	s.signature = signature
	return &stripewebhook.Ack{EventID: "evt_1"}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test"},
		JWT: config.JWTConfig{Secret: "router-secret", Issuer: "coursemarket", ExpirationMinutes: 5},
		Eventing: config.EventingConfig{
			RequestIdempotencyTTL:  time.Hour,
			CheckoutIdempotencyTTL: 24 * time.Hour,
		},
	}
}

func newTestRouter(t *testing.T, deps Deps) (http.Handler, *config.Config) {
	t.Helper()
	cfg := testConfig()
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.NewRegistry()
	}
	return NewRouter(cfg, logger.Nop(), deps), cfg
}

func bearer(t *testing.T, cfg *config.Config, role enums.UserRole) string {
	t.Helper()
	token, err := pkgAuth.Mint(cfg.JWT, time.Now(), pkgAuth.Principal{
		UserID: uuid.New(),
		Role:   role,
	})
	require.NoError(t, err)
	return "Bearer " + token
}

func TestHealthLive(t *testing.T) {
	router, _ := newTestRouter(t, Deps{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "test", rec.Header().Get("X-CourseMarket-Env"))
}

func TestHealthReadyReportsFailingDependency(t *testing.T) {
	router, _ := newTestRouter(t, Deps{
		DB:    stubPinger{},
		Redis: stubPinger{err: errors.New("connection refused")},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpointServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "router_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	router, _ := newTestRouter(t, Deps{Gatherer: reg})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "router_test_total 1")
}

func TestPurchaseRoutesRequireToken(t *testing.T) {
	router, _ := newTestRouter(t, Deps{Checkout: &stubCheckout{}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/purchases", nil))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPendingCountWithToken(t *testing.T) {
	svc := &stubCheckout{pending: 3}
	router, cfg := newTestRouter(t, Deps{Checkout: svc})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/purchases/pending-count", nil)
	req.Header.Set("Authorization", bearer(t, cfg, enums.UserRoleStudent))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.JSONEq(t, `{"data":{"pending":3}}`, rec.Body.String())
}

func TestAdminRoutesRejectStudents(t *testing.T) {
	svc := &stubCheckout{}
	router, cfg := newTestRouter(t, Deps{Checkout: svc})

	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/purchases/"+uuid.NewString()+"/refund", nil)
	req.Header.Set("Authorization", bearer(t, cfg, enums.UserRoleStudent))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Empty(t, svc.calls)
}

func TestAdminRefundAsAdmin(t *testing.T) {
	svc := &stubCheckout{}
	router, cfg := newTestRouter(t, Deps{Checkout: svc})

	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/purchases/"+uuid.NewString()+"/refund", nil)
	req.Header.Set("Authorization", bearer(t, cfg, enums.UserRoleAdmin))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, []string{"refund"}, svc.calls)
}

func TestStripeWebhookSkipsAuth(t *testing.T) {
	hook := &stubWebhook{}
	router, _ := newTestRouter(t, Deps{StripeWebhook: hook})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "t=1,v1=abc", hook.signature)
}

func TestIdempotentRouteRequiresKeyWhenStoreWired(t *testing.T) {
	svc := &stubCheckout{}
	router, cfg := newTestRouter(t, Deps{Checkout: svc, IdempotencyStore: newMemoryStore()})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/purchases/"+uuid.NewString()+"/cancel", nil)
	req.Header.Set("Authorization", bearer(t, cfg, enums.UserRoleStudent))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), string(pkgerrors.CodeValidation))
	require.Empty(t, svc.calls)
}

func TestCORSPreflightAllowsConfiguredOrigin(t *testing.T) {
	router, _ := newTestRouter(t, Deps{})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/purchases", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

type memoryStore struct {
	values map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: map[string]string{}}
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "idem:" + scope + ":" + id
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	return true, nil
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}
