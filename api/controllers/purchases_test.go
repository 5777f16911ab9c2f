package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/learnloop/coursemarket-backend/api/middleware"
	checkoutsvc "github.com/learnloop/coursemarket-backend/internal/checkout"
	"github.com/learnloop/coursemarket-backend/internal/purchases"
	"github.com/learnloop/coursemarket-backend/pkg/auth"
	"github.com/learnloop/coursemarket-backend/pkg/enums"
	pkgerrors "github.com/learnloop/coursemarket-backend/pkg/errors"
	"github.com/learnloop/coursemarket-backend/pkg/outbox"
	"github.com/learnloop/coursemarket-backend/pkg/types"
)

type stubCheckoutService struct {
	buyerID    uuid.UUID
	courseIDs  []uuid.UUID
	purchaseID uuid.UUID
	sessionID  string
	status     *enums.PurchaseStatus
	actor      outbox.ActorRef
	err        error
}

func (s *stubCheckoutService) InitiatePurchase(_ context.Context, buyerID, courseID uuid.UUID) (*checkoutsvc.InitiateResult, error) {
	s.buyerID = buyerID
	s.courseIDs = []uuid.UUID{courseID}
	if s.err != nil {
		return nil, s.err
	}
	return &checkoutsvc.InitiateResult{PurchaseID: uuid.New(), SessionID: "cs_1", SessionURL: "https://pay.example/cs_1"}, nil
}

func (s *stubCheckoutService) InitiateCartPurchase(_ context.Context, buyerID uuid.UUID, courseIDs []uuid.UUID) (*checkoutsvc.CartInitiateResult, error) {
	s.buyerID = buyerID
	s.courseIDs = courseIDs
	if s.err != nil {
		return nil, s.err
	}
	return &checkoutsvc.CartInitiateResult{SessionID: "cs_cart"}, nil
}

func (s *stubCheckoutService) PollAndReconcile(_ context.Context, buyerID uuid.UUID, sessionID string) (*checkoutsvc.PollResult, error) {
	s.buyerID = buyerID
	s.sessionID = sessionID
	if s.err != nil {
		return nil, s.err
	}
	return &checkoutsvc.PollResult{Resolved: true, PurchaseStatus: enums.PurchaseStatusCompleted}, nil
}

func (s *stubCheckoutService) CancelPurchase(_ context.Context, buyerID, purchaseID uuid.UUID) (enums.PurchaseStatus, error) {
	s.buyerID = buyerID
	s.purchaseID = purchaseID
	return enums.PurchaseStatusCancelled, s.err
}

func (s *stubCheckoutService) RetryPurchase(_ context.Context, buyerID, purchaseID uuid.UUID) (*checkoutsvc.InitiateResult, error) {
	s.buyerID = buyerID
	s.purchaseID = purchaseID
	if s.err != nil {
		return nil, s.err
	}
	return &checkoutsvc.InitiateResult{PurchaseID: purchaseID, SessionID: "cs_retry"}, nil
}

func (s *stubCheckoutService) ListPurchases(_ context.Context, buyerID uuid.UUID, status *enums.PurchaseStatus) ([]purchases.PurchaseDTO, error) {
	s.buyerID = buyerID
	s.status = status
	return []purchases.PurchaseDTO{}, s.err
}

func (s *stubCheckoutService) PendingCount(_ context.Context, buyerID uuid.UUID) (int64, error) {
	s.buyerID = buyerID
	return 2, s.err
}

func (s *stubCheckoutService) AdminForceComplete(_ context.Context, actor outbox.ActorRef, purchaseID uuid.UUID) (*purchases.PurchaseDTO, error) {
	s.actor = actor
	s.purchaseID = purchaseID
	if s.err != nil {
		return nil, s.err
	}
	return &purchases.PurchaseDTO{ID: purchaseID, Status: enums.PurchaseStatusCompleted}, nil
}

func (s *stubCheckoutService) AdminRefund(_ context.Context, actor outbox.ActorRef, purchaseID uuid.UUID) (*purchases.PurchaseDTO, error) {
	s.actor = actor
	s.purchaseID = purchaseID
	if s.err != nil {
		return nil, s.err
	}
	return &purchases.PurchaseDTO{ID: purchaseID, Status: enums.PurchaseStatusRefunded}, nil
}

func authedRequest(method, target, body string, userID uuid.UUID, role enums.UserRole) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	return req.WithContext(middleware.WithPrincipal(req.Context(), auth.Principal{UserID: userID, Role: role}))
}

func withParam(r *http.Request, key, value string) *http.Request {
	rc := chi.NewRouteContext()
	rc.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rc))
}

func TestInitiatePurchaseCreatesSession(t *testing.T) {
	svc := &stubCheckoutService{}
	buyer := uuid.New()
	course := uuid.New()

	rec := httptest.NewRecorder()
	InitiatePurchase(svc, nil)(rec, authedRequest(http.MethodPost, "/api/v1/purchases", `{"course_id":"`+course.String()+`"}`, buyer, enums.UserRoleStudent))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, buyer, svc.buyerID)
	require.Equal(t, []uuid.UUID{course}, svc.courseIDs)

	var body struct {
		Data checkoutsvc.InitiateResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "cs_1", body.Data.SessionID)
}

func TestInitiatePurchaseRequiresAuthenticatedBuyer(t *testing.T) {
	svc := &stubCheckoutService{}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/purchases", strings.NewReader(`{"course_id":"`+uuid.NewString()+`"}`))
	InitiatePurchase(svc, nil)(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestInitiatePurchaseSurfacesAlreadyEnrolled(t *testing.T) {
	svc := &stubCheckoutService{err: pkgerrors.New(pkgerrors.CodeConflict, "already enrolled in course")}
	rec := httptest.NewRecorder()
	InitiatePurchase(svc, nil)(rec, authedRequest(http.MethodPost, "/api/v1/purchases", `{"course_id":"`+uuid.NewString()+`"}`, uuid.New(), enums.UserRoleStudent))

	require.Equal(t, http.StatusConflict, rec.Code)
	var body types.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "already enrolled in course", body.Error.Message)
}

func TestInitiateCartRejectsDuplicates(t *testing.T) {
	svc := &stubCheckoutService{}
	course := uuid.NewString()
	rec := httptest.NewRecorder()
	InitiateCartPurchase(svc, nil)(rec, authedRequest(http.MethodPost, "/api/v1/purchases/cart", `{"course_ids":["`+course+`","`+course+`"]}`, uuid.New(), enums.UserRoleStudent))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Nil(t, svc.courseIDs)
}

func TestListPurchasesPassesStatusFilter(t *testing.T) {
	svc := &stubCheckoutService{}
	rec := httptest.NewRecorder()
	ListPurchases(svc, nil)(rec, authedRequest(http.MethodGet, "/api/v1/purchases?status=refunded", "", uuid.New(), enums.UserRoleStudent))

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.status)
	require.Equal(t, enums.PurchaseStatusRefunded, *svc.status)

	rec = httptest.NewRecorder()
	ListPurchases(svc, nil)(rec, authedRequest(http.MethodGet, "/api/v1/purchases?status=bogus", "", uuid.New(), enums.UserRoleStudent))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPollSessionUsesPathParam(t *testing.T) {
	svc := &stubCheckoutService{}
	rec := httptest.NewRecorder()
	req := withParam(authedRequest(http.MethodGet, "/api/v1/purchases/sessions/cs_9", "", uuid.New(), enums.UserRoleStudent), "sessionId", "cs_9")
	PollSession(svc, nil)(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "cs_9", svc.sessionID)
}

func TestCancelPurchaseMapsStateConflict(t *testing.T) {
	svc := &stubCheckoutService{err: pkgerrors.New(pkgerrors.CodeStateConflict, "purchase is already completed")}
	purchaseID := uuid.New()
	rec := httptest.NewRecorder()
	req := withParam(authedRequest(http.MethodPost, "/", "", uuid.New(), enums.UserRoleStudent), "purchaseId", purchaseID.String())
	CancelPurchase(svc, nil)(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, purchaseID, svc.purchaseID)
}

func TestRetryPurchaseRejectsBadID(t *testing.T) {
	svc := &stubCheckoutService{}
	rec := httptest.NewRecorder()
	req := withParam(authedRequest(http.MethodPost, "/", "", uuid.New(), enums.UserRoleStudent), "purchaseId", "not-a-uuid")
	RetryPurchase(svc, nil)(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRefundRecordsActor(t *testing.T) {
	svc := &stubCheckoutService{}
	admin := uuid.New()
	purchaseID := uuid.New()
	rec := httptest.NewRecorder()
	req := withParam(authedRequest(http.MethodPost, "/", "", admin, enums.UserRoleAdmin), "purchaseId", purchaseID.String())
	AdminRefundPurchase(svc, nil)(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, admin, svc.actor.UserID)
	require.Equal(t, string(enums.UserRoleAdmin), svc.actor.Role)
	require.Equal(t, purchaseID, svc.purchaseID)
}
