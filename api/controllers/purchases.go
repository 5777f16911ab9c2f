package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/learnloop/coursemarket-backend/api/middleware"
	"github.com/learnloop/coursemarket-backend/api/responses"
	"github.com/learnloop/coursemarket-backend/api/validators"
	checkoutsvc "github.com/learnloop/coursemarket-backend/internal/checkout"
	"github.com/learnloop/coursemarket-backend/pkg/auth"
	pkgerrors "github.com/learnloop/coursemarket-backend/pkg/errors"
	"github.com/learnloop/coursemarket-backend/pkg/logger"
)

type initiatePurchaseRequest struct {
	CourseID uuid.UUID `json:"course_id" validate:"required"`
}

type initiateCartRequest struct {
	CourseIDs []uuid.UUID `json:"course_ids" validate:"required,min=1,max=20,unique"`
}

// callerFunc is one purchase endpoint once the caller is known. It returns the
// success payload; status overrides 200 when non-zero.
type callerFunc func(ctx context.Context, r *http.Request, caller auth.Principal) (status int, body any, err error)

// withCaller checks the service and the authenticated principal, tags the
// request context with any purchase or session path parameter, and writes
// whatever call returns.
func withCaller(svc checkoutsvc.Service, logg *logger.Logger, call callerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		caller, ok := middleware.PrincipalFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authenticated user required"))
			return
		}
		ctx = scopeToPath(ctx, r, logg)

		status, body, err := call(ctx, r, caller)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if status == 0 {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, body)
	}
}

// InitiatePurchase opens a checkout session for a single course.
func InitiatePurchase(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return withCaller(svc, logg, func(ctx context.Context, r *http.Request, caller auth.Principal) (int, any, error) {
		var payload initiatePurchaseRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			return 0, nil, err
		}
		if payload.CourseID == uuid.Nil {
			return 0, nil, pkgerrors.New(pkgerrors.CodeValidation, "course_id is required")
		}
		result, err := svc.InitiatePurchase(ctx, caller.UserID, payload.CourseID)
		return http.StatusCreated, result, err
	})
}

// InitiateCartPurchase opens one checkout session covering several courses.
func InitiateCartPurchase(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return withCaller(svc, logg, func(ctx context.Context, r *http.Request, caller auth.Principal) (int, any, error) {
		var payload initiateCartRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			return 0, nil, err
		}
		result, err := svc.InitiateCartPurchase(ctx, caller.UserID, payload.CourseIDs)
		return http.StatusCreated, result, err
	})
}

// ListPurchases returns the buyer's purchases, optionally filtered by ?status=.
func ListPurchases(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return withCaller(svc, logg, func(ctx context.Context, r *http.Request, caller auth.Principal) (int, any, error) {
		status, err := validators.ParsePurchaseStatusQuery(r, "status")
		if err != nil {
			return 0, nil, err
		}
		items, err := svc.ListPurchases(ctx, caller.UserID, status)
		return 0, items, err
	})
}

func PendingPurchaseCount(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return withCaller(svc, logg, func(ctx context.Context, _ *http.Request, caller auth.Principal) (int, any, error) {
		count, err := svc.PendingCount(ctx, caller.UserID)
		return 0, map[string]int64{"pending": count}, err
	})
}

// PollSession reconciles a session the buyer returned from and reports the outcome.
func PollSession(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return withCaller(svc, logg, func(ctx context.Context, r *http.Request, caller auth.Principal) (int, any, error) {
		sessionID := strings.TrimSpace(chi.URLParam(r, "sessionId"))
		if sessionID == "" {
			return 0, nil, pkgerrors.New(pkgerrors.CodeValidation, "session id is required")
		}
		result, err := svc.PollAndReconcile(ctx, caller.UserID, sessionID)
		return 0, result, err
	})
}

func CancelPurchase(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return withCaller(svc, logg, func(ctx context.Context, r *http.Request, caller auth.Principal) (int, any, error) {
		purchaseID, err := validators.ParseUUIDParam(r, "purchaseId")
		if err != nil {
			return 0, nil, err
		}
		status, err := svc.CancelPurchase(ctx, caller.UserID, purchaseID)
		return 0, map[string]any{"purchase_id": purchaseID, "status": status}, err
	})
}

func RetryPurchase(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return withCaller(svc, logg, func(ctx context.Context, r *http.Request, caller auth.Principal) (int, any, error) {
		purchaseID, err := validators.ParseUUIDParam(r, "purchaseId")
		if err != nil {
			return 0, nil, err
		}
		result, err := svc.RetryPurchase(ctx, caller.UserID, purchaseID)
		return 0, result, err
	})
}

// scopeToPath adds the purchase or session id from the route to the log context.
func scopeToPath(ctx context.Context, r *http.Request, logg *logger.Logger) context.Context {
	if logg == nil {
		return ctx
	}
	if raw := chi.URLParam(r, "purchaseId"); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			ctx = logg.WithPurchaseID(ctx, id.String())
		}
	}
	if session := strings.TrimSpace(chi.URLParam(r, "sessionId")); session != "" {
		ctx = logg.WithSessionID(ctx, session)
	}
	return ctx
}
