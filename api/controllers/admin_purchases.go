package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/learnloop/coursemarket-backend/api/validators"
	checkoutsvc "github.com/learnloop/coursemarket-backend/internal/checkout"
	"github.com/learnloop/coursemarket-backend/internal/purchases"
	"github.com/learnloop/coursemarket-backend/pkg/auth"
	"github.com/learnloop/coursemarket-backend/pkg/logger"
	"github.com/learnloop/coursemarket-backend/pkg/outbox"
)

// AdminCompletePurchase marks a purchase paid after an operator confirmed payment out of band.
func AdminCompletePurchase(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return adminOverride(svc, logg, func(ctx context.Context, actor outbox.ActorRef, id uuid.UUID) (*purchases.PurchaseDTO, error) {
		return svc.AdminForceComplete(ctx, actor, id)
	})
}

// AdminRefundPurchase records a refund and revokes course access.
func AdminRefundPurchase(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return adminOverride(svc, logg, func(ctx context.Context, actor outbox.ActorRef, id uuid.UUID) (*purchases.PurchaseDTO, error) {
		return svc.AdminRefund(ctx, actor, id)
	})
}

// adminOverride runs an operator transition. The role check lives on the
// route; the acting admin is recorded on the emitted event.
func adminOverride(svc checkoutsvc.Service, logg *logger.Logger, apply func(context.Context, outbox.ActorRef, uuid.UUID) (*purchases.PurchaseDTO, error)) http.HandlerFunc {
	return withCaller(svc, logg, func(ctx context.Context, r *http.Request, caller auth.Principal) (int, any, error) {
		purchaseID, err := validators.ParseUUIDParam(r, "purchaseId")
		if err != nil {
			return 0, nil, err
		}
		dto, err := apply(ctx, outbox.ActorRef{UserID: caller.UserID, Role: string(caller.Role)}, purchaseID)
		return 0, dto, err
	})
}
