package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/learnloop/coursemarket-backend/api/responses"
	stripewebhook "github.com/learnloop/coursemarket-backend/internal/webhooks/stripe"
	pkgerrors "github.com/learnloop/coursemarket-backend/pkg/errors"
	"github.com/learnloop/coursemarket-backend/pkg/logger"
)

const (
	signatureHeader = "Stripe-Signature"
	maxWebhookBody  = 1 << 20
)

type StripeWebhookService interface {
	HandlePaymentEvent(ctx context.Context, payload []byte, signature string) (*stripewebhook.Ack, error)
}

// StripeWebhook receives Stripe payment notifications. Any authentic event is
// acknowledged with 200, including ones whose lines failed to apply.
func StripeWebhook(svc StripeWebhookService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		signature := r.Header.Get(signatureHeader)
		if signature == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeSignature, "stripe signature missing"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			msg := "read request body"
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				msg = "webhook payload too large"
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, msg))
			return
		}

		ack, err := svc.HandlePaymentEvent(ctx, payload, signature)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			logg.Debug(logg.WithFields(ctx, map[string]any{
				"stripe_event_id": ack.EventID,
				"handled":         ack.Handled,
				"duplicate":       ack.Duplicate,
			}), "stripe webhook acknowledged")
		}
		responses.WriteSuccess(w, ack)
	}
}
