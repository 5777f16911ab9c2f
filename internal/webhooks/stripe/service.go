// Package stripewebhook turns verified Stripe notifications into
// reconciliation outcomes.
package stripewebhook

import (
	"context"
	"errors"

	"github.com/learnloop/coursemarket-backend/internal/payments"
	"github.com/learnloop/coursemarket-backend/internal/reconciliation"
	"github.com/learnloop/coursemarket-backend/pkg/enums"
	pkgerrors "github.com/learnloop/coursemarket-backend/pkg/errors"
	"github.com/learnloop/coursemarket-backend/pkg/logger"
)

type signatureVerifier interface {
	VerifySignature(payload []byte, header string) (*payments.Event, error)
}

type reconciler interface {
	Apply(ctx context.Context, outcome reconciliation.Outcome) (*reconciliation.Result, error)
}

type deliveryLedger interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Complete(ctx context.Context, eventID string) error
	Release(ctx context.Context, eventID string) error
}

type ServiceParams struct {
	Verifier   signatureVerifier
	Reconciler reconciler
	Deliveries deliveryLedger
	Logger     *logger.Logger
}

// Ack describes what happened to a delivered event. Any Ack means the
// delivery should be answered with 200.
type Ack struct {
	EventID   string `json:"event_id"`
	Type      string `json:"type"`
	Handled   bool   `json:"handled"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

type Service struct {
	verifier   signatureVerifier
	reconciler reconciler
	deliveries deliveryLedger
	logg       *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Verifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "signature verifier required")
	}
	if params.Reconciler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reconciler required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{
		verifier:   params.Verifier,
		reconciler: params.Reconciler,
		deliveries: params.Deliveries,
		logg:       logg,
	}, nil
}

// HandlePaymentEvent verifies and applies one delivery. Only a bad signature
// is returned as an error; once the event is authentic, processing problems
// are logged and the delivery is still acknowledged.
func (s *Service) HandlePaymentEvent(ctx context.Context, payload []byte, signature string) (*Ack, error) {
	event, err := s.verifier.VerifySignature(payload, signature)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"security": "webhook_signature_rejected",
				"reason":   err.Error(),
			}), "stripe webhook rejected")
			return nil, pkgerrors.Wrap(pkgerrors.CodeSignature, err, "invalid stripe signature")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode stripe event")
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"event_id":   event.ID,
		"event_type": event.Type,
	})
	ack := &Ack{EventID: event.ID, Type: event.Type}

	outcome, ok := s.outcomeFor(ctx, event)
	if !ok {
		s.logg.Debug(ctx, "stripe event ignored")
		return ack, nil
	}

	tracked := s.deliveries != nil && event.ID != ""
	if tracked {
		seen, err := s.deliveries.Claim(ctx, event.ID)
		switch {
		case err != nil:
			// the engine is idempotent on its own; the ledger only saves work
			s.logg.Warn(ctx, "stripe delivery ledger unavailable")
			tracked = false
		case seen:
			ack.Duplicate = true
			s.logg.Info(ctx, "duplicate stripe event skipped")
			return ack, nil
		}
	}

	res, err := s.reconciler.Apply(ctx, outcome)
	switch {
	case err != nil:
		s.logg.Error(ctx, "stripe event processed with errors", err)
		if tracked {
			if relErr := s.deliveries.Release(ctx, event.ID); relErr != nil {
				s.logg.Error(ctx, "release stripe delivery", relErr)
			}
		}
	case tracked:
		if doneErr := s.deliveries.Complete(ctx, event.ID); doneErr != nil {
			s.logg.Error(ctx, "complete stripe delivery", doneErr)
		}
	}
	ack.Handled = res != nil && len(res.Lines) > 0
	return ack, nil
}

func (s *Service) outcomeFor(ctx context.Context, event *payments.Event) (reconciliation.Outcome, bool) {
	outcome := reconciliation.Outcome{
		Source:          reconciliation.SourceWebhook,
		EventID:         event.ID,
		SessionID:       event.SessionID,
		PaymentIntentID: event.PaymentIntentID,
		FailureReason:   event.FailureReason,
	}

	switch event.Kind {
	case payments.EventSessionCompleted:
		if event.PaymentStatus == payments.PaymentStatusUnpaid {
			outcome.Target = enums.PurchaseStatusProcessing
		} else {
			outcome.Target = enums.PurchaseStatusCompleted
		}
	case payments.EventPaymentSucceeded:
		outcome.Target = enums.PurchaseStatusCompleted
	case payments.EventPaymentFailed:
		outcome.Target = enums.PurchaseStatusFailed
	case payments.EventSessionExpired:
		outcome.Target = enums.PurchaseStatusExpired
	case payments.EventRefunded:
		outcome.Target = enums.PurchaseStatusRefunded
		// refunds are matched by payment intent, never by stale metadata
		return outcome, event.PaymentIntentID != ""
	default:
		return outcome, false
	}

	if len(event.RawMetadata) > 0 {
		meta, err := event.Metadata()
		if err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "reason", err.Error()), "unreadable session metadata, falling back to session lookup")
		} else {
			outcome.Metadata = &meta
		}
	}
	return outcome, outcome.Metadata != nil || outcome.SessionID != ""
}
