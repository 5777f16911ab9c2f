package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/learnloop/coursemarket-backend/pkg/errors"
	stripeclient "github.com/learnloop/coursemarket-backend/pkg/stripe"
)

const (
	retrieveAttempts = 2
	retrieveDelay    = 200 * time.Millisecond
)

// stripeAPI is the subset of pkg/stripe.Client the gateway relies on.
type stripeAPI interface {
	Currency() string
	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error)
	ExpireCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error)
	ConstructEvent(payload []byte, signatureHeader string) (stripe.Event, error)
}

// StripeGateway implements Gateway on top of Stripe Checkout.
type StripeGateway struct {
	api stripeAPI
	now func() time.Time
}

// NewStripeGateway binds the gateway to an initialized Stripe client.
func NewStripeGateway(api stripeAPI) (*StripeGateway, error) {
	if api == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe client required")
	}
	return &StripeGateway{api: api, now: time.Now}, nil
}

var _ Gateway = (*StripeGateway)(nil)

// CreateCheckoutSession opens a payment-mode session. It is not retried; a
// caller that wants safe repetition passes an idempotency key.
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, input CheckoutSessionInput) (*Session, error) {
	if len(input.LineItems) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one line item is required")
	}
	if input.SuccessURL == "" || input.CancelURL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "success and cancel urls are required")
	}

	currency := g.api.Currency()
	items := make([]*stripe.CheckoutSessionLineItemParams, 0, len(input.LineItems))
	for _, item := range input.LineItems {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(item.Name),
		}
		if item.ImageURL != "" {
			product.Images = []*string{stripe.String(item.ImageURL)}
		}
		items = append(items, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(currency),
				ProductData: product,
				UnitAmount:  stripe.Int64(minorUnits(item.Amount)),
			},
			Quantity: stripe.Int64(1),
		})
	}

	metadata := input.Metadata.Encode()
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(input.SuccessURL),
		CancelURL:  stripe.String(input.CancelURL),
		LineItems:  items,
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	if input.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(input.CustomerEmail)
	}
	if input.ExpiresIn > 0 {
		params.ExpiresAt = stripe.Int64(g.now().Add(input.ExpiresIn).Unix())
	}
	if input.IdempotencyKey != "" {
		params.SetIdempotencyKey(input.IdempotencyKey)
	}

	cs, err := g.api.CreateCheckoutSession(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create checkout session")
	}
	return &Session{ID: cs.ID, URL: cs.URL}, nil
}

// RetrieveSession reads the remote session. Reads are idempotent so one
// transport failure is retried.
func (g *StripeGateway) RetrieveSession(ctx context.Context, sessionID string) (*SessionSnapshot, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id is required")
	}

	var cs *stripe.CheckoutSession
	err := retry.Do(
		func() error {
			var err error
			cs, err = g.api.GetCheckoutSession(ctx, sessionID)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(retrieveAttempts),
		retry.Delay(retrieveDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !stripeclient.IsInvalidRequest(err)
		}),
	)
	if err != nil {
		if stripeclient.IsResourceMissing(err) {
			return nil, ErrSessionNotFound
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "retrieve checkout session")
	}
	return snapshotFrom(cs), nil
}

// ExpireSession closes an open session. The remote state is read first so a
// session that already completed or expired is reported as inactive rather
// than expired a second time.
func (g *StripeGateway) ExpireSession(ctx context.Context, sessionID string) error {
	snapshot, err := g.RetrieveSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return ErrSessionInactive
		}
		return err
	}
	if snapshot.Status != SessionStatusOpen {
		return ErrSessionInactive
	}

	if _, err := g.api.ExpireCheckoutSession(ctx, sessionID); err != nil {
		if stripeclient.IsInvalidRequest(err) {
			return ErrSessionInactive
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expire checkout session")
	}
	return nil
}

// VerifySignature checks the Stripe-Signature header and normalizes the event.
func (g *StripeGateway) VerifySignature(payload []byte, header string) (*Event, error) {
	if strings.TrimSpace(header) == "" {
		return nil, ErrInvalidSignature
	}
	raw, err := g.api.ConstructEvent(payload, header)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return normalizeEvent(raw)
}

func normalizeEvent(raw stripe.Event) (*Event, error) {
	event := &Event{ID: raw.ID, Type: string(raw.Type)}
	if raw.Data == nil {
		return event, nil
	}

	switch raw.Type {
	case stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded,
		stripe.EventTypeCheckoutSessionAsyncPaymentFailed,
		stripe.EventTypeCheckoutSessionExpired:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(raw.Data.Raw, &cs); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session event")
		}
		event.SessionID = cs.ID
		event.PaymentStatus = string(cs.PaymentStatus)
		event.RawMetadata = cs.Metadata
		if cs.PaymentIntent != nil {
			event.PaymentIntentID = cs.PaymentIntent.ID
		}
		switch raw.Type {
		case stripe.EventTypeCheckoutSessionCompleted:
			event.Kind = EventSessionCompleted
		case stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
			event.Kind = EventPaymentSucceeded
		case stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
			event.Kind = EventPaymentFailed
			event.FailureReason = "async payment failed"
		default:
			event.Kind = EventSessionExpired
		}
	case stripe.EventTypeChargeRefunded:
		var charge stripe.Charge
		if err := json.Unmarshal(raw.Data.Raw, &charge); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode charge event")
		}
		// partial refunds keep access
		if !charge.Refunded {
			return event, nil
		}
		event.Kind = EventRefunded
		if charge.PaymentIntent != nil {
			event.PaymentIntentID = charge.PaymentIntent.ID
		}
		event.RawMetadata = charge.Metadata
	}
	return event, nil
}

func snapshotFrom(cs *stripe.CheckoutSession) *SessionSnapshot {
	snapshot := &SessionSnapshot{
		ID:            cs.ID,
		URL:           cs.URL,
		Status:        string(cs.Status),
		PaymentStatus: string(cs.PaymentStatus),
	}
	if cs.PaymentIntent != nil {
		snapshot.PaymentIntentID = cs.PaymentIntent.ID
	}
	if meta, err := DecodeMetadata(cs.Metadata); err == nil {
		snapshot.Metadata = meta
	}
	return snapshot
}

// minorUnits converts a 2-decimal amount into cents.
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Round(2).Shift(2).IntPart()
}
