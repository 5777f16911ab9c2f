// Package payments describes the checkout-session gateway and the normalized
// payment events the reconciliation engine consumes.
package payments

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrSessionNotFound  = errors.New("checkout session not found")
	ErrSessionInactive  = errors.New("checkout session already inactive")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Remote checkout session states.
const (
	SessionStatusOpen     = "open"
	SessionStatusComplete = "complete"
	SessionStatusExpired  = "expired"

	PaymentStatusPaid              = "paid"
	PaymentStatusUnpaid            = "unpaid"
	PaymentStatusNoPaymentRequired = "no_payment_required"
)

// LineItem is one priced course in a checkout session.
type LineItem struct {
	Name     string
	ImageURL string
	Amount   decimal.Decimal
}

// CheckoutSessionInput is everything needed to open a hosted checkout page.
type CheckoutSessionInput struct {
	LineItems     []LineItem
	SuccessURL    string
	CancelURL     string
	CustomerEmail string
	Metadata      Metadata
	ExpiresIn     time.Duration
	// IdempotencyKey makes a repeated create for the same attempt return the same session.
	IdempotencyKey string
}

// Session is a freshly created checkout session.
type Session struct {
	ID  string
	URL string
}

// SessionSnapshot is the remote state of a checkout session at read time.
type SessionSnapshot struct {
	ID              string
	URL             string
	Status          string
	PaymentStatus   string
	PaymentIntentID string
	Metadata        Metadata
}

// Paid reports whether the buyer has been charged (or owed nothing).
func (s SessionSnapshot) Paid() bool {
	return s.PaymentStatus == PaymentStatusPaid || s.PaymentStatus == PaymentStatusNoPaymentRequired
}

// Gateway is the payment processor boundary.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, input CheckoutSessionInput) (*Session, error)
	RetrieveSession(ctx context.Context, sessionID string) (*SessionSnapshot, error)
	ExpireSession(ctx context.Context, sessionID string) error
	VerifySignature(payload []byte, header string) (*Event, error)
}
