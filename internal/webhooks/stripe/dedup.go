package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	provider = "stripe"

	stateProcessing = "processing"
	stateDone       = "done"

	// a delivery that crashes mid-apply frees its id after this long so
	// Stripe's retry is processed instead of being skipped for the full window.
	processingTTL = 5 * time.Minute
)

type deliveryStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	WebhookEventKey(provider, eventID string) string
}

// DeliveryLedger records which Stripe event ids have been applied. An id is
// first claimed as processing with a short ttl, then marked done for the
// full redelivery window once reconciliation succeeds.
type DeliveryLedger struct {
	store deliveryStore
	ttl   time.Duration
}

func NewDeliveryLedger(store deliveryStore, ttl time.Duration) (*DeliveryLedger, error) {
	if store == nil {
		return nil, errors.New("delivery store is required")
	}
	if ttl < processingTTL {
		return nil, fmt.Errorf("redelivery window must be at least %s", processingTTL)
	}
	return &DeliveryLedger{store: store, ttl: ttl}, nil
}

// Claim reports whether eventID was already claimed by an earlier delivery.
func (l *DeliveryLedger) Claim(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	fresh, err := l.store.SetNX(ctx, l.store.WebhookEventKey(provider, eventID), stateProcessing, processingTTL)
	if err != nil {
		return false, fmt.Errorf("claim stripe event %s: %w", eventID, err)
	}
	return !fresh, nil
}

// Complete extends a claim to the full redelivery window.
func (l *DeliveryLedger) Complete(ctx context.Context, eventID string) error {
	key := l.store.WebhookEventKey(provider, eventID)
	if err := l.store.Del(ctx, key); err != nil {
		return fmt.Errorf("complete stripe event %s: %w", eventID, err)
	}
	if _, err := l.store.SetNX(ctx, key, stateDone, l.ttl); err != nil {
		return fmt.Errorf("complete stripe event %s: %w", eventID, err)
	}
	return nil
}

// Release drops a claim so the next delivery of eventID is applied again.
func (l *DeliveryLedger) Release(ctx context.Context, eventID string) error {
	if err := l.store.Del(ctx, l.store.WebhookEventKey(provider, eventID)); err != nil {
		return fmt.Errorf("release stripe event %s: %w", eventID, err)
	}
	return nil
}
