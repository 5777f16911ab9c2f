// Package registry maps outbox event types onto Pub/Sub topics and decodes
// stored rows back into typed payloads before they are published.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/learnloop/coursemarket-backend/pkg/config"
	"github.com/learnloop/coursemarket-backend/pkg/db/models"
	"github.com/learnloop/coursemarket-backend/pkg/enums"
	"github.com/learnloop/coursemarket-backend/pkg/outbox"
	"github.com/learnloop/coursemarket-backend/pkg/outbox/payloads"
)

// ErrUnpublishable marks a row that will never publish no matter how often
// it is retried. The publisher parks such rows.
var ErrUnpublishable = errors.New("outbox event cannot be published")

func unpublishable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnpublishable, fmt.Sprintf(format, args...))
}

// Route says where an event type is published and how its payload decodes.
type Route struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
	decode        func(json.RawMessage) (any, error)
}

// ResolvedEvent is a row that passed validation.
type ResolvedEvent struct {
	Route    Route
	Envelope outbox.PayloadEnvelope
	Payload  any
}

type EventRegistry struct {
	routes map[enums.OutboxEventType]Route
}

func decodeStatusChange(data json.RawMessage) (any, error) {
	var change payloads.PurchaseStatusChangedEvent
	if err := json.Unmarshal(data, &change); err != nil {
		return nil, err
	}
	if change.PurchaseID == uuid.Nil {
		return nil, errors.New("purchaseId missing")
	}
	return &change, nil
}

// NewEventRegistry routes purchase lifecycle events to the purchases topic.
// Refunds go to the refunds topic when one is configured so finance
// consumers can subscribe to them alone.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	purchases := strings.TrimSpace(cfg.PurchasesTopic)
	if purchases == "" {
		return nil, errors.New("purchases topic is required")
	}
	refunds := strings.TrimSpace(cfg.RefundsTopic)
	if refunds == "" {
		refunds = purchases
	}

	topics := map[enums.OutboxEventType]string{
		enums.EventPurchaseCompleted: purchases,
		enums.EventPurchaseFailed:    purchases,
		enums.EventPurchaseCancelled: purchases,
		enums.EventPurchaseExpired:   purchases,
		enums.EventPurchaseRefunded:  refunds,
	}
	reg := &EventRegistry{routes: make(map[enums.OutboxEventType]Route, len(topics))}
	for eventType, topic := range topics {
		reg.routes[eventType] = Route{
			EventType:     eventType,
			AggregateType: enums.AggregatePurchase,
			Topic:         topic,
			decode:        decodeStatusChange,
		}
	}
	return reg, nil
}

// Topics lists the distinct topics events can be routed to, sorted.
func (r *EventRegistry) Topics() []string {
	seen := map[string]struct{}{}
	var topics []string
	for _, route := range r.routes {
		if _, ok := seen[route.Topic]; !ok {
			seen[route.Topic] = struct{}{}
			topics = append(topics, route.Topic)
		}
	}
	sort.Strings(topics)
	return topics
}

// Resolve checks a row against its route and decodes the payload. Every
// failure wraps ErrUnpublishable.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	route, ok := r.routes[event.EventType]
	switch {
	case !ok:
		return nil, unpublishable("no route for event type %q", event.EventType)
	case route.AggregateType != event.AggregateType:
		return nil, unpublishable("%s expects aggregate %s, row has %s", event.EventType, route.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return nil, unpublishable("%s row has no aggregate id", event.EventType)
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, unpublishable("envelope: %v", err)
	}
	if envelope.Version > outbox.EnvelopeVersion {
		return nil, unpublishable("envelope version %d is newer than %d", envelope.Version, outbox.EnvelopeVersion)
	}
	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, unpublishable("%s envelope has no data", event.EventType)
	}

	payload, err := route.decode(data)
	if err != nil {
		return nil, unpublishable("%s payload: %v", event.EventType, err)
	}
	return &ResolvedEvent{Route: route, Envelope: envelope, Payload: payload}, nil
}
