package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type column of outbox_events.
type OutboxAggregateType string

const (
	AggregatePurchase OutboxAggregateType = "purchase"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregatePurchase,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type column of outbox_events.
type OutboxEventType string

const (
	EventPurchaseCompleted OutboxEventType = "purchase_completed"
	EventPurchaseFailed    OutboxEventType = "purchase_failed"
	EventPurchaseCancelled OutboxEventType = "purchase_cancelled"
	EventPurchaseRefunded  OutboxEventType = "purchase_refunded"
	EventPurchaseExpired   OutboxEventType = "purchase_expired"
)

var validOutboxEventTypes = []OutboxEventType{
	EventPurchaseCompleted,
	EventPurchaseFailed,
	EventPurchaseCancelled,
	EventPurchaseRefunded,
	EventPurchaseExpired,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// PurchaseEventFor returns the lifecycle event emitted when a purchase enters status.
func PurchaseEventFor(status PurchaseStatus) (OutboxEventType, bool) {
	switch status {
	case PurchaseStatusCompleted:
		return EventPurchaseCompleted, true
	case PurchaseStatusFailed:
		return EventPurchaseFailed, true
	case PurchaseStatusCancelled:
		return EventPurchaseCancelled, true
	case PurchaseStatusRefunded:
		return EventPurchaseRefunded, true
	case PurchaseStatusExpired:
		return EventPurchaseExpired, true
	default:
		return "", false
	}
}
