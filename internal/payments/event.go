package payments

// EventKind is the payment outcome a webhook reports, independent of the
// processor's event naming.
type EventKind string

const (
	EventUnknown          EventKind = ""
	EventSessionCompleted EventKind = "session_completed"
	EventPaymentSucceeded EventKind = "payment_succeeded"
	EventPaymentFailed    EventKind = "payment_failed"
	EventSessionExpired   EventKind = "session_expired"
	EventRefunded         EventKind = "refunded"
)

// Event is a verified processor notification.
type Event struct {
	ID   string
	Type string
	Kind EventKind

	SessionID       string
	PaymentIntentID string
	// PaymentStatus is set for session events; unpaid means an async method is still settling.
	PaymentStatus string
	FailureReason string
	// RawMetadata is decoded lazily; refund events carry none.
	RawMetadata map[string]string
}

// Metadata decodes the purchase group attached to the event, if any.
func (e *Event) Metadata() (Metadata, error) {
	return DecodeMetadata(e.RawMetadata)
}
