package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnvelopeVersion is the newest envelope layout this build writes and reads.
const EnvelopeVersion = 1

// ActorRef identifies who caused the event. Nil for Stripe and sweeper changes.
type ActorRef struct {
	UserID uuid.UUID `json:"userId"`
	Role   string    `json:"role,omitempty"`
}

// PayloadEnvelope is the JSON stored in outbox_events.payload and published
// verbatim as the Pub/Sub message body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// seal wraps data in a fresh envelope. Event ids are UUIDv7 so subscribers
// can order by id when publish timestamps tie.
func seal(data any, actor *ActorRef, occurredAt time.Time) (PayloadEnvelope, []byte, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return PayloadEnvelope{}, nil, fmt.Errorf("marshal event data: %w", err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return PayloadEnvelope{}, nil, fmt.Errorf("event id: %w", err)
	}
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	env := PayloadEnvelope{
		Version:    EnvelopeVersion,
		EventID:    id.String(),
		OccurredAt: occurredAt.UTC(),
		Actor:      actor,
		Data:       body,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return PayloadEnvelope{}, nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return env, raw, nil
}
