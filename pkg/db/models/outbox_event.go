package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/learnloop/coursemarket-backend/pkg/enums"
)

// OutboxEvent is a domain event written in the same transaction as the state
// change it describes. The publisher owns PublishedAt, AttemptCount and LastError.
type OutboxEvent struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID       `gorm:"type:uuid;index"`
	Payload       json.RawMessage `gorm:"type:jsonb"`
	CreatedAt     time.Time       `gorm:"autoCreateTime"`
	PublishedAt   *time.Time
	AttemptCount  int
	LastError     *string
}

func (OutboxEvent) TableName() string { return "outbox_events" }

// Published reports whether the publisher has acknowledged the event.
func (e OutboxEvent) Published() bool { return e.PublishedAt != nil }
