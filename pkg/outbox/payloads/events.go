package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/learnloop/coursemarket-backend/pkg/enums"
)

// PurchaseStatusChangedEvent is the payload of every purchase lifecycle event.
type PurchaseStatusChangedEvent struct {
	PurchaseID     uuid.UUID            `json:"purchaseId"`
	BuyerID        uuid.UUID            `json:"buyerId"`
	CourseID       uuid.UUID            `json:"courseId"`
	Status         enums.PurchaseStatus `json:"status"`
	PreviousStatus enums.PurchaseStatus `json:"previousStatus"`
	Amount         string               `json:"amount"`
	SessionID      string               `json:"sessionId,omitempty"`
	Source         string               `json:"source"`
	EnrollmentSet  bool                 `json:"enrollmentChanged"`
	OccurredAt     time.Time            `json:"occurredAt"`
}
