package purchases

import (
	"time"

	"github.com/google/uuid"

	"github.com/learnloop/coursemarket-backend/pkg/db/models"
	"github.com/learnloop/coursemarket-backend/pkg/enums"
)

// PurchaseDTO is the buyer-facing view of a purchase.
type PurchaseDTO struct {
	ID            uuid.UUID            `json:"id"`
	CourseID      uuid.UUID            `json:"course_id"`
	CourseTitle   string               `json:"course_title,omitempty"`
	Amount        string               `json:"amount"`
	Status        enums.PurchaseStatus `json:"status"`
	SessionID     *string              `json:"session_id,omitempty"`
	FailureReason *string              `json:"failure_reason,omitempty"`
	PaymentDate   *time.Time           `json:"payment_date,omitempty"`
	RefundDate    *time.Time           `json:"refund_date,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// FromModel maps a purchase row into its DTO.
func FromModel(p models.Purchase) PurchaseDTO {
	return PurchaseDTO{
		ID:            p.ID,
		CourseID:      p.CourseID,
		Amount:        p.Amount.StringFixed(2),
		Status:        p.Status,
		SessionID:     p.SessionID,
		FailureReason: p.FailureReason,
		PaymentDate:   p.PaymentDate,
		RefundDate:    p.RefundDate,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}
