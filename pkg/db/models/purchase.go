package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/learnloop/coursemarket-backend/pkg/enums"
)

// Purchase is one buyer's attempt to pay for one course.
type Purchase struct {
	ID              uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	BuyerID         uuid.UUID            `gorm:"column:buyer_id;type:uuid;not null"`
	CourseID        uuid.UUID            `gorm:"column:course_id;type:uuid;not null"`
	Amount          decimal.Decimal      `gorm:"column:amount;type:numeric(10,2);not null"`
	Status          enums.PurchaseStatus `gorm:"column:status;type:purchase_status;not null;default:pending"`
	SessionID       *string              `gorm:"column:session_id"`
	PaymentIntentID *string              `gorm:"column:payment_intent_id"`
	FailureReason   *string              `gorm:"column:failure_reason"`
	PaymentDate     *time.Time           `gorm:"column:payment_date"`
	RefundDate      *time.Time           `gorm:"column:refund_date"`
	CreatedAt       time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (Purchase) TableName() string { return "purchases" }
