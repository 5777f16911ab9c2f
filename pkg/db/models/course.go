package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	dbtypes "github.com/learnloop/coursemarket-backend/pkg/db/types"
)

// Course is the catalog entry a purchase pays for. Discount is a percentage (0-100).
type Course struct {
	ID                 uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	EducatorID         uuid.UUID         `gorm:"column:educator_id;type:uuid;not null"`
	Title              string            `gorm:"column:title;not null"`
	Price              decimal.Decimal   `gorm:"column:price;type:numeric(10,2);not null"`
	Discount           decimal.Decimal   `gorm:"column:discount;type:numeric(5,2);not null;default:0"`
	IsPublished        bool              `gorm:"column:is_published;not null;default:false"`
	ThumbnailURL       *string           `gorm:"column:thumbnail_url"`
	EnrolledStudentIDs dbtypes.UUIDArray `gorm:"type:uuid[];column:enrolled_student_ids;not null;default:'{}'"`
	CreatedAt          time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
