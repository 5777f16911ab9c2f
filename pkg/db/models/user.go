package models

import (
	"time"

	"github.com/google/uuid"

	dbtypes "github.com/learnloop/coursemarket-backend/pkg/db/types"
	"github.com/learnloop/coursemarket-backend/pkg/enums"
)

// User represents the canonical identity entity. Credentials live with the
// auth provider; only the profile and the enrollment side of the edge are kept here.
type User struct {
	ID                uuid.UUID         `gorm:"type:uuid;primaryKey"`
	Email             string            `gorm:"type:text;not null;uniqueIndex"`
	DisplayName       string            `gorm:"column:display_name;not null"`
	ImageURL          *string           `gorm:"column:image_url"`
	Role              enums.UserRole    `gorm:"column:role;not null;default:student"`
	EnrolledCourseIDs dbtypes.UUIDArray `gorm:"type:uuid[];column:enrolled_course_ids;not null;default:'{}'"`
	CreatedAt         time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
