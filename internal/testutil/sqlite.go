// Package testutil builds throwaway sqlite databases shaped like the Postgres schema.
package testutil

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/learnloop/coursemarket-backend/pkg/db/models"
	dbtypes "github.com/learnloop/coursemarket-backend/pkg/db/types"
	"github.com/learnloop/coursemarket-backend/pkg/enums"
)

var schema = []string{
	`CREATE TABLE users (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  display_name TEXT NOT NULL,
  image_url TEXT,
  role TEXT NOT NULL DEFAULT 'student',
  enrolled_course_ids TEXT NOT NULL DEFAULT '{}',
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE courses (
  id TEXT PRIMARY KEY,
  educator_id TEXT NOT NULL,
  title TEXT NOT NULL,
  price NUMERIC NOT NULL,
  discount NUMERIC NOT NULL DEFAULT 0,
  is_published INTEGER NOT NULL DEFAULT 0,
  thumbnail_url TEXT,
  enrolled_student_ids TEXT NOT NULL DEFAULT '{}',
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE purchases (
  id TEXT PRIMARY KEY,
  buyer_id TEXT NOT NULL,
  course_id TEXT NOT NULL,
  amount NUMERIC NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  session_id TEXT,
  payment_intent_id TEXT,
  failure_reason TEXT,
  payment_date DATETIME,
  refund_date DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE UNIQUE INDEX ux_purchases_open_pair ON purchases (buyer_id, course_id)
  WHERE status IN ('pending', 'incomplete', 'processing');`,
	`CREATE TABLE outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload BLOB NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`,
}

// NewSQLiteDB opens an isolated in-memory database with the purchase schema.
func NewSQLiteDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared&_busy_timeout=5000"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	for _, stmt := range schema {
		require.NoError(t, conn.Exec(stmt).Error)
	}

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}

// SeedUser inserts a student with no enrollments.
func SeedUser(t testing.TB, conn *gorm.DB) *models.User {
	t.Helper()
	id := uuid.New()
	user := &models.User{
		ID:                id,
		Email:             id.String() + "@learner.test",
		DisplayName:       "Learner " + id.String()[:8],
		Role:              enums.UserRoleStudent,
		EnrolledCourseIDs: dbtypes.UUIDArray{},
	}
	require.NoError(t, conn.Create(user).Error)
	return user
}

// SeedCourse inserts a published course with the given price and discount percent.
func SeedCourse(t testing.TB, conn *gorm.DB, price, discount string) *models.Course {
	t.Helper()
	course := &models.Course{
		ID:                 uuid.New(),
		EducatorID:         uuid.New(),
		Title:              "Course " + uuid.NewString()[:8],
		Price:              decimal.RequireFromString(price),
		Discount:           decimal.RequireFromString(discount),
		IsPublished:        true,
		EnrolledStudentIDs: dbtypes.UUIDArray{},
	}
	require.NoError(t, conn.Create(course).Error)
	return course
}
