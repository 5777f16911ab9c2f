// Package enrollments maintains the two-sided buyer/course enrollment edge.
package enrollments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/learnloop/coursemarket-backend/pkg/db/models"
	pkgerrors "github.com/learnloop/coursemarket-backend/pkg/errors"
)

// Store reads and writes enrollment edges. Writes take the caller's
// transaction so they commit or roll back with the purchase status change.
type Store struct {
	db *gorm.DB
}

// NewStore binds the store to the provided GORM DB.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// IsEnrolled reports whether both sides of the edge are present.
func (s *Store) IsEnrolled(ctx context.Context, buyerID, courseID uuid.UUID) (bool, error) {
	return s.isEnrolled(s.db.WithContext(ctx), buyerID, courseID)
}

// IsEnrolledTx is IsEnrolled inside an open transaction.
func (s *Store) IsEnrolledTx(ctx context.Context, tx *gorm.DB, buyerID, courseID uuid.UUID) (bool, error) {
	return s.isEnrolled(tx.WithContext(ctx), buyerID, courseID)
}

func (s *Store) isEnrolled(db *gorm.DB, buyerID, courseID uuid.UUID) (bool, error) {
	user, course, err := load(db, buyerID, courseID, false)
	if err != nil {
		return false, err
	}
	return user.EnrolledCourseIDs.Contains(courseID) && course.EnrolledStudentIDs.Contains(buyerID), nil
}

// Grant adds the edge on both sides. Calling it again is a no-op and reports
// changed=false.
func (s *Store) Grant(ctx context.Context, tx *gorm.DB, buyerID, courseID uuid.UUID) (bool, error) {
	return s.write(ctx, tx, buyerID, courseID, true)
}

// Revoke removes the edge from both sides.
func (s *Store) Revoke(ctx context.Context, tx *gorm.DB, buyerID, courseID uuid.UUID) (bool, error) {
	return s.write(ctx, tx, buyerID, courseID, false)
}

func (s *Store) write(ctx context.Context, tx *gorm.DB, buyerID, courseID uuid.UUID, grant bool) (bool, error) {
	if tx == nil {
		return false, pkgerrors.New(pkgerrors.CodeInternal, "enrollment writes require a transaction")
	}
	db := tx.WithContext(ctx)

	user, course, err := load(db, buyerID, courseID, true)
	if err != nil {
		return false, err
	}

	var userChanged, courseChanged bool
	if grant {
		user.EnrolledCourseIDs, userChanged = user.EnrolledCourseIDs.With(courseID)
		course.EnrolledStudentIDs, courseChanged = course.EnrolledStudentIDs.With(buyerID)
	} else {
		user.EnrolledCourseIDs, userChanged = user.EnrolledCourseIDs.Without(courseID)
		course.EnrolledStudentIDs, courseChanged = course.EnrolledStudentIDs.Without(buyerID)
	}

	now := time.Now().UTC()
	if userChanged {
		if err := db.Model(&models.User{}).
			Where("id = ?", buyerID).
			Updates(map[string]any{"enrolled_course_ids": user.EnrolledCourseIDs, "updated_at": now}).Error; err != nil {
			return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update user enrollments")
		}
	}
	if courseChanged {
		if err := db.Model(&models.Course{}).
			Where("id = ?", courseID).
			Updates(map[string]any{"enrolled_student_ids": course.EnrolledStudentIDs, "updated_at": now}).Error; err != nil {
			return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update course enrollments")
		}
	}
	return userChanged || courseChanged, nil
}

// load always reads the user before the course so concurrent writers lock in the same order.
func load(db *gorm.DB, buyerID, courseID uuid.UUID, lock bool) (*models.User, *models.Course, error) {
	query := func() *gorm.DB {
		if lock {
			return db.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		return db
	}

	var user models.User
	if err := query().First(&user, "id = ?", buyerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load user")
	}

	var course models.Course
	if err := query().First(&course, "id = ?", courseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "course not found")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load course")
	}
	return &user, &course, nil
}
