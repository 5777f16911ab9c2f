// Package users reads the buyer side of user records. Profiles are owned by
// the identity service and enrollment edges by internal/enrollments.
package users

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/learnloop/coursemarket-backend/pkg/db/models"
	pkgerrors "github.com/learnloop/coursemarket-backend/pkg/errors"
)

// Buyer is what checkout needs to open a payment session for a user.
type Buyer struct {
	ID          uuid.UUID
	Email       string
	DisplayName string
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindBuyer loads the checkout identity of id. A user without an email
// cannot receive a receipt and is rejected.
func (r *Repository) FindBuyer(ctx context.Context, id uuid.UUID) (*Buyer, error) {
	var row models.User
	err := r.db.WithContext(ctx).
		Select("id", "email", "display_name").
		Take(&row, "id = ?", id).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	case err != nil:
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load buyer")
	}

	email := strings.TrimSpace(row.Email)
	if email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account has no email address")
	}
	return &Buyer{ID: row.ID, Email: email, DisplayName: row.DisplayName}, nil
}
