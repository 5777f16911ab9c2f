package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/learnloop/coursemarket-backend/pkg/enums"
)

// Principal is the caller an access token speaks for.
type Principal struct {
	UserID uuid.UUID
	Role   enums.UserRole
}

func (p Principal) IsAdmin() bool {
	return p.Role == enums.UserRoleAdmin
}

// accessClaims is the token body the identity provider signs.
type accessClaims struct {
	UserID uuid.UUID      `json:"user_id"`
	Role   enums.UserRole `json:"role"`
	jwt.RegisteredClaims
}
