// Package auth verifies the HS256 access tokens issued by the identity
// provider. Minting exists for tests and local tooling only.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/learnloop/coursemarket-backend/pkg/config"
)

// clockSkew tolerated between the identity provider and this service.
const clockSkew = 30 * time.Second

var (
	ErrInvalidToken = errors.New("invalid access token")
	signingMethod   = jwt.SigningMethodHS256
)

// Verifier checks token signature, issuer and expiry, then the claims this
// service relies on.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewVerifier(cfg config.JWTConfig) (*Verifier, error) {
	if cfg.Secret == "" || cfg.Issuer == "" {
		return nil, errors.New("jwt secret and issuer are required")
	}
	return &Verifier{
		secret: []byte(cfg.Secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{signingMethod.Alg()}),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(clockSkew),
		),
	}, nil
}

// Verify returns the principal for raw. Every failure wraps ErrInvalidToken.
func (v *Verifier) Verify(raw string) (Principal, error) {
	var claims accessClaims
	if _, err := v.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}); err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	switch {
	case claims.UserID == uuid.Nil:
		return Principal{}, fmt.Errorf("%w: no user id", ErrInvalidToken)
	case claims.Subject != "" && claims.Subject != claims.UserID.String():
		return Principal{}, fmt.Errorf("%w: subject does not match user id", ErrInvalidToken)
	case !claims.Role.IsValid():
		return Principal{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}
	return Principal{UserID: claims.UserID, Role: claims.Role}, nil
}

// Mint signs a token for p valid for cfg.ExpirationMinutes from now.
func Mint(cfg config.JWTConfig, now time.Time, p Principal) (string, error) {
	switch {
	case cfg.Secret == "" || cfg.Issuer == "":
		return "", errors.New("jwt secret and issuer are required")
	case cfg.ExpirationMinutes <= 0:
		return "", errors.New("jwt expiration minutes must be positive")
	case p.UserID == uuid.Nil:
		return "", errors.New("user id is required")
	case !p.Role.IsValid():
		return "", fmt.Errorf("invalid user role %q", p.Role)
	}

	claims := accessClaims{
		UserID: p.UserID,
		Role:   p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   p.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(cfg.ExpirationMinutes) * time.Minute)),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(cfg.Secret))
}
