// Package jwtauth validates the HS256 bearer tokens issued by the identity
// provider. This service is a resource server: it never mints user sessions,
// only verifies them (MintToken exists for tests and local tooling).
package jwtauth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"healthshare/internal/platform/middleware"
	id "healthshare/pkg/domain"
	dErrors "healthshare/pkg/domain-errors"
)

// TokenClaims are the JWT claims this service understands. The subject is the
// user's stable unique identifier.
type TokenClaims struct {
	jwt.RegisteredClaims
}

// Service validates JWTs against a shared signing key.
type Service struct {
	signingKey []byte
	tokenTTL   time.Duration
}

func NewService(signingKey string, tokenTTL time.Duration) *Service {
	return &Service{
		signingKey: []byte(signingKey),
		tokenTTL:   tokenTTL,
	}
}

// ValidateToken parses and verifies a bearer token, returning the principal.
func (s *Service) ValidateToken(tokenString string) (*middleware.Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "unexpected signing method")
		}
		return s.signingKey, nil
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid token")
	}
	claims, ok := parsed.Claims.(*TokenClaims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	userID, err := id.ParseUserID(claims.Subject)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid token subject")
	}
	return &middleware.Claims{UserID: userID}, nil
}

// MintToken issues a token for the given user. Test and tooling helper.
func (s *Service) MintToken(userID id.UserID) (string, error) {
	now := time.Now()
	claims := &TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "sign token")
	}
	return signed, nil
}
