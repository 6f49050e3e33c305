package jwtauth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "healthshare/pkg/domain"
	dErrors "healthshare/pkg/domain-errors"
)

const testKey = "test-signing-key"

func TestMintAndValidate_RoundTrip(t *testing.T) {
	svc := NewService(testKey, time.Hour)
	userID := id.UserID(uuid.New())

	token, err := svc.MintToken(userID)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
}

func TestValidateToken_WrongKeyRejected(t *testing.T) {
	minter := NewService(testKey, time.Hour)
	validator := NewService("different-key", time.Hour)

	token, err := minter.MintToken(id.UserID(uuid.New()))
	require.NoError(t, err)

	_, err = validator.ValidateToken(token)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestValidateToken_ExpiredRejected(t *testing.T) {
	svc := NewService(testKey, -time.Minute)

	token, err := svc.MintToken(id.UserID(uuid.New()))
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestValidateToken_GarbageRejected(t *testing.T) {
	svc := NewService(testKey, time.Hour)

	_, err := svc.ValidateToken("not.a.jwt")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestValidateToken_NonUUIDSubjectRejected(t *testing.T) {
	svc := NewService(testKey, time.Hour)

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testKey))
	require.NoError(t, err)

	_, err = svc.ValidateToken(signed)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}
