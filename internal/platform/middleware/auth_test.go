package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthshare/internal/platform/logger"
	id "healthshare/pkg/domain"
	dErrors "healthshare/pkg/domain-errors"
)

type fakeValidator struct {
	userID id.UserID
	err    error
}

func (v *fakeValidator) ValidateToken(string) (*Claims, error) {
	if v.err != nil {
		return nil, v.err
	}
	return &Claims{UserID: v.userID}, nil
}

func TestRequireAuth_InjectsPrincipal(t *testing.T) {
	userID := id.UserID(uuid.New())
	validator := &fakeValidator{userID: userID}

	var got id.UserID
	handler := RequireAuth(validator, logger.New())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetUserID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/consents", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, userID, got)
}

func TestRequireAuth_MissingHeaderRejected(t *testing.T) {
	handler := RequireAuth(&fakeValidator{}, logger.New())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run without a token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/consents", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuth_InvalidTokenRejected(t *testing.T) {
	validator := &fakeValidator{err: dErrors.New(dErrors.CodeUnauthorized, "expired")}
	handler := RequireAuth(validator, logger.New())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run with an invalid token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/consents", nil)
	req.Header.Set("Authorization", "Bearer bad-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetUserID_AbsentIsNil(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.True(t, GetUserID(req.Context()).IsNil())
}
