package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthshare/internal/audit"
	"healthshare/internal/consent/models"
	"healthshare/internal/consent/service"
	"healthshare/internal/consent/store"
	"healthshare/internal/platform/middleware"
	id "healthshare/pkg/domain"
)

// newTestRouter mounts the handler behind a stub auth middleware that injects
// the given principal, mirroring what RequireAuth does after token validation.
func newTestRouter(t *testing.T, principal id.UserID) (*chi.Mux, *service.Service) {
	t.Helper()
	svc := service.NewService(store.New(), nil,
		service.WithAuditor(audit.NewPublisher(audit.NewInMemoryStore())),
	)
	h := New(svc, nil)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(middleware.WithUserID(req.Context(), principal)))
		})
	})
	h.Register(r)
	return r, svc
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func seedRecord(t *testing.T, svc *service.Service, owner id.UserID) *models.Record {
	t.Helper()
	record, err := models.NewRecord(id.NewConsentID(), owner, id.ProviderID(uuid.New()), models.Flags{}, time.Now())
	require.NoError(t, err)
	_, err = svc.Add(context.Background(), owner, record)
	require.NoError(t, err)
	return record
}

func TestHandleCreate_Success(t *testing.T) {
	owner := id.UserID(uuid.New())
	router, _ := newTestRouter(t, owner)

	rec := doJSON(t, router, http.MethodPost, "/consents", CreateConsentRequest{
		ProviderID: uuid.New().String(),
		LabResults: func() *bool { b := true; return &b }(),
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	var created models.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, owner, created.OwnerID)
	assert.True(t, created.LabResults)
	assert.False(t, created.Approved)
}

func TestHandleCreate_InvalidProviderID(t *testing.T) {
	router, _ := newTestRouter(t, id.UserID(uuid.New()))

	rec := doJSON(t, router, http.MethodPost, "/consents", CreateConsentRequest{ProviderID: "not-a-uuid"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCreate_DuplicateProviderConflicts(t *testing.T) {
	owner := id.UserID(uuid.New())
	router, svc := newTestRouter(t, owner)
	existing := seedRecord(t, svc, owner)

	rec := doJSON(t, router, http.MethodPost, "/consents", CreateConsentRequest{
		ProviderID: existing.ProviderID.String(),
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleList_EmptyAndPopulated(t *testing.T) {
	owner := id.UserID(uuid.New())
	router, svc := newTestRouter(t, owner)

	rec := doJSON(t, router, http.MethodGet, "/consents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var empty ListConsentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &empty))
	assert.Empty(t, empty.Consents)

	seedRecord(t, svc, owner)
	rec = doJSON(t, router, http.MethodGet, "/consents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var populated ListConsentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &populated))
	assert.Len(t, populated.Consents, 1)
}

func TestHandleUpsert_CreatesAndMerges(t *testing.T) {
	owner := id.UserID(uuid.New())
	router, _ := newTestRouter(t, owner)
	provider := uuid.New().String()
	yes := true

	rec := doJSON(t, router, http.MethodPut, "/consents/providers/"+provider, UpdateConsentRequest{Medications: &yes})
	require.Equal(t, http.StatusOK, rec.Code)
	var created models.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.True(t, created.Medications)

	rec = doJSON(t, router, http.MethodPut, "/consents/providers/"+provider, UpdateConsentRequest{FitnessData: &yes})
	require.Equal(t, http.StatusOK, rec.Code)
	var merged models.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &merged))
	assert.Equal(t, created.ID, merged.ID)
	assert.True(t, merged.Medications)
	assert.True(t, merged.FitnessData)
}

func TestHandleDecide_Approve(t *testing.T) {
	owner := id.UserID(uuid.New())
	router, svc := newTestRouter(t, owner)
	record := seedRecord(t, svc, owner)

	rec := doJSON(t, router, http.MethodPost, "/consents/"+record.ID.String()+"/approval", DecisionRequest{Approved: true})
	require.Equal(t, http.StatusOK, rec.Code)
	var approved models.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &approved))
	assert.True(t, approved.Approved)
}

func TestHandleDecide_DenyReturnsNoContent(t *testing.T) {
	owner := id.UserID(uuid.New())
	router, svc := newTestRouter(t, owner)
	record := seedRecord(t, svc, owner)

	rec := doJSON(t, router, http.MethodPost, "/consents/"+record.ID.String()+"/approval", DecisionRequest{Approved: false})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/consents", nil)
	var listed ListConsentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Empty(t, listed.Consents)
}

func TestHandleDecide_ForeignRecordForbidden(t *testing.T) {
	owner := id.UserID(uuid.New())
	svc := service.NewService(store.New(), nil)
	record := seedRecord(t, svc, owner)

	// Same service, different principal: mount the handler behind an attacker
	// identity so the request reaches the shared store.
	attacker := id.UserID(uuid.New())
	h := New(svc, nil)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(middleware.WithUserID(req.Context(), attacker)))
		})
	})
	h.Register(r)

	rec := doJSON(t, r, http.MethodPost, "/consents/"+record.ID.String()+"/approval", DecisionRequest{Approved: true})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleDelete_IdempotentNoContent(t *testing.T) {
	owner := id.UserID(uuid.New())
	router, svc := newTestRouter(t, owner)
	record := seedRecord(t, svc, owner)

	rec := doJSON(t, router, http.MethodDelete, "/consents/"+record.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodDelete, "/consents/"+record.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code, "deleting an absent record converges")
}

func TestHandleAudit_ReturnsTrail(t *testing.T) {
	owner := id.UserID(uuid.New())
	router, svc := newTestRouter(t, owner)
	seedRecord(t, svc, owner)

	rec := doJSON(t, router, http.MethodGet, "/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var trail AuditResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trail))
	require.Len(t, trail.Events, 1)
	assert.Equal(t, models.AuditActionConsentCreated, trail.Events[0].Action)
}

func TestHandlePurge_RemovesEverything(t *testing.T) {
	owner := id.UserID(uuid.New())
	router, svc := newTestRouter(t, owner)
	seedRecord(t, svc, owner)
	seedRecord(t, svc, owner)

	rec := doJSON(t, router, http.MethodDelete, "/me", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/consents", nil)
	var listed ListConsentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Empty(t, listed.Consents)
}
