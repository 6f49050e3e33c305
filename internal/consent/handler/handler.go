// Package handler exposes the consent service over HTTP. Every route runs
// behind the auth middleware; the principal comes from the request context,
// never from the request body or path.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"healthshare/internal/audit"
	"healthshare/internal/consent/models"
	"healthshare/internal/platform/middleware"
	transportJSON "healthshare/internal/transport/http/json"
	"healthshare/internal/transport/http/shared"
	id "healthshare/pkg/domain"
	dErrors "healthshare/pkg/domain-errors"
)

// Service is the consent service surface the HTTP layer depends on.
type Service interface {
	Add(ctx context.Context, principal id.UserID, record *models.Record) (*models.Record, error)
	Upsert(ctx context.Context, principal id.UserID, providerID id.ProviderID, flags models.Flags) (*models.Record, error)
	Decide(ctx context.Context, principal id.UserID, consentID id.ConsentID, approved bool) (*models.Record, error)
	Remove(ctx context.Context, principal id.UserID, consentID id.ConsentID) error
	List(ctx context.Context, principal id.UserID) ([]*models.Record, error)
	PurgeOwner(ctx context.Context, principal id.UserID) error
	Audit(ctx context.Context, principal id.UserID) ([]audit.Event, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{service: svc, logger: logger}
}

// Register mounts consent routes. The caller wraps the group in RequireAuth.
func (h *Handler) Register(r chi.Router) {
	r.Get("/consents", h.HandleList)
	r.Post("/consents", h.HandleCreate)
	r.Put("/consents/providers/{providerID}", h.HandleUpsert)
	r.Post("/consents/{consentID}/approval", h.HandleDecide)
	r.Delete("/consents/{consentID}", h.HandleDelete)
	r.Get("/audit", h.HandleAudit)
	r.Delete("/me", h.HandlePurge)
}

// CreateConsentRequest is the body for POST /consents.
type CreateConsentRequest struct {
	ProviderID  string `json:"provider_id"`
	LabResults  *bool  `json:"lab_results,omitempty"`
	Medications *bool  `json:"medications,omitempty"`
	FitnessData *bool  `json:"fitness_data,omitempty"`
	Approved    *bool  `json:"approved,omitempty"`
}

// UpdateConsentRequest is the body for PUT /consents/providers/{providerID}.
// Omitted fields are left unchanged.
type UpdateConsentRequest struct {
	LabResults  *bool `json:"lab_results,omitempty"`
	Medications *bool `json:"medications,omitempty"`
	FitnessData *bool `json:"fitness_data,omitempty"`
	Approved    *bool `json:"approved,omitempty"`
}

// DecisionRequest is the body for POST /consents/{consentID}/approval.
type DecisionRequest struct {
	Approved bool `json:"approved"`
}

// ListConsentsResponse wraps the principal's consent records.
type ListConsentsResponse struct {
	Consents []*models.Record `json:"consents"`
}

// AuditResponse wraps the principal's audit trail.
type AuditResponse struct {
	Events []audit.Event `json:"events"`
}

// HandleList returns all consent records owned by the authenticated user.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetUserID(r.Context())

	records, err := h.service.List(r.Context(), principal)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if records == nil {
		records = []*models.Record{}
	}
	transportJSON.WriteJSON(w, http.StatusOK, ListConsentsResponse{Consents: records})
}

// HandleCreate inserts a new consent record for the authenticated user.
// Returns 409 if a record for the provider already exists.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetUserID(r.Context())

	var req CreateConsentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	providerID, err := id.ParseProviderID(req.ProviderID)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid provider ID"))
		return
	}

	record, err := models.NewRecord(id.NewConsentID(), principal, providerID, models.Flags{
		LabResults:  req.LabResults,
		Medications: req.Medications,
		FitnessData: req.FitnessData,
		Approved:    req.Approved,
	}, time.Now())
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	created, err := h.service.Add(r.Context(), principal, record)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	transportJSON.WriteJSON(w, http.StatusCreated, created)
}

// HandleUpsert creates or merges the record for the provider in the path.
// Last write wins per supplied field.
func (h *Handler) HandleUpsert(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetUserID(r.Context())

	providerID, err := id.ParseProviderID(chi.URLParam(r, "providerID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid provider ID"))
		return
	}

	var req UpdateConsentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	record, err := h.service.Upsert(r.Context(), principal, providerID, models.Flags{
		LabResults:  req.LabResults,
		Medications: req.Medications,
		FitnessData: req.FitnessData,
		Approved:    req.Approved,
	})
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	transportJSON.WriteJSON(w, http.StatusOK, record)
}

// HandleDecide resolves a pending consent request. Approval returns the
// updated record; denial removes the record and returns 204.
func (h *Handler) HandleDecide(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetUserID(r.Context())

	consentID, err := id.ParseConsentID(chi.URLParam(r, "consentID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid consent ID"))
		return
	}

	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	record, err := h.service.Decide(r.Context(), principal, consentID, req.Approved)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if record == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	transportJSON.WriteJSON(w, http.StatusOK, record)
}

// HandleDelete removes a consent record. Deleting an absent record returns
// 204 as well: the end state is identical.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetUserID(r.Context())

	consentID, err := id.ParseConsentID(chi.URLParam(r, "consentID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid consent ID"))
		return
	}

	if err := h.service.Remove(r.Context(), principal, consentID); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleAudit returns the authenticated user's consent audit trail.
func (h *Handler) HandleAudit(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetUserID(r.Context())

	events, err := h.service.Audit(r.Context(), principal)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	transportJSON.WriteJSON(w, http.StatusOK, AuditResponse{Events: events})
}

// HandlePurge deletes every consent record the authenticated user owns.
func (h *Handler) HandlePurge(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetUserID(r.Context())

	if err := h.service.PurgeOwner(r.Context(), principal); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
