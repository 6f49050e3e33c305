package models

import (
	"time"

	id "healthshare/pkg/domain"
	dErrors "healthshare/pkg/domain-errors"
)

// Audit event actions
const (
	AuditActionConsentCreated  = "consent_created"
	AuditActionConsentUpdated  = "consent_updated"
	AuditActionConsentApproved = "consent_approved"
	AuditActionConsentDenied   = "consent_denied"
	AuditActionConsentDeleted  = "consent_deleted"
	AuditActionOwnerPurged     = "owner_purged"
)

// Audit event decisions
const (
	AuditDecisionGranted = "granted"
	AuditDecisionUpdated = "updated"
	AuditDecisionDenied  = "denied"
	AuditDecisionDeleted = "deleted"
)

// Audit event reasons
const (
	AuditReasonUserInitiated = "user_initiated"
)

// Record captures one user's data-sharing permissions for one provider.
//
// # Scoping Invariant
//
// A ConsentID is ALWAYS scoped by (OwnerID, ProviderID). The combination is
// unique: each owner has at most one consent record per provider.
//
// Security Implications:
//   - ConsentID alone is NOT sufficient to authorize access to a record
//   - All store operations take the acting principal and enforce ownership
//   - Never expose ConsentID in URLs/APIs without also validating ownership
//
// This design prevents enumeration attacks (guessing ConsentIDs to reach
// other users' records) and IDOR-style access by ConsentID without an
// ownership check.
type Record struct {
	ID          id.ConsentID  `json:"id"`
	OwnerID     id.UserID     `json:"owner_id"`
	ProviderID  id.ProviderID `json:"provider_id"`
	LabResults  bool          `json:"lab_results"`
	Medications bool          `json:"medications"`
	FitnessData bool          `json:"fitness_data"`
	Approved    bool          `json:"approved"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Flags carries optional field values for a partial update. A nil field means
// "leave unchanged" on merge and "default false" on create.
type Flags struct {
	LabResults  *bool `json:"lab_results,omitempty"`
	Medications *bool `json:"medications,omitempty"`
	FitnessData *bool `json:"fitness_data,omitempty"`
	Approved    *bool `json:"approved,omitempty"`
}

// NewRecord creates a Record with domain invariant checks.
func NewRecord(consentID id.ConsentID, ownerID id.UserID, providerID id.ProviderID, flags Flags, now time.Time) (*Record, error) {
	if consentID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "consent ID required")
	}
	if ownerID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "owner ID required")
	}
	if providerID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "provider ID required")
	}
	if now.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "creation time required")
	}
	record := &Record{
		ID:         consentID,
		OwnerID:    ownerID,
		ProviderID: providerID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	record.Apply(flags, now)
	return record, nil
}

// Apply merges the set fields of flags into the record and refreshes
// UpdatedAt. The timestamp never regresses, so UpdatedAt stays monotonically
// non-decreasing even across skewed clocks.
func (r *Record) Apply(flags Flags, now time.Time) {
	if flags.LabResults != nil {
		r.LabResults = *flags.LabResults
	}
	if flags.Medications != nil {
		r.Medications = *flags.Medications
	}
	if flags.FitnessData != nil {
		r.FitnessData = *flags.FitnessData
	}
	if flags.Approved != nil {
		r.Approved = *flags.Approved
	}
	r.Touch(now)
}

// Touch refreshes UpdatedAt without letting it move backwards.
func (r *Record) Touch(now time.Time) {
	if now.After(r.UpdatedAt) {
		r.UpdatedAt = now
	}
}

// Clone returns a copy so callers cannot mutate stored state.
func (r *Record) Clone() *Record {
	c := *r
	return &c
}
