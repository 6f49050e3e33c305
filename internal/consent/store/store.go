package store

import (
	"context"

	"healthshare/internal/consent/models"
	id "healthshare/pkg/domain"
	dErrors "healthshare/pkg/domain-errors"
)

var (
	// ErrNotFound keeps storage-specific 404s consistent across implementations.
	ErrNotFound = dErrors.New(dErrors.CodeNotFound, "consent record not found")
	// ErrConflict signals a uniqueness violation on (owner, provider).
	ErrConflict = dErrors.New(dErrors.CodeConflict, "consent record already exists for provider")
)

// Store persists consent records. Every method takes the acting principal and
// enforces the owner-only policy at the storage boundary; a caller that
// bypasses the HTTP layer still cannot touch foreign records.
//
// Error Contract:
//   - GetByID and UpdateApproval return ErrNotFound when no record exists
//   - Create returns ErrConflict when (owner, provider) is already taken
//   - Any operation on a foreign record fails with a forbidden domain error
//   - Delete of an absent record is an idempotent no-op returning (nil, nil)
//   - Infrastructure failures are wrapped with CodeUnavailable
type Store interface {
	// Create inserts a new record, preserving the caller-generated ID.
	Create(ctx context.Context, principal id.UserID, record *models.Record) error
	// Upsert creates the (owner, provider) record if absent, otherwise merges
	// the supplied flags into the existing record and refreshes UpdatedAt.
	Upsert(ctx context.Context, principal id.UserID, providerID id.ProviderID, flags models.Flags) (*models.Record, error)
	GetByID(ctx context.Context, principal id.UserID, consentID id.ConsentID) (*models.Record, error)
	ListByOwner(ctx context.Context, principal id.UserID, ownerID id.UserID) ([]*models.Record, error)
	UpdateApproval(ctx context.Context, principal id.UserID, consentID id.ConsentID, approved bool) (*models.Record, error)
	// Delete removes the record and returns it for change notification.
	// Absent records are a no-op: (nil, nil).
	Delete(ctx context.Context, principal id.UserID, consentID id.ConsentID) (*models.Record, error)
	// DeleteByOwner removes every record owned by ownerID (account deletion
	// cascade) and returns the deleted records.
	DeleteByOwner(ctx context.Context, ownerID id.UserID) ([]*models.Record, error)
}
