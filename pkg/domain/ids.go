// Package domain provides type-safe identifiers to prevent mixing up IDs at compile time.
package domain

import (
	"github.com/google/uuid"

	dErrors "healthshare/pkg/domain-errors"
)

// Distinct ID types - the compiler prevents passing a ProviderID where a
// UserID is expected.
type (
	UserID     uuid.UUID
	ProviderID uuid.UUID
	ConsentID  uuid.UUID
)

// New functions - for record creation.

func NewConsentID() ConsentID { return ConsentID(uuid.New()) }

// Parse functions - use at trust boundaries (handlers, API inputs).

func ParseUserID(s string) (UserID, error) {
	id, err := parseUUID(s, "user ID")
	return UserID(id), err
}

func ParseProviderID(s string) (ProviderID, error) {
	id, err := parseUUID(s, "provider ID")
	return ProviderID(id), err
}

func ParseConsentID(s string) (ConsentID, error) {
	id, err := parseUUID(s, "consent ID")
	return ConsentID(id), err
}

// String methods - for logging and debugging.

func (id UserID) String() string     { return uuid.UUID(id).String() }
func (id ProviderID) String() string { return uuid.UUID(id).String() }
func (id ConsentID) String() string  { return uuid.UUID(id).String() }

// IsNil checks - used for service-layer validation.

func (id UserID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id ProviderID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id ConsentID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }

// MarshalText/UnmarshalText let the typed IDs travel through JSON events
// without losing their uuid encoding.

func (id UserID) MarshalText() ([]byte, error)     { return []byte(id.String()), nil }
func (id ProviderID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id ConsentID) MarshalText() ([]byte, error)  { return []byte(id.String()), nil }

func (id *UserID) UnmarshalText(b []byte) error {
	parsed, err := ParseUserID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *ProviderID) UnmarshalText(b []byte) error {
	parsed, err := ParseProviderID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *ConsentID) UnmarshalText(b []byte) error {
	parsed, err := ParseConsentID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// parseUUID is the shared validation logic. Nil UUIDs are allowed here; use
// IsNil() at the service layer for business validation so store lookups can
// return proper "not found" errors.
func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	return parsed, nil
}
