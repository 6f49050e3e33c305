package audit

import (
	"context"

	id "healthshare/pkg/domain"
)

// Store is an append-only sink with per-user retrieval for the audit API.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByUser(ctx context.Context, userID id.UserID) ([]Event, error)
}
