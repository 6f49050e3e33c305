package audit

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	id "healthshare/pkg/domain"
	dErrors "healthshare/pkg/domain-errors"
)

// PostgresStore persists audit events in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed audit store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	query := `
		INSERT INTO audit_events (ts, user_id, provider_id, action, decision, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.Timestamp,
		uuid.UUID(event.UserID),
		uuid.UUID(event.ProviderID),
		event.Action,
		event.Decision,
		event.Reason,
	)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "append audit event")
	}
	return nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID id.UserID) ([]Event, error) {
	query := `
		SELECT ts, user_id, provider_id, action, decision, reason
		FROM audit_events
		WHERE user_id = $1
		ORDER BY ts
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(userID))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "list audit events")
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var event Event
		var user, provider uuid.UUID
		if err := rows.Scan(&event.Timestamp, &user, &provider, &event.Action, &event.Decision, &event.Reason); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "scan audit event")
		}
		event.UserID = id.UserID(user)
		event.ProviderID = id.ProviderID(provider)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "iterate audit events")
	}
	return events, nil
}
