package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"healthshare/internal/consent/models"
	"healthshare/internal/consent/policy"
	id "healthshare/pkg/domain"
	dErrors "healthshare/pkg/domain-errors"
)

// PostgresStore persists consent records in PostgreSQL. Ownership is enforced
// both in SQL (every mutation is keyed by owner_id) and via the policy check,
// so a foreign consent ID yields forbidden rather than silently matching zero
// rows.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed consent store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const recordColumns = `id, owner_id, provider_id, lab_results, medications, fitness_data, approved, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, principal id.UserID, record *models.Record) error {
	if record == nil {
		return dErrors.New(dErrors.CodeInvariantViolation, "consent record is required")
	}
	if err := policy.Authorize(principal, policy.OpInsert, record.OwnerID); err != nil {
		return err
	}
	if err := s.ensureOwner(ctx, record.OwnerID); err != nil {
		return err
	}
	query := `
		INSERT INTO consents (id, owner_id, provider_id, lab_results, medications, fitness_data, approved, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		ON CONFLICT (owner_id, provider_id) DO NOTHING
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		uuid.UUID(record.ID),
		uuid.UUID(record.OwnerID),
		uuid.UUID(record.ProviderID),
		record.LabResults,
		record.Medications,
		record.FitnessData,
		record.Approved,
	).Scan(&record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrConflict
		}
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "save consent")
	}
	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, principal id.UserID, providerID id.ProviderID, flags models.Flags) (*models.Record, error) {
	if err := policy.Authorize(principal, policy.OpInsert, principal); err != nil {
		return nil, err
	}
	if err := s.ensureOwner(ctx, principal); err != nil {
		return nil, err
	}
	// COALESCE keeps unset flags at their defaults on insert and untouched on
	// merge. GREATEST keeps updated_at monotonically non-decreasing.
	query := `
		INSERT INTO consents (id, owner_id, provider_id, lab_results, medications, fitness_data, approved, created_at, updated_at)
		VALUES ($1, $2, $3, COALESCE($4, false), COALESCE($5, false), COALESCE($6, false), COALESCE($7, false), now(), now())
		ON CONFLICT (owner_id, provider_id) DO UPDATE SET
			lab_results  = COALESCE($4, consents.lab_results),
			medications  = COALESCE($5, consents.medications),
			fitness_data = COALESCE($6, consents.fitness_data),
			approved     = COALESCE($7, consents.approved),
			updated_at   = GREATEST(now(), consents.updated_at)
		RETURNING ` + recordColumns
	record, err := scanRecord(s.db.QueryRowContext(ctx, query,
		uuid.UUID(id.NewConsentID()),
		uuid.UUID(principal),
		uuid.UUID(providerID),
		flags.LabResults,
		flags.Medications,
		flags.FitnessData,
		flags.Approved,
	))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "upsert consent")
	}
	return record, nil
}

func (s *PostgresStore) GetByID(ctx context.Context, principal id.UserID, consentID id.ConsentID) (*models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM consents WHERE id = $1`
	record, err := scanRecord(s.db.QueryRowContext(ctx, query, uuid.UUID(consentID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "find consent")
	}
	if err := policy.Authorize(principal, policy.OpRead, record.OwnerID); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *PostgresStore) ListByOwner(ctx context.Context, principal id.UserID, ownerID id.UserID) ([]*models.Record, error) {
	if err := policy.Authorize(principal, policy.OpRead, ownerID); err != nil {
		return nil, err
	}
	query := `SELECT ` + recordColumns + ` FROM consents WHERE owner_id = $1 ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(ownerID))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "list consents")
	}
	defer rows.Close()

	var records []*models.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "scan consent")
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "iterate consents")
	}
	return records, nil
}

func (s *PostgresStore) UpdateApproval(ctx context.Context, principal id.UserID, consentID id.ConsentID, approved bool) (*models.Record, error) {
	// GetByID carries the read-side ownership check; the WHERE owner_id below
	// re-asserts it on the write.
	if _, err := s.GetByID(ctx, principal, consentID); err != nil {
		return nil, err
	}
	query := `
		UPDATE consents
		SET approved = $2, updated_at = GREATEST(now(), updated_at)
		WHERE id = $1 AND owner_id = $3
		RETURNING ` + recordColumns
	record, err := scanRecord(s.db.QueryRowContext(ctx, query,
		uuid.UUID(consentID), approved, uuid.UUID(principal),
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "update consent approval")
	}
	return record, nil
}

func (s *PostgresStore) Delete(ctx context.Context, principal id.UserID, consentID id.ConsentID) (*models.Record, error) {
	existing, err := s.GetByID(ctx, principal, consentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	query := `DELETE FROM consents WHERE id = $1 AND owner_id = $2`
	if _, err := s.db.ExecContext(ctx, query, uuid.UUID(consentID), uuid.UUID(principal)); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "delete consent")
	}
	return existing, nil
}

func (s *PostgresStore) DeleteByOwner(ctx context.Context, ownerID id.UserID) ([]*models.Record, error) {
	deleted, err := s.ListByOwner(ctx, ownerID, ownerID)
	if err != nil {
		return nil, err
	}
	// Removing the users row cascades to consents via the FK.
	if _, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, uuid.UUID(ownerID)); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "delete consents by owner")
	}
	return deleted, nil
}

// ensureOwner upserts the users row the consents FK points at. Identity lives
// in the JWT issuer; this table exists for the cascade-delete invariant.
func (s *PostgresStore) ensureOwner(ctx context.Context, ownerID id.UserID) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`,
		uuid.UUID(ownerID),
	)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "ensure owner")
	}
	return nil
}

type recordRow interface {
	Scan(dest ...any) error
}

func scanRecord(row recordRow) (*models.Record, error) {
	var record models.Record
	var consentID, ownerID, providerID uuid.UUID
	if err := row.Scan(
		&consentID,
		&ownerID,
		&providerID,
		&record.LabResults,
		&record.Medications,
		&record.FitnessData,
		&record.Approved,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return nil, err
	}
	record.ID = id.ConsentID(consentID)
	record.OwnerID = id.UserID(ownerID)
	record.ProviderID = id.ProviderID(providerID)
	return &record, nil
}
