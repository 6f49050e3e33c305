package store

import (
	"context"
	"sync"
	"time"

	"healthshare/internal/consent/models"
	"healthshare/internal/consent/policy"
	id "healthshare/pkg/domain"
	psync "healthshare/pkg/platform/sync"
)

// InMemoryStore keeps consent records in memory. It backs tests and
// single-node deployments without PostgreSQL.
type InMemoryStore struct {
	// ownerLocks serializes read-modify-write cycles per owner so concurrent
	// upserts for the same (owner, provider) pair resolve last-write-wins
	// without blocking unrelated owners.
	ownerLocks *psync.ShardedMutex

	mu      sync.RWMutex
	byID    map[id.ConsentID]*models.Record
	byOwner map[id.UserID]map[id.ProviderID]id.ConsentID
}

// New constructs an empty in-memory consent store.
func New() *InMemoryStore {
	return &InMemoryStore{
		ownerLocks: psync.NewShardedMutex(),
		byID:       make(map[id.ConsentID]*models.Record),
		byOwner:    make(map[id.UserID]map[id.ProviderID]id.ConsentID),
	}
}

func (s *InMemoryStore) Create(_ context.Context, principal id.UserID, record *models.Record) error {
	if err := policy.Authorize(principal, policy.OpInsert, record.OwnerID); err != nil {
		return err
	}
	s.ownerLocks.Lock(record.OwnerID.String())
	defer s.ownerLocks.Unlock(record.OwnerID.String())

	s.mu.Lock()
	defer s.mu.Unlock()
	owned, ok := s.byOwner[record.OwnerID]
	if !ok {
		owned = make(map[id.ProviderID]id.ConsentID)
		s.byOwner[record.OwnerID] = owned
	}
	if _, exists := owned[record.ProviderID]; exists {
		return ErrConflict
	}
	stored := record.Clone()
	owned[record.ProviderID] = stored.ID
	s.byID[stored.ID] = stored
	return nil
}

func (s *InMemoryStore) Upsert(ctx context.Context, principal id.UserID, providerID id.ProviderID, flags models.Flags) (*models.Record, error) {
	if err := policy.Authorize(principal, policy.OpInsert, principal); err != nil {
		return nil, err
	}
	s.ownerLocks.Lock(principal.String())
	defer s.ownerLocks.Unlock(principal.String())

	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	owned, ok := s.byOwner[principal]
	if !ok {
		owned = make(map[id.ProviderID]id.ConsentID)
		s.byOwner[principal] = owned
	}
	if consentID, exists := owned[providerID]; exists {
		record := s.byID[consentID]
		record.Apply(flags, now)
		return record.Clone(), nil
	}
	record, err := models.NewRecord(id.NewConsentID(), principal, providerID, flags, now)
	if err != nil {
		return nil, err
	}
	owned[providerID] = record.ID
	s.byID[record.ID] = record
	return record.Clone(), nil
}

func (s *InMemoryStore) GetByID(_ context.Context, principal id.UserID, consentID id.ConsentID) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.byID[consentID]
	if !ok {
		return nil, ErrNotFound
	}
	if err := policy.Authorize(principal, policy.OpRead, record.OwnerID); err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

func (s *InMemoryStore) ListByOwner(_ context.Context, principal id.UserID, ownerID id.UserID) ([]*models.Record, error) {
	if err := policy.Authorize(principal, policy.OpRead, ownerID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var records []*models.Record
	for _, consentID := range s.byOwner[ownerID] {
		records = append(records, s.byID[consentID].Clone())
	}
	return records, nil
}

func (s *InMemoryStore) UpdateApproval(_ context.Context, principal id.UserID, consentID id.ConsentID, approved bool) (*models.Record, error) {
	s.ownerLocks.Lock(principal.String())
	defer s.ownerLocks.Unlock(principal.String())

	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.byID[consentID]
	if !ok {
		return nil, ErrNotFound
	}
	if err := policy.Authorize(principal, policy.OpUpdate, record.OwnerID); err != nil {
		return nil, err
	}
	record.Approved = approved
	record.Touch(time.Now())
	return record.Clone(), nil
}

func (s *InMemoryStore) Delete(_ context.Context, principal id.UserID, consentID id.ConsentID) (*models.Record, error) {
	s.ownerLocks.Lock(principal.String())
	defer s.ownerLocks.Unlock(principal.String())

	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.byID[consentID]
	if !ok {
		return nil, nil
	}
	if err := policy.Authorize(principal, policy.OpDelete, record.OwnerID); err != nil {
		return nil, err
	}
	delete(s.byID, consentID)
	if owned := s.byOwner[record.OwnerID]; owned != nil {
		delete(owned, record.ProviderID)
	}
	return record, nil
}

func (s *InMemoryStore) DeleteByOwner(_ context.Context, ownerID id.UserID) ([]*models.Record, error) {
	s.ownerLocks.Lock(ownerID.String())
	defer s.ownerLocks.Unlock(ownerID.String())

	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted []*models.Record
	for _, consentID := range s.byOwner[ownerID] {
		deleted = append(deleted, s.byID[consentID])
		delete(s.byID, consentID)
	}
	delete(s.byOwner, ownerID)
	return deleted, nil
}
