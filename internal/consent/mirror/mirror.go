// Package mirror maintains a client session's in-memory copy of its consent
// records: the optimistic-update / realtime-sync layer between a presentation
// surface and the consent service.
//
// A Session moves Uninitialized -> Loading -> Ready. Local mutations apply to
// the mirror immediately, then issue the backend call; remote change events
// merge by record ID, which makes duplicate delivery harmless. All mirror
// updates run under one mutex, so a merge or optimistic update completes
// fully before the next is applied.
package mirror

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"healthshare/internal/consent/models"
	"healthshare/internal/notifier"
	id "healthshare/pkg/domain"
	dErrors "healthshare/pkg/domain-errors"
)

// State is the session lifecycle phase.
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "uninitialized"
	}
}

// Backend is the persistence surface the session mutates through. It is
// implemented by the consent service, which enforces policy at the store
// boundary and fans change events out after each committed write.
type Backend interface {
	Add(ctx context.Context, principal id.UserID, record *models.Record) (*models.Record, error)
	Upsert(ctx context.Context, principal id.UserID, providerID id.ProviderID, flags models.Flags) (*models.Record, error)
	Decide(ctx context.Context, principal id.UserID, consentID id.ConsentID, approved bool) (*models.Record, error)
	Remove(ctx context.Context, principal id.UserID, consentID id.ConsentID) error
	List(ctx context.Context, principal id.UserID) ([]*models.Record, error)
}

// Subscriber registers change event handlers; satisfied by any notifier.
type Subscriber interface {
	Subscribe(ownerID id.UserID, handler notifier.Handler) notifier.Subscription
}

// Session mirrors one principal's consent records.
//
// A session built with a nil principal is local-only: Start succeeds without
// backend or subscription traffic, and mutations touch only the mirror. This
// is the logged-out mode, not an error.
type Session struct {
	principal  id.UserID
	backend    Backend
	subscriber Subscriber
	logger     *slog.Logger

	mu      sync.Mutex
	state   State
	records map[id.ConsentID]*models.Record
	pending []func(ctx context.Context) error
	sub     notifier.Subscription
}

// NewSession constructs a session for the given principal. Call Start to load
// the mirror and begin receiving change events.
func NewSession(principal id.UserID, backend Backend, subscriber Subscriber, logger *slog.Logger) *Session {
	return &Session{
		principal:  principal,
		backend:    backend,
		subscriber: subscriber,
		logger:     logger,
		records:    make(map[id.ConsentID]*models.Record),
	}
}

// Start loads the full record set and subscribes to change events. Local
// mutations issued while the fetch is in flight are queued and flushed once
// the session is Ready; their backend errors are joined into Start's return
// so no failure is silently swallowed.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateUninitialized {
		s.mu.Unlock()
		return dErrors.New(dErrors.CodeInvariantViolation, "session already started")
	}
	if s.principal.IsNil() {
		// Local-only mirror for the logged-out case.
		s.state = StateReady
		s.mu.Unlock()
		return nil
	}
	s.state = StateLoading
	// Subscribe before fetching: events racing the fetch are merged by ID, so
	// the window between snapshot and subscription cannot lose changes.
	s.sub = s.subscriber.Subscribe(s.principal, s.handleEvent)
	s.mu.Unlock()

	records, err := s.backend.List(ctx, s.principal)
	if err != nil {
		s.mu.Lock()
		s.sub.Unsubscribe()
		s.sub = nil
		s.state = StateUninitialized
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	for _, record := range records {
		// Merge, don't overwrite: an event applied during the fetch may be
		// newer than the snapshot row.
		if existing, ok := s.records[record.ID]; !ok || record.UpdatedAt.After(existing.UpdatedAt) {
			s.records[record.ID] = record.Clone()
		}
	}
	s.state = StateReady
	queued := s.pending
	s.pending = nil
	s.mu.Unlock()

	var errs []error
	for _, mutation := range queued {
		if err := mutation(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AddProvider optimistically inserts a record for the provider and issues the
// backend create. The record ID is generated client-side so the mirror and
// the persisted row agree on identity.
func (s *Session) AddProvider(ctx context.Context, providerID id.ProviderID, flags models.Flags) (*models.Record, error) {
	owner := s.principal
	if owner.IsNil() {
		// Records need an owner even when they never leave this mirror.
		owner = localOwner
	}
	record, err := models.NewRecord(id.NewConsentID(), owner, providerID, flags, time.Now())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.state == StateUninitialized {
		s.mu.Unlock()
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "session not started")
	}
	s.records[record.ID] = record.Clone()
	issue := s.issueLocked(func(ctx context.Context) error {
		persisted, err := s.backend.Add(ctx, s.principal, record)
		if err != nil {
			return err
		}
		s.merge(notifier.Event{Op: notifier.OpInsert, Record: persisted})
		return nil
	})
	s.mu.Unlock()

	return record, issue(ctx)
}

// SetFlags optimistically merges grant flags for the provider and issues the
// backend upsert.
func (s *Session) SetFlags(ctx context.Context, providerID id.ProviderID, flags models.Flags) error {
	s.mu.Lock()
	if s.state == StateUninitialized {
		s.mu.Unlock()
		return dErrors.New(dErrors.CodeInvariantViolation, "session not started")
	}
	now := time.Now()
	if existing := s.findByProviderLocked(providerID); existing != nil {
		existing.Apply(flags, now)
	} else {
		owner := s.principal
		if owner.IsNil() {
			owner = localOwner
		}
		if record, err := models.NewRecord(id.NewConsentID(), owner, providerID, flags, now); err == nil {
			s.records[record.ID] = record
		}
	}
	issue := s.issueLocked(func(ctx context.Context) error {
		persisted, err := s.backend.Upsert(ctx, s.principal, providerID, flags)
		if err != nil {
			return err
		}
		s.mu.Lock()
		// The server row is authoritative; drop any provisional record that
		// carries a different ID for the same provider.
		if provisional := s.findByProviderLocked(providerID); provisional != nil && provisional.ID != persisted.ID {
			delete(s.records, provisional.ID)
		}
		s.mu.Unlock()
		s.merge(notifier.Event{Op: notifier.OpUpdate, Record: persisted})
		return nil
	})
	s.mu.Unlock()

	return issue(ctx)
}

// Approve optimistically marks the record approved and issues the backend
// decision.
func (s *Session) Approve(ctx context.Context, consentID id.ConsentID) error {
	return s.decide(ctx, consentID, true)
}

// Deny optimistically removes the pending record and issues the backend
// decision, which deletes it server-side.
func (s *Session) Deny(ctx context.Context, consentID id.ConsentID) error {
	return s.decide(ctx, consentID, false)
}

func (s *Session) decide(ctx context.Context, consentID id.ConsentID, approved bool) error {
	s.mu.Lock()
	if s.state == StateUninitialized {
		s.mu.Unlock()
		return dErrors.New(dErrors.CodeInvariantViolation, "session not started")
	}
	if record, ok := s.records[consentID]; ok {
		if approved {
			record.Approved = true
			record.Touch(time.Now())
		} else {
			delete(s.records, consentID)
		}
	}
	issue := s.issueLocked(func(ctx context.Context) error {
		_, err := s.backend.Decide(ctx, s.principal, consentID, approved)
		return err
	})
	s.mu.Unlock()

	return issue(ctx)
}

// RemoveProvider optimistically deletes the record and issues the backend
// delete.
func (s *Session) RemoveProvider(ctx context.Context, consentID id.ConsentID) error {
	s.mu.Lock()
	if s.state == StateUninitialized {
		s.mu.Unlock()
		return dErrors.New(dErrors.CodeInvariantViolation, "session not started")
	}
	delete(s.records, consentID)
	issue := s.issueLocked(func(ctx context.Context) error {
		return s.backend.Remove(ctx, s.principal, consentID)
	})
	s.mu.Unlock()

	return issue(ctx)
}

// Refresh refetches the full record set and replaces the mirror. Use after a
// dropped subscription: events are not queued for offline subscribers.
func (s *Session) Refresh(ctx context.Context) error {
	if s.principal.IsNil() {
		return nil
	}
	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return dErrors.New(dErrors.CodeInvariantViolation, "session not ready")
	}
	s.mu.Unlock()

	records, err := s.backend.List(ctx, s.principal)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.records = make(map[id.ConsentID]*models.Record, len(records))
	for _, record := range records {
		s.records[record.ID] = record.Clone()
	}
	s.mu.Unlock()
	return nil
}

// Records returns a snapshot of the mirror.
func (s *Session) Records() []*models.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]*models.Record, 0, len(s.records))
	for _, record := range s.records {
		records = append(records, record.Clone())
	}
	return records
}

// State reports the session lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close releases the subscription and resets the session to Uninitialized.
// In-flight backend calls still complete server-side; only their mirror
// binding becomes a no-op. The state flips before the subscription is
// released, so a handler racing Close merges into nothing.
func (s *Session) Close() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.state = StateUninitialized
	s.records = make(map[id.ConsentID]*models.Record)
	s.pending = nil
	s.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

// handleEvent is the notifier callback; it merges remote changes by ID.
func (s *Session) handleEvent(event notifier.Event) {
	s.merge(event)
}

// merge applies one change event to the mirror: insert if absent, replace by
// ID, remove on delete. Applying the same event twice yields the same mirror,
// so at-least-once delivery cannot corrupt state.
func (s *Session) merge(event notifier.Event) {
	if event.Record == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateUninitialized {
		return
	}
	switch event.Op {
	case notifier.OpDelete:
		delete(s.records, event.Record.ID)
	default:
		s.records[event.Record.ID] = event.Record.Clone()
	}
}

// issueLocked returns the function that performs the backend call for a local
// mutation. While the session is Loading, the call is queued for Start to
// flush and the returned function is a no-op success. Callers must hold s.mu.
func (s *Session) issueLocked(call func(ctx context.Context) error) func(ctx context.Context) error {
	if s.principal.IsNil() {
		// Local-only session: nothing to persist.
		return func(context.Context) error { return nil }
	}
	if s.state == StateLoading {
		s.pending = append(s.pending, call)
		return func(context.Context) error { return nil }
	}
	return call
}

func (s *Session) findByProviderLocked(providerID id.ProviderID) *models.Record {
	for _, record := range s.records {
		if record.ProviderID == providerID {
			return record
		}
	}
	return nil
}

// localOwner marks records that exist only in a logged-out mirror.
var localOwner = func() id.UserID {
	parsed, _ := id.ParseUserID("00000000-0000-0000-0000-000000000001")
	return parsed
}()
