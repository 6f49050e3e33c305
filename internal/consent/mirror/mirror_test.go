package mirror

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthshare/internal/consent/models"
	"healthshare/internal/notifier"
	id "healthshare/pkg/domain"
	dErrors "healthshare/pkg/domain-errors"
)

func boolPtr(b bool) *bool { return &b }

// fakeBackend records mutations in memory; listGate lets tests hold the
// initial fetch open to exercise the Loading state.
type fakeBackend struct {
	mu       sync.Mutex
	records  map[id.ConsentID]*models.Record
	listGate chan struct{}
	listErr  error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{records: make(map[id.ConsentID]*models.Record)}
}

func (b *fakeBackend) seed(t *testing.T, owner id.UserID) *models.Record {
	t.Helper()
	record, err := models.NewRecord(id.NewConsentID(), owner, id.ProviderID(uuid.New()), models.Flags{}, time.Now())
	require.NoError(t, err)
	b.mu.Lock()
	b.records[record.ID] = record
	b.mu.Unlock()
	return record
}

func (b *fakeBackend) Add(_ context.Context, _ id.UserID, record *models.Record) (*models.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[record.ID] = record.Clone()
	return record.Clone(), nil
}

func (b *fakeBackend) Upsert(_ context.Context, principal id.UserID, providerID id.ProviderID, flags models.Flags) (*models.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, record := range b.records {
		if record.OwnerID == principal && record.ProviderID == providerID {
			record.Apply(flags, time.Now())
			return record.Clone(), nil
		}
	}
	record, err := models.NewRecord(id.NewConsentID(), principal, providerID, flags, time.Now())
	if err != nil {
		return nil, err
	}
	b.records[record.ID] = record
	return record.Clone(), nil
}

func (b *fakeBackend) Decide(_ context.Context, _ id.UserID, consentID id.ConsentID, approved bool) (*models.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	record, ok := b.records[consentID]
	if !ok {
		if approved {
			return nil, dErrors.New(dErrors.CodeNotFound, "consent record not found")
		}
		return nil, nil
	}
	if approved {
		record.Approved = true
		record.Touch(time.Now())
		return record.Clone(), nil
	}
	delete(b.records, consentID)
	return nil, nil
}

func (b *fakeBackend) Remove(_ context.Context, _ id.UserID, consentID id.ConsentID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.records, consentID)
	return nil
}

func (b *fakeBackend) List(_ context.Context, principal id.UserID) ([]*models.Record, error) {
	if b.listGate != nil {
		<-b.listGate
	}
	if b.listErr != nil {
		return nil, b.listErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var records []*models.Record
	for _, record := range b.records {
		if record.OwnerID == principal {
			records = append(records, record.Clone())
		}
	}
	return records, nil
}

func (b *fakeBackend) get(consentID id.ConsentID) *models.Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	if record, ok := b.records[consentID]; ok {
		return record.Clone()
	}
	return nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newReadySession(t *testing.T, backend *fakeBackend, events *notifier.Memory, owner id.UserID) *Session {
	t.Helper()
	session := NewSession(owner, backend, events, nil)
	require.NoError(t, session.Start(context.Background()))
	require.Equal(t, StateReady, session.State())
	return session
}

func TestStart_LoadsExistingRecords(t *testing.T) {
	backend := newFakeBackend()
	events := notifier.NewMemory(nil)
	owner := id.UserID(uuid.New())
	seeded := backend.seed(t, owner)

	session := newReadySession(t, backend, events, owner)
	defer session.Close()

	records := session.Records()
	require.Len(t, records, 1)
	assert.Equal(t, seeded.ID, records[0].ID)
}

func TestStart_TwiceFails(t *testing.T) {
	backend := newFakeBackend()
	events := notifier.NewMemory(nil)
	session := newReadySession(t, backend, events, id.UserID(uuid.New()))
	defer session.Close()

	err := session.Start(context.Background())
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func TestStart_FetchFailureResetsSession(t *testing.T) {
	backend := newFakeBackend()
	backend.listErr = dErrors.New(dErrors.CodeUnavailable, "store down")
	events := notifier.NewMemory(nil)
	session := NewSession(id.UserID(uuid.New()), backend, events, nil)

	err := session.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateUninitialized, session.State())

	// The session is startable again once the backend recovers.
	backend.listErr = nil
	require.NoError(t, session.Start(context.Background()))
	session.Close()
}

func TestStart_NilPrincipalIsLocalOnly(t *testing.T) {
	session := NewSession(id.UserID{}, nil, nil, nil)
	require.NoError(t, session.Start(context.Background()))
	assert.Equal(t, StateReady, session.State())

	// Mutations succeed and stay local; no backend exists to reach.
	record, err := session.AddProvider(context.Background(), id.ProviderID(uuid.New()), models.Flags{LabResults: boolPtr(true)})
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Len(t, session.Records(), 1)

	session.Close()
}

func TestMutation_BeforeStartFails(t *testing.T) {
	session := NewSession(id.UserID(uuid.New()), newFakeBackend(), notifier.NewMemory(nil), nil)

	_, err := session.AddProvider(context.Background(), id.ProviderID(uuid.New()), models.Flags{})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func TestAddProvider_OptimisticAndPersisted(t *testing.T) {
	backend := newFakeBackend()
	events := notifier.NewMemory(nil)
	owner := id.UserID(uuid.New())
	session := newReadySession(t, backend, events, owner)
	defer session.Close()

	record, err := session.AddProvider(context.Background(), id.ProviderID(uuid.New()), models.Flags{Medications: boolPtr(true)})
	require.NoError(t, err)

	// The mirror and the backend agree on the record's identity.
	persisted := backend.get(record.ID)
	require.NotNil(t, persisted)
	assert.True(t, persisted.Medications)

	records := session.Records()
	require.Len(t, records, 1)
	assert.Equal(t, record.ID, records[0].ID)
}

func TestMutationsDuringLoading_QueueAndFlush(t *testing.T) {
	backend := newFakeBackend()
	backend.listGate = make(chan struct{})
	events := notifier.NewMemory(nil)
	owner := id.UserID(uuid.New())
	session := NewSession(owner, backend, events, nil)

	startErr := make(chan error, 1)
	go func() { startErr <- session.Start(context.Background()) }()
	waitFor(t, func() bool { return session.State() == StateLoading })

	// The mutation applies optimistically and returns while the fetch is
	// still in flight.
	record, err := session.AddProvider(context.Background(), id.ProviderID(uuid.New()), models.Flags{})
	require.NoError(t, err)
	assert.Len(t, session.Records(), 1)
	assert.Nil(t, backend.get(record.ID), "backend call must be deferred until Ready")

	close(backend.listGate)
	require.NoError(t, <-startErr)
	assert.Equal(t, StateReady, session.State())
	assert.NotNil(t, backend.get(record.ID), "queued mutation must flush after the fetch completes")

	session.Close()
}

func TestRemoteEvents_MergeByID(t *testing.T) {
	backend := newFakeBackend()
	events := notifier.NewMemory(nil)
	owner := id.UserID(uuid.New())
	session := newReadySession(t, backend, events, owner)
	defer session.Close()

	record, err := models.NewRecord(id.NewConsentID(), owner, id.ProviderID(uuid.New()), models.Flags{}, time.Now())
	require.NoError(t, err)

	// Insert from another session.
	require.NoError(t, events.Publish(context.Background(), notifier.Event{Op: notifier.OpInsert, Record: record.Clone()}))
	waitFor(t, func() bool { return len(session.Records()) == 1 })

	// Duplicate delivery converges to the same mirror.
	require.NoError(t, events.Publish(context.Background(), notifier.Event{Op: notifier.OpInsert, Record: record.Clone()}))

	// Update replaces by ID.
	updated := record.Clone()
	updated.Approved = true
	require.NoError(t, events.Publish(context.Background(), notifier.Event{Op: notifier.OpUpdate, Record: updated}))
	waitFor(t, func() bool {
		records := session.Records()
		return len(records) == 1 && records[0].Approved
	})

	// Delete removes by ID; deleting twice stays converged.
	require.NoError(t, events.Publish(context.Background(), notifier.Event{Op: notifier.OpDelete, Record: updated.Clone()}))
	waitFor(t, func() bool { return len(session.Records()) == 0 })
	require.NoError(t, events.Publish(context.Background(), notifier.Event{Op: notifier.OpDelete, Record: updated.Clone()}))
	assert.Empty(t, session.Records())
}

func TestApprove_UpdatesMirrorAndBackend(t *testing.T) {
	backend := newFakeBackend()
	events := notifier.NewMemory(nil)
	owner := id.UserID(uuid.New())
	seeded := backend.seed(t, owner)
	session := newReadySession(t, backend, events, owner)
	defer session.Close()

	require.NoError(t, session.Approve(context.Background(), seeded.ID))

	records := session.Records()
	require.Len(t, records, 1)
	assert.True(t, records[0].Approved)
	assert.True(t, backend.get(seeded.ID).Approved)
}

func TestDeny_RemovesRecord(t *testing.T) {
	backend := newFakeBackend()
	events := notifier.NewMemory(nil)
	owner := id.UserID(uuid.New())
	seeded := backend.seed(t, owner)
	session := newReadySession(t, backend, events, owner)
	defer session.Close()

	require.NoError(t, session.Deny(context.Background(), seeded.ID))

	assert.Empty(t, session.Records())
	assert.Nil(t, backend.get(seeded.ID))

	// Denying again is a converged no-op.
	assert.NoError(t, session.Deny(context.Background(), seeded.ID))
}

func TestRemoveProvider_IsIdempotent(t *testing.T) {
	backend := newFakeBackend()
	events := notifier.NewMemory(nil)
	owner := id.UserID(uuid.New())
	seeded := backend.seed(t, owner)
	session := newReadySession(t, backend, events, owner)
	defer session.Close()

	require.NoError(t, session.RemoveProvider(context.Background(), seeded.ID))
	require.NoError(t, session.RemoveProvider(context.Background(), seeded.ID))
	assert.Empty(t, session.Records())
}

func TestRefresh_ReplacesMirror(t *testing.T) {
	backend := newFakeBackend()
	events := notifier.NewMemory(nil)
	owner := id.UserID(uuid.New())
	session := newReadySession(t, backend, events, owner)
	defer session.Close()

	// The backend changed while this client was disconnected.
	seeded := backend.seed(t, owner)

	require.NoError(t, session.Refresh(context.Background()))
	records := session.Records()
	require.Len(t, records, 1)
	assert.Equal(t, seeded.ID, records[0].ID)
}

func TestClose_StopsEventDelivery(t *testing.T) {
	backend := newFakeBackend()
	events := notifier.NewMemory(nil)
	owner := id.UserID(uuid.New())
	session := newReadySession(t, backend, events, owner)

	session.Close()
	assert.Equal(t, StateUninitialized, session.State())

	record, err := models.NewRecord(id.NewConsentID(), owner, id.ProviderID(uuid.New()), models.Flags{}, time.Now())
	require.NoError(t, err)
	require.NoError(t, events.Publish(context.Background(), notifier.Event{Op: notifier.OpInsert, Record: record}))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, session.Records(), "closed sessions must not apply events")
}
