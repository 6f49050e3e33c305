package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "healthshare/pkg/domain"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *captureSink) Emit(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestEmit_SyncPersistsImmediately(t *testing.T) {
	store := NewInMemoryStore()
	publisher := NewPublisher(store)
	userID := id.UserID(uuid.New())

	require.NoError(t, publisher.Emit(context.Background(), Event{
		UserID:   userID,
		Action:   "consent_created",
		Decision: "granted",
	}))

	events, err := publisher.List(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "consent_created", events[0].Action)
	assert.False(t, events[0].Timestamp.IsZero(), "Emit must stamp events without a timestamp")
}

func TestEmit_AsyncDrainsOnClose(t *testing.T) {
	store := NewInMemoryStore()
	publisher := NewPublisher(store, WithAsyncBuffer(16))
	userID := id.UserID(uuid.New())

	for i := 0; i < 5; i++ {
		require.NoError(t, publisher.Emit(context.Background(), Event{
			UserID: userID,
			Action: "consent_updated",
		}))
	}
	publisher.Close()

	events, err := store.ListByUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Len(t, events, 5, "Close must drain buffered events")
}

func TestEmit_SinkReceivesEveryEvent(t *testing.T) {
	sink := &captureSink{}
	publisher := NewPublisher(NewInMemoryStore(), WithSink(sink))
	userID := id.UserID(uuid.New())

	require.NoError(t, publisher.Emit(context.Background(), Event{UserID: userID, Action: "consent_denied"}))
	require.NoError(t, publisher.Emit(context.Background(), Event{UserID: userID, Action: "consent_deleted"}))

	assert.Equal(t, 2, sink.count())
}

func TestEmit_PreservesProvidedTimestamp(t *testing.T) {
	store := NewInMemoryStore()
	publisher := NewPublisher(store)
	userID := id.UserID(uuid.New())
	stamp := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, publisher.Emit(context.Background(), Event{
		UserID:    userID,
		Action:    "consent_created",
		Timestamp: stamp,
	}))

	events, err := store.ListByUser(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, stamp, events[0].Timestamp)
}

func TestList_ScopedToUser(t *testing.T) {
	store := NewInMemoryStore()
	publisher := NewPublisher(store)
	alice := id.UserID(uuid.New())
	bob := id.UserID(uuid.New())

	require.NoError(t, publisher.Emit(context.Background(), Event{UserID: alice, Action: "consent_created"}))
	require.NoError(t, publisher.Emit(context.Background(), Event{UserID: bob, Action: "consent_created"}))

	events, err := publisher.List(context.Background(), alice)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, alice, events[0].UserID)
}
