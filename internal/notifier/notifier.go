// Package notifier fans consent record changes out to per-owner subscribers.
//
// Delivery is asynchronous and FIFO per subscription, which preserves the
// order of sequential writes to the same record. The originating writer is a
// subscriber like any other; there is no self-notification suppression, so
// clients reconcile by merging event content rather than by identity.
//
// Delivery is near-real-time and best effort: a subscriber that falls far
// enough behind to overflow its buffer loses events and must refetch
// (mirror.Refresh) to resynchronize, exactly as after a dropped connection.
package notifier

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"healthshare/internal/consent/models"
	id "healthshare/pkg/domain"
)

// Op classifies a change event.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Event is one row-level change. Delete events carry the full record as it
// was before removal so subscribers can merge by ID.
type Event struct {
	Op     Op             `json:"op"`
	Record *models.Record `json:"record"`
}

// Handler receives events for one subscription. Handlers run on the
// subscription's delivery goroutine; a slow handler delays only its own
// subscription.
type Handler func(Event)

// Subscription is a live registration that can be torn down.
type Subscription interface {
	// Unsubscribe stops delivery: no event published after it returns is
	// delivered. It is idempotent and safe to call from inside the handler
	// itself. An invocation already in flight when Unsubscribe is called may
	// complete concurrently; consumers that need a hard cut-off gate their
	// handler on their own state (see mirror.Session.Close).
	Unsubscribe()
}

// Notifier publishes change events and registers per-owner subscribers.
type Notifier interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(ownerID id.UserID, handler Handler) Subscription
}

var (
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "healthshare_consent_events_published_total",
		Help: "Total number of consent change events published, labeled by operation",
	}, []string{"op"})
	eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "healthshare_consent_events_dropped_total",
		Help: "Total number of consent change events dropped on full subscriber buffers",
	})
)

const subscriptionBuffer = 64

// Memory is an in-process Notifier for tests and single-node deployments.
type Memory struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[id.UserID]map[*memorySubscription]struct{}
}

// NewMemory constructs an in-process notifier.
func NewMemory(logger *slog.Logger) *Memory {
	return &Memory{
		logger: logger,
		subs:   make(map[id.UserID]map[*memorySubscription]struct{}),
	}
}

func (n *Memory) Publish(_ context.Context, event Event) error {
	if event.Record == nil {
		return nil
	}
	eventsPublished.WithLabelValues(string(event.Op)).Inc()

	n.mu.RLock()
	defer n.mu.RUnlock()
	for sub := range n.subs[event.Record.OwnerID] {
		select {
		case sub.events <- event:
		default:
			// Non-blocking send; dropping keeps publishers off the hook for a
			// stalled subscriber. The subscriber resynchronizes by refetch.
			eventsDropped.Inc()
			if n.logger != nil {
				n.logger.Warn("subscriber buffer full, event dropped",
					"owner_id", event.Record.OwnerID,
					"op", event.Op,
				)
			}
		}
	}
	return nil
}

func (n *Memory) Subscribe(ownerID id.UserID, handler Handler) Subscription {
	sub := &memorySubscription{
		notifier: n,
		ownerID:  ownerID,
		handler:  handler,
		events:   make(chan Event, subscriptionBuffer),
		quit:     make(chan struct{}),
	}

	n.mu.Lock()
	owned, ok := n.subs[ownerID]
	if !ok {
		owned = make(map[*memorySubscription]struct{})
		n.subs[ownerID] = owned
	}
	owned[sub] = struct{}{}
	n.mu.Unlock()

	go sub.dispatch()
	return sub
}

func (n *Memory) remove(sub *memorySubscription) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if owned, ok := n.subs[sub.ownerID]; ok {
		delete(owned, sub)
		if len(owned) == 0 {
			delete(n.subs, sub.ownerID)
		}
	}
}

type memorySubscription struct {
	notifier *Memory
	ownerID  id.UserID
	handler  Handler
	events   chan Event
	quit     chan struct{}

	closed atomic.Bool
	once   sync.Once
}

func (s *memorySubscription) dispatch() {
	for {
		select {
		case <-s.quit:
			return
		case event := <-s.events:
			// closed is set before quit is closed, so an event already queued
			// when Unsubscribe runs is discarded here rather than delivered.
			if s.closed.Load() {
				return
			}
			s.handler(event)
		}
	}
}

func (s *memorySubscription) Unsubscribe() {
	s.once.Do(func() {
		s.notifier.remove(s)
		s.closed.Store(true)
		close(s.quit)
	})
}
