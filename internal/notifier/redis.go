package notifier

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	id "healthshare/pkg/domain"
	dErrors "healthshare/pkg/domain-errors"
)

const channelPrefix = "consent.events."

// Redis is a Notifier backed by Redis pub/sub so change events reach
// subscribers in other processes. Events for an owner travel on a single
// channel, preserving publish order for sequential writes to one record.
//
// Redis pub/sub does not queue for offline subscribers; a reconnecting client
// must refetch its full set, which is the mirror's refresh contract anyway.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedis constructs a Redis-backed notifier.
func NewRedis(client *redis.Client, logger *slog.Logger) *Redis {
	return &Redis{client: client, logger: logger}
}

func (n *Redis) Publish(ctx context.Context, event Event) error {
	if event.Record == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "encode consent event")
	}
	channel := channelPrefix + event.Record.OwnerID.String()
	if err := n.client.Publish(ctx, channel, payload).Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "publish consent event")
	}
	eventsPublished.WithLabelValues(string(event.Op)).Inc()
	return nil
}

func (n *Redis) Subscribe(ownerID id.UserID, handler Handler) Subscription {
	pubsub := n.client.Subscribe(context.Background(), channelPrefix+ownerID.String())
	sub := &redisSubscription{
		pubsub:  pubsub,
		handler: handler,
		logger:  n.logger,
	}
	go sub.dispatch()
	return sub
}

type redisSubscription struct {
	pubsub  *redis.PubSub
	handler Handler
	logger  *slog.Logger

	closed atomic.Bool
	once   sync.Once
}

func (s *redisSubscription) dispatch() {
	for msg := range s.pubsub.Channel() {
		if s.closed.Load() {
			return
		}
		var event Event
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			if s.logger != nil {
				s.logger.Warn("malformed consent event dropped",
					"channel", msg.Channel,
					"error", err,
				)
			}
			continue
		}
		s.handler(event)
	}
}

func (s *redisSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.closed.Store(true)
		if err := s.pubsub.Close(); err != nil && s.logger != nil {
			s.logger.Warn("failed to close pubsub subscription", "error", err)
		}
	})
}
