package audit

import (
	"context"
	"encoding/json"

	"healthshare/internal/platform/kafka/producer"
	dErrors "healthshare/pkg/domain-errors"
)

// DefaultTopic is the Kafka topic audit events are shipped to.
const DefaultTopic = "healthshare.audit.events"

// KafkaSink ships audit events to Kafka, keyed by user so a consumer sees one
// user's trail in order.
type KafkaSink struct {
	producer *producer.Producer
	topic    string
}

// NewKafkaSink constructs a sink over an existing producer. An empty topic
// selects DefaultTopic.
func NewKafkaSink(p *producer.Producer, topic string) *KafkaSink {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaSink{producer: p, topic: topic}
}

func (s *KafkaSink) Emit(_ context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "encode audit event")
	}
	// Async produce: audit shipping must not block consent mutations.
	return s.producer.ProduceAsync(&producer.Message{
		Topic: s.topic,
		Key:   []byte(event.UserID.String()),
		Value: payload,
	})
}
