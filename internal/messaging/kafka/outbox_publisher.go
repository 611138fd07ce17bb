package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/stockorders/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в заданный Kafka topic.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
// Ключ сообщения — ID агрегата, поэтому события одного заказа идут в одну партицию.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (p *OutboxTopicPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	payload := json.RawMessage(event.Payload)
	if !json.Valid(payload) {
		return fmt.Errorf("outbox message %s has invalid json payload", event.ID)
	}

	return p.producer.PublishEvent(ctx, p.topic, key, OutboxEnvelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       payload,
		OccurredAt:    event.CreatedAt,
		PublishedAt:   p.now(),
	},
		header(HeaderEventType, event.EventType),
		header(HeaderEventID, event.ID),
	)
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
