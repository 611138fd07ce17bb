package kafka

import (
	"encoding/json"
	"fmt"
	"time"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "stockorders.order.events"
	TopicStockCommands   = "stockorders.stock.commands"
	TopicDeadLetterQueue = "stockorders.dlq"
)

// Kafka headers
const (
	HeaderEventType     = "x-event-type"
	HeaderEventID       = "x-event-id"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// OutboxEnvelope — формат события заказа в topic.
type OutboxEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurred_at"`
	PublishedAt   time.Time       `json:"published_at"`
}

// StockCommand — внешняя команда корректировки остатка (приёмка, списание).
type StockCommand struct {
	ProductID int64  `json:"product_id"`
	Delta     int    `json:"delta"`
	Reason    string `json:"reason,omitempty"`
}

// DeadLetter описывает сообщение, отправленное в DLQ.
type DeadLetter struct {
	OriginalTopic     string          `json:"original_topic"`
	OriginalPartition int32           `json:"original_partition"`
	OriginalOffset    int64           `json:"original_offset"`
	OriginalKey       string          `json:"original_key,omitempty"`
	OriginalValue     json.RawMessage `json:"original_value,omitempty"`
	ErrorMessage      string          `json:"error_message"`
	Attempts          int             `json:"attempts"`
	FailedAt          time.Time       `json:"failed_at"`
}

// ParseStockCommand разбирает команду и проверяет поля.
func ParseStockCommand(value []byte) (StockCommand, error) {
	var cmd StockCommand
	if err := json.Unmarshal(value, &cmd); err != nil {
		return StockCommand{}, fmt.Errorf("failed to unmarshal stock command: %w", err)
	}
	if cmd.ProductID <= 0 {
		return StockCommand{}, fmt.Errorf("stock command product_id must be positive, got %d", cmd.ProductID)
	}
	if cmd.Delta == 0 {
		return StockCommand{}, fmt.Errorf("stock command for product %d has zero delta", cmd.ProductID)
	}
	return cmd, nil
}
