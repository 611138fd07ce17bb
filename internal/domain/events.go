package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// AggregateTypeOrder — тип агрегата для событий заказа.
const AggregateTypeOrder = "order"

// Типы событий жизненного цикла заказа.
const (
	EventOrderCreated = "order.created"
	EventOrderUpdated = "order.updated"
	EventOrderDeleted = "order.deleted"
)

// OrderEvent — полезная нагрузка события заказа в outbox.
type OrderEvent struct {
	OrderID      int64         `json:"order_id"`
	CustomerID   int64         `json:"customer_id"`
	Status       string        `json:"status"`
	TotalMinor   int64         `json:"total_minor"`
	Version      int64         `json:"version"`
	Items        []EventItem   `json:"items,omitempty"`
	StockChanges []StockChange `json:"stock_changes,omitempty"`
	OccurredAt   time.Time     `json:"occurred_at"`
}

// EventItem — позиция заказа в событии.
type EventItem struct {
	ProductID      int64 `json:"product_id"`
	Quantity       int   `json:"quantity"`
	UnitPriceMinor int64 `json:"unit_price_minor"`
}

// NewOrderEventMessage собирает outbox-сообщение по заказу и применённым изменениям остатков.
func NewOrderEventMessage(eventType string, order Order, changes []StockChange, at time.Time) (OutboxMessage, error) {
	event := OrderEvent{
		OrderID:      order.ID,
		CustomerID:   order.CustomerID,
		Status:       order.Status,
		TotalMinor:   order.TotalMinor,
		Version:      order.Version,
		StockChanges: changes,
		OccurredAt:   at.UTC(),
	}
	for _, item := range order.Items {
		event.Items = append(event.Items, EventItem{
			ProductID:      item.ProductID,
			Quantity:       item.Quantity,
			UnitPriceMinor: item.UnitPriceMinor,
		})
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	return OutboxMessage{
		AggregateType: AggregateTypeOrder,
		AggregateID:   strconv.FormatInt(order.ID, 10),
		EventType:     eventType,
		Payload:       payload,
		CreatedAt:     at.UTC(),
	}, nil
}

// OutboxDeadLetter — содержимое DLQ-письма о событии, которое outbox так и не опубликовал.
type OutboxDeadLetter struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	DLQPublishedAt time.Time       `json:"dlq_published_at"`
}

// IsOrderEventType сообщает, что тип относится к событиям жизненного цикла заказа.
func IsOrderEventType(eventType string) bool {
	switch eventType {
	case EventOrderCreated, EventOrderUpdated, EventOrderDeleted:
		return true
	default:
		return false
	}
}
