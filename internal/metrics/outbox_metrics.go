package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты публикации outbox-сообщений.
const (
	OutboxSent       = "sent"
	OutboxRetryError = "retry_error"
	OutboxFailed     = "failed"
	OutboxDLQFailed  = "dlq_failed"
)

// OutboxMetrics содержит метрики transactional outbox.
type OutboxMetrics struct {
	attempts  *prometheus.CounterVec
	pending   prometheus.Gauge
	oldestAge prometheus.Gauge
}

// NewOutboxMetrics регистрирует метрики в DefaultRegisterer.
func NewOutboxMetrics() *OutboxMetrics {
	return NewOutboxMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOutboxMetricsWithRegisterer регистрирует метрики в переданном registry.
func NewOutboxMetricsWithRegisterer(registerer prometheus.Registerer) *OutboxMetrics {
	return &OutboxMetrics{
		attempts: counterVec(registerer, prometheus.CounterOpts{
			Name: "oms_outbox_publish_attempts_total",
			Help: "Total number of outbox publish attempts grouped by result.",
		}, "result"),
		pending: gauge(registerer, prometheus.GaugeOpts{
			Name: "oms_outbox_pending_records",
			Help: "Current number of pending records in transactional outbox.",
		}),
		oldestAge: gauge(registerer, prometheus.GaugeOpts{
			Name: "oms_outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending outbox record.",
		}),
	}
}

// RecordAttempt учитывает попытку публикации.
func (m *OutboxMetrics) RecordAttempt(result string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(result).Inc()
}

// SetBacklog обновляет размер и возраст backlog.
func (m *OutboxMetrics) SetBacklog(pending int, oldest time.Time, now time.Time) {
	if m == nil {
		return
	}
	m.pending.Set(float64(pending))
	if pending == 0 || oldest.IsZero() {
		m.oldestAge.Set(0)
		return
	}
	m.oldestAge.Set(max(now.Sub(oldest).Seconds(), 0))
}

// ConsumerMetrics содержит метрики обработки входящих Kafka-сообщений.
type ConsumerMetrics struct {
	messages *prometheus.CounterVec
}

// Результаты обработки входящих сообщений.
const (
	ConsumerProcessed = "processed"
	ConsumerRetried   = "retried"
	ConsumerDLQ       = "dlq"
	ConsumerFailed    = "failed"
)

// NewConsumerMetricsWithRegisterer регистрирует метрики в переданном registry.
func NewConsumerMetricsWithRegisterer(registerer prometheus.Registerer) *ConsumerMetrics {
	return &ConsumerMetrics{
		messages: counterVec(registerer, prometheus.CounterOpts{
			Name: "oms_consumer_messages_total",
			Help: "Total number of consumed messages grouped by topic and result.",
		}, "topic", "result"),
	}
}

// RecordMessage учитывает результат обработки сообщения.
func (m *ConsumerMetrics) RecordMessage(topic, result string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(topic, result).Inc()
}
