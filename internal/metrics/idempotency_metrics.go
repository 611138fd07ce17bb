package metrics

import "github.com/prometheus/client_golang/prometheus"

// Исходы запроса с Idempotency-Key.
const (
	IdempotencyFresh    = "fresh"
	IdempotencyReplayed = "replayed"
	IdempotencyConflict = "conflict"
	IdempotencyInFlight = "in_flight"
)

// IdempotencyMetrics содержит метрики idempotency-ключей и их очистки.
type IdempotencyMetrics struct {
	requests    *prometheus.CounterVec
	cleanupRuns *prometheus.CounterVec
	deleted     *prometheus.CounterVec
	lastDeleted prometheus.Gauge
}

// NewIdempotencyMetrics регистрирует метрики в DefaultRegisterer.
func NewIdempotencyMetrics() *IdempotencyMetrics {
	return NewIdempotencyMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewIdempotencyMetricsWithRegisterer регистрирует метрики в переданном registry.
func NewIdempotencyMetricsWithRegisterer(registerer prometheus.Registerer) *IdempotencyMetrics {
	return &IdempotencyMetrics{
		requests: counterVec(registerer, prometheus.CounterOpts{
			Name: "oms_idempotency_requests_total",
			Help: "Total number of requests carrying an idempotency key grouped by outcome.",
		}, "outcome"),
		cleanupRuns: counterVec(registerer, prometheus.CounterOpts{
			Name: "oms_idempotency_cleanup_runs_total",
			Help: "Total number of idempotency cleanup runs grouped by result.",
		}, "result"),
		deleted: counterVec(registerer, prometheus.CounterOpts{
			Name: "oms_idempotency_cleanup_deleted_total",
			Help: "Total number of deleted expired idempotency records.",
		}),
		lastDeleted: gauge(registerer, prometheus.GaugeOpts{
			Name: "oms_idempotency_cleanup_last_deleted",
			Help: "Number of deleted records during the last cleanup run.",
		}),
	}
}

// RecordRequest учитывает исход запроса с ключом.
func (m *IdempotencyMetrics) RecordRequest(outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
}

// RecordCleanup учитывает прогон очистки.
func (m *IdempotencyMetrics) RecordCleanup(deleted int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.cleanupRuns.WithLabelValues("error").Inc()
		return
	}
	m.cleanupRuns.WithLabelValues("ok").Inc()
	m.lastDeleted.Set(float64(deleted))
}

// RecordDeleted учитывает удалённые записи одного batch.
func (m *IdempotencyMetrics) RecordDeleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.deleted.WithLabelValues().Add(float64(n))
}
