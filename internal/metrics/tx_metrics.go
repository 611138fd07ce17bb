package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Итоги выполнения транзакции для label "result".
const (
	TxResultCommitted = "committed"
	TxResultBusiness  = "business_error"
	TxResultExhausted = "retries_exhausted"
	TxResultCanceled  = "canceled"
	TxResultFailed    = "failed"
)

// TxMetrics содержит метрики Transaction Runner.
type TxMetrics struct {
	attempts *prometheus.CounterVec
	retries  *prometheus.CounterVec
	results  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// NewTxMetrics регистрирует метрики в DefaultRegisterer.
func NewTxMetrics() *TxMetrics {
	return NewTxMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewTxMetricsWithRegisterer регистрирует метрики в переданном registry.
func NewTxMetricsWithRegisterer(registerer prometheus.Registerer) *TxMetrics {
	return &TxMetrics{
		attempts: counterVec(registerer, prometheus.CounterOpts{
			Name: "oms_tx_attempts_total",
			Help: "Total number of transaction attempts grouped by operation.",
		}, "operation"),
		retries: counterVec(registerer, prometheus.CounterOpts{
			Name: "oms_tx_retries_total",
			Help: "Total number of transaction retries after transient store faults.",
		}, "operation"),
		results: counterVec(registerer, prometheus.CounterOpts{
			Name: "oms_tx_results_total",
			Help: "Total number of finished transactions grouped by operation and result.",
		}, "operation", "result"),
		duration: histogramVec(registerer, prometheus.HistogramOpts{
			Name:    "oms_tx_duration_seconds",
			Help:    "Duration of transactional operations including retries.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, "operation"),
		inFlight: gauge(registerer, prometheus.GaugeOpts{
			Name: "oms_tx_in_flight",
			Help: "Number of transactional operations currently executing.",
		}),
	}
}

// RecordAttempt учитывает очередную попытку транзакции.
func (m *TxMetrics) RecordAttempt(operation string, attempt int) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(operation).Inc()
	if attempt > 1 {
		m.retries.WithLabelValues(operation).Inc()
	}
}

// RecordStarted отмечает начало операции.
func (m *TxMetrics) RecordStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// RecordFinished фиксирует итог и длительность операции.
func (m *TxMetrics) RecordFinished(operation, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.results.WithLabelValues(operation, result).Inc()
	m.duration.WithLabelValues(operation).Observe(duration.Seconds())
}
