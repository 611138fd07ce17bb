package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()

	var metric dto.Metric
	if err := vec.WithLabelValues(labels...).Write(&metric); err != nil {
		t.Fatalf("failed to read metric: %v", err)
	}
	return metric.GetCounter().GetValue()
}

func TestTxMetrics_RecordAttemptCountsRetries(t *testing.T) {
	m := NewTxMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordAttempt("orders.create", 1)
	m.RecordAttempt("orders.create", 2)
	m.RecordAttempt("orders.create", 3)

	if got := counterValue(t, m.attempts, "orders.create"); got != 3 {
		t.Fatalf("expected 3 attempts, got %v", got)
	}
	if got := counterValue(t, m.retries, "orders.create"); got != 2 {
		t.Fatalf("expected 2 retries, got %v", got)
	}
}

func TestTxMetrics_RecordFinished(t *testing.T) {
	m := NewTxMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordStarted()
	m.RecordFinished("orders.delete", TxResultCommitted, 10*time.Millisecond)

	if got := counterValue(t, m.results, "orders.delete", TxResultCommitted); got != 1 {
		t.Fatalf("expected 1 committed result, got %v", got)
	}

	var metric dto.Metric
	if err := m.inFlight.Write(&metric); err != nil {
		t.Fatalf("failed to read gauge: %v", err)
	}
	if metric.GetGauge().GetValue() != 0 {
		t.Fatalf("expected in-flight gauge to return to 0, got %v", metric.GetGauge().GetValue())
	}
}

func TestTxMetrics_ReRegistrationReusesCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := NewTxMetricsWithRegisterer(registry)
	second := NewTxMetricsWithRegisterer(registry)

	first.RecordAttempt("op", 1)
	if got := counterValue(t, second.attempts, "op"); got != 1 {
		t.Fatalf("expected shared collector, got %v", got)
	}
}

func TestStockMetrics(t *testing.T) {
	m := NewStockMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordApplied(4, 5)
	m.RecordRejected(StockRejectInsufficient)

	if got := counterValue(t, m.units, "out"); got != 5 {
		t.Fatalf("expected 5 units out, got %v", got)
	}
	if got := counterValue(t, m.units, "in"); got != 4 {
		t.Fatalf("expected 4 units in, got %v", got)
	}
	if got := counterValue(t, m.rejections, StockRejectInsufficient); got != 1 {
		t.Fatalf("expected 1 rejection, got %v", got)
	}
}

func TestNilMetricsAreNoop(t *testing.T) {
	var tx *TxMetrics
	var stock *StockMetrics

	tx.RecordStarted()
	tx.RecordAttempt("op", 2)
	tx.RecordFinished("op", TxResultFailed, time.Second)
	stock.RecordApplied(1, 0)
	stock.RecordRejected(StockRejectNotFound)
}

func TestIdempotencyMetrics_Cleanup(t *testing.T) {
	m := NewIdempotencyMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordDeleted(3)
	m.RecordDeleted(0)
	m.RecordCleanup(3, nil)
	m.RecordCleanup(0, errors.New("boom"))
	m.RecordRequest(IdempotencyReplayed)

	if got := counterValue(t, m.deleted); got != 3 {
		t.Fatalf("expected 3 deleted records, got %v", got)
	}
	if got := counterValue(t, m.cleanupRuns, "ok"); got != 1 {
		t.Fatalf("expected 1 successful run, got %v", got)
	}
	if got := counterValue(t, m.cleanupRuns, "error"); got != 1 {
		t.Fatalf("expected 1 failed run, got %v", got)
	}
	if got := counterValue(t, m.requests, IdempotencyReplayed); got != 1 {
		t.Fatalf("expected 1 replayed request, got %v", got)
	}

	var nilMetrics *IdempotencyMetrics
	nilMetrics.RecordCleanup(1, nil)
	nilMetrics.RecordRequest(IdempotencyFresh)
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()

	var metric dto.Metric
	if err := g.Write(&metric); err != nil {
		t.Fatalf("failed to read gauge: %v", err)
	}
	return metric.GetGauge().GetValue()
}

func TestOutboxMetrics_Backlog(t *testing.T) {
	m := NewOutboxMetricsWithRegisterer(prometheus.NewRegistry())
	now := time.Now()

	m.RecordAttempt(OutboxSent)
	m.SetBacklog(4, now.Add(-10*time.Second), now)

	if got := counterValue(t, m.attempts, OutboxSent); got != 1 {
		t.Fatalf("expected 1 sent attempt, got %v", got)
	}
	if got := gaugeValue(t, m.pending); got != 4 {
		t.Fatalf("expected pending 4, got %v", got)
	}
	if got := gaugeValue(t, m.oldestAge); got != 10 {
		t.Fatalf("expected oldest age 10s, got %v", got)
	}

	m.SetBacklog(0, time.Time{}, now)
	if got := gaugeValue(t, m.oldestAge); got != 0 {
		t.Fatalf("expected zero age for empty backlog, got %v", got)
	}
}

func TestConsumerMetrics_RecordMessage(t *testing.T) {
	m := NewConsumerMetricsWithRegisterer(prometheus.NewRegistry())
	m.RecordMessage("stock", ConsumerProcessed)
	m.RecordMessage("stock", ConsumerProcessed)

	if got := counterValue(t, m.messages, "stock", ConsumerProcessed); got != 2 {
		t.Fatalf("expected 2 processed messages, got %v", got)
	}

	var nilMetrics *ConsumerMetrics
	nilMetrics.RecordMessage("stock", ConsumerFailed)
}
