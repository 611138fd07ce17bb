package metrics

import "github.com/prometheus/client_golang/prometheus"

// Причины отказа в применении изменений остатков.
const (
	StockRejectInsufficient = "insufficient_stock"
	StockRejectNotFound     = "product_not_found"
)

// StockMetrics содержит метрики Stock Applier.
type StockMetrics struct {
	rejections *prometheus.CounterVec
	units      *prometheus.CounterVec
}

// NewStockMetrics регистрирует метрики в DefaultRegisterer.
func NewStockMetrics() *StockMetrics {
	return NewStockMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewStockMetricsWithRegisterer регистрирует метрики в переданном registry.
func NewStockMetricsWithRegisterer(registerer prometheus.Registerer) *StockMetrics {
	return &StockMetrics{
		rejections: counterVec(registerer, prometheus.CounterOpts{
			Name: "oms_stock_rejections_total",
			Help: "Total number of rejected stock applications grouped by reason.",
		}, "reason"),
		units: counterVec(registerer, prometheus.CounterOpts{
			Name: "oms_stock_units_total",
			Help: "Total number of stock units moved grouped by direction.",
		}, "direction"),
	}
}

// RecordRejected учитывает отказ.
func (m *StockMetrics) RecordRejected(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}

// RecordApplied учитывает записанные единицы отдельно по направлению.
// Считается до commit: откаченные транзакции тоже попадают в счётчик.
func (m *StockMetrics) RecordApplied(in, out int) {
	if m == nil {
		return
	}
	if in > 0 {
		m.units.WithLabelValues("in").Add(float64(in))
	}
	if out > 0 {
		m.units.WithLabelValues("out").Add(float64(out))
	}
}
