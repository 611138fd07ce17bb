package stock

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockorders/internal/domain"
	"github.com/vladislavdragonenkov/stockorders/internal/metrics"
)

// Applier применяет StockDelta внутри текущей транзакции.
type Applier struct {
	logger  *log.Entry
	metrics *metrics.StockMetrics
}

// NewApplier создаёт Applier. Оба аргумента опциональны.
func NewApplier(logger *log.Entry, m *metrics.StockMetrics) *Applier {
	if logger == nil {
		logger = log.WithField("component", "stock-applier")
	}
	return &Applier{logger: logger, metrics: m}
}

// Apply блокирует строки всех затронутых товаров одним запросом, проверяет, что ни один
// остаток не уйдёт в минус, и записывает новые значения одним batch-запросом.
// При любой ошибке ничего не записывается. Товары проверяются по возрастанию ID,
// поэтому в ошибке всегда первый по порядку нарушитель.
func (a *Applier) Apply(ctx context.Context, products domain.ProductRepository, delta domain.StockDelta) ([]domain.StockChange, error) {
	if delta.IsZero() {
		return nil, nil
	}
	ids := delta.ProductIDs()

	current, err := products.LockStock(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("lock stock: %w", err)
	}

	changes := make([]domain.StockChange, 0, len(ids))
	levels := make(map[int64]int, len(ids))
	for _, id := range ids {
		available, ok := current[id]
		if !ok {
			a.metrics.RecordRejected(metrics.StockRejectNotFound)
			return nil, &domain.ProductNotFoundError{ProductID: id}
		}

		next := available + delta[id]
		if next < 0 {
			a.metrics.RecordRejected(metrics.StockRejectInsufficient)
			a.logger.WithFields(log.Fields{
				"product_id": id,
				"available":  available,
				"requested":  -delta[id],
			}).Debug("insufficient stock")
			return nil, &domain.InsufficientStockError{
				ProductID: id,
				Available: available,
				Requested: -delta[id],
			}
		}

		levels[id] = next
		changes = append(changes, domain.StockChange{ProductID: id, Before: available, After: next})
	}

	if err := products.WriteStock(ctx, levels); err != nil {
		return nil, fmt.Errorf("write stock: %w", err)
	}

	var in, out int
	for _, change := range changes {
		if d := change.Delta(); d > 0 {
			in += d
		} else {
			out -= d
		}
	}
	a.metrics.RecordApplied(in, out)
	return changes, nil
}
