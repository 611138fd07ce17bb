package stock

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/stockorders/internal/domain"
	"github.com/vladislavdragonenkov/stockorders/internal/metrics"
)

type stubProducts struct {
	domain.ProductRepository

	stock     map[int64]int
	lockCalls [][]int64
	writes    []map[int64]int
	lockErr   error
}

func (s *stubProducts) LockStock(_ context.Context, ids []int64) (map[int64]int, error) {
	s.lockCalls = append(s.lockCalls, append([]int64(nil), ids...))
	if s.lockErr != nil {
		return nil, s.lockErr
	}
	result := make(map[int64]int, len(ids))
	for _, id := range ids {
		if qty, ok := s.stock[id]; ok {
			result[id] = qty
		}
	}
	return result, nil
}

func (s *stubProducts) WriteStock(_ context.Context, levels map[int64]int) error {
	s.writes = append(s.writes, levels)
	for id, qty := range levels {
		s.stock[id] = qty
	}
	return nil
}

func newTestApplier() *Applier {
	return NewApplier(nil, metrics.NewStockMetricsWithRegisterer(prometheus.NewRegistry()))
}

func TestApply_WritesAllLevelsInOneBatch(t *testing.T) {
	products := &stubProducts{stock: map[int64]int{1: 10, 2: 5}}

	changes, err := newTestApplier().Apply(context.Background(), products, domain.StockDelta{1: -3, 2: -2})

	require.NoError(t, err)
	assert.Equal(t, []domain.StockChange{
		{ProductID: 1, Before: 10, After: 7},
		{ProductID: 2, Before: 5, After: 3},
	}, changes)
	require.Len(t, products.lockCalls, 1)
	assert.Equal(t, []int64{1, 2}, products.lockCalls[0])
	require.Len(t, products.writes, 1)
	assert.Equal(t, map[int64]int{1: 7, 2: 3}, products.stock)
}

func TestApply_InsufficientStockWritesNothing(t *testing.T) {
	products := &stubProducts{stock: map[int64]int{1: 10, 2: 5}}

	_, err := newTestApplier().Apply(context.Background(), products, domain.StockDelta{1: -3, 2: -100})

	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, int64(2), stockErr.ProductID)
	assert.Equal(t, 5, stockErr.Available)
	assert.Equal(t, 100, stockErr.Requested)
	assert.Equal(t, 95, stockErr.Shortfall())
	assert.Empty(t, products.writes)
	assert.Equal(t, map[int64]int{1: 10, 2: 5}, products.stock)
}

func TestApply_ReportsLowestOffendingProduct(t *testing.T) {
	products := &stubProducts{stock: map[int64]int{3: 0, 8: 0}}

	_, err := newTestApplier().Apply(context.Background(), products, domain.StockDelta{8: -1, 3: -1})

	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, int64(3), stockErr.ProductID)
}

func TestApply_UnknownProduct(t *testing.T) {
	products := &stubProducts{stock: map[int64]int{1: 10}}

	_, err := newTestApplier().Apply(context.Background(), products, domain.StockDelta{1: -1, 42: -1})

	require.ErrorIs(t, err, domain.ErrProductNotFound)
	var notFound *domain.ProductNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, int64(42), notFound.ProductID)
	assert.Empty(t, products.writes)
}

func TestApply_ExactStockReachesZero(t *testing.T) {
	products := &stubProducts{stock: map[int64]int{1: 3}}

	_, err := newTestApplier().Apply(context.Background(), products, domain.StockDelta{1: -3})

	require.NoError(t, err)
	assert.Equal(t, 0, products.stock[1])
}

func TestApply_EmptyDeltaTouchesNothing(t *testing.T) {
	products := &stubProducts{stock: map[int64]int{}}

	changes, err := newTestApplier().Apply(context.Background(), products, domain.StockDelta{1: 0})

	require.NoError(t, err)
	assert.Nil(t, changes)
	assert.Empty(t, products.lockCalls)
}

func TestApply_LockErrorIsWrapped(t *testing.T) {
	lockErr := domain.MarkTransient(errors.New("lock timeout"))
	products := &stubProducts{stock: map[int64]int{1: 1}, lockErr: lockErr}

	_, err := newTestApplier().Apply(context.Background(), products, domain.StockDelta{1: 1})

	require.ErrorIs(t, err, domain.ErrTransientStore)
	assert.Empty(t, products.writes)
}

func TestApply_RecordsUnitsByDirection(t *testing.T) {
	registry := prometheus.NewRegistry()
	applier := NewApplier(nil, metrics.NewStockMetricsWithRegisterer(registry))
	products := &stubProducts{stock: map[int64]int{1: 10, 2: 5, 3: 0}}

	_, err := applier.Apply(context.Background(), products, domain.StockDelta{1: -3, 2: -2, 3: 4})
	require.NoError(t, err)

	families, err := registry.Gather()
	require.NoError(t, err)
	units := map[string]float64{}
	for _, family := range families {
		if family.GetName() != "oms_stock_units_total" {
			continue
		}
		for _, m := range family.GetMetric() {
			units[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, map[string]float64{"in": 4, "out": 5}, units)
}
