package orders_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/stockorders/internal/domain"
	"github.com/vladislavdragonenkov/stockorders/internal/metrics"
	"github.com/vladislavdragonenkov/stockorders/internal/service/orders"
	"github.com/vladislavdragonenkov/stockorders/internal/service/stock"
	"github.com/vladislavdragonenkov/stockorders/internal/service/txrunner"
	"github.com/vladislavdragonenkov/stockorders/internal/storage/memory"
)

var errInjectedFault = errors.New("injected store fault")

// faultyStore подмешивает временные сбои в транзакции memory.Store.
type faultyStore struct {
	inner *memory.Store

	mu             sync.Mutex
	commitFailures int
	commits        int
	stockWrites    int
}

func (s *faultyStore) BeginTx(ctx context.Context) (domain.Tx, error) {
	tx, err := s.inner.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	return &faultyTx{Tx: tx, store: s}, nil
}

func (s *faultyStore) failNextCommits(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitFailures = n
}

func (s *faultyStore) committed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

func (s *faultyStore) stockWriteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stockWrites
}

type faultyTx struct {
	domain.Tx
	store *faultyStore
}

func (t *faultyTx) Products() domain.ProductRepository {
	return &countingProducts{ProductRepository: t.Tx.Products(), store: t.store}
}

// countingProducts считает batch-записи остатков.
type countingProducts struct {
	domain.ProductRepository
	store *faultyStore
}

func (p *countingProducts) WriteStock(ctx context.Context, levels map[int64]int) error {
	p.store.mu.Lock()
	p.store.stockWrites++
	p.store.mu.Unlock()
	return p.ProductRepository.WriteStock(ctx, levels)
}

// Commit при запланированном сбое отбрасывает изменения, как это делает
// PostgreSQL при serialization failure.
func (t *faultyTx) Commit() error {
	t.store.mu.Lock()
	fail := t.store.commitFailures > 0
	if fail {
		t.store.commitFailures--
	} else {
		t.store.commits++
	}
	t.store.mu.Unlock()

	if fail {
		_ = t.Tx.Rollback()
		return domain.MarkTransient(errInjectedFault)
	}
	return t.Tx.Commit()
}

type testEnv struct {
	store   *faultyStore
	runner  *txrunner.Runner
	service *orders.Service
	outbox  domain.OutboxRepository

	customer domain.Customer
}

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("component", "orders-test")
}

func newTestEnv(t testing.TB) *testEnv {
	t.Helper()

	inner, err := memory.NewStore()
	require.NoError(t, err)

	store := &faultyStore{inner: inner}
	logger := quietLogger()
	runner := txrunner.New(store,
		txrunner.WithLogger(logger),
		txrunner.WithMetrics(metrics.NewTxMetricsWithRegisterer(prometheus.NewRegistry())),
		txrunner.WithRetryConfig(txrunner.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			MaxDelay:     2 * time.Millisecond,
		}),
	)
	applier := stock.NewApplier(logger, metrics.NewStockMetricsWithRegisterer(prometheus.NewRegistry()))

	env := &testEnv{
		store:   store,
		runner:  runner,
		service: orders.NewService(runner, applier, logger),
		outbox:  memory.NewOutboxRepository(inner),
	}
	env.customer = env.seedCustomer(t)
	return env
}

func (e *testEnv) seedCustomer(t testing.TB) domain.Customer {
	t.Helper()

	customer, err := txrunner.Do(context.Background(), e.runner, "seed_customer",
		func(ctx context.Context, repos domain.Repositories) (domain.Customer, error) {
			return repos.Customers().Insert(ctx, domain.Customer{Name: "Test Customer", Email: "test@example.com"})
		})
	require.NoError(t, err)
	return customer
}

func (e *testEnv) seedProduct(t testing.TB, name string, stockQty int) domain.Product {
	t.Helper()

	product, err := txrunner.Do(context.Background(), e.runner, "seed_product",
		func(ctx context.Context, repos domain.Repositories) (domain.Product, error) {
			return repos.Products().Insert(ctx, domain.Product{Name: name, PriceMinor: 100, StockQuantity: stockQty})
		})
	require.NoError(t, err)
	return product
}

func (e *testEnv) stockOf(t testing.TB, productID int64) int {
	t.Helper()

	product, err := txrunner.Do(context.Background(), e.runner, "read_stock",
		func(ctx context.Context, repos domain.Repositories) (domain.Product, error) {
			return repos.Products().Get(ctx, productID)
		})
	require.NoError(t, err)
	return product.StockQuantity
}

func item(productID int64, qty int) domain.OrderItem {
	return domain.OrderItem{ProductID: productID, Quantity: qty, UnitPriceMinor: 250}
}
