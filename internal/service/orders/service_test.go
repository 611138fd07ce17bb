package orders_test

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/stockorders/internal/domain"
	"github.com/vladislavdragonenkov/stockorders/internal/service/orders"
	"github.com/vladislavdragonenkov/stockorders/internal/service/txrunner"
)

// OrderServiceSuite проверяет согласованность заказов и остатков на memory-хранилище.
type OrderServiceSuite struct {
	suite.Suite
	ctx context.Context
	env *testEnv
	p1  domain.Product
	p2  domain.Product
}

func TestOrderServiceSuite(t *testing.T) {
	suite.Run(t, new(OrderServiceSuite))
}

func (s *OrderServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.env = newTestEnv(s.T())
	s.p1 = s.env.seedProduct(s.T(), "p1", 10)
	s.p2 = s.env.seedProduct(s.T(), "p2", 5)
}

func (s *OrderServiceSuite) create(items ...domain.OrderItem) domain.Order {
	order, err := s.env.service.CreateOrder(s.ctx, orders.CreateOrderInput{
		CustomerID: s.env.customer.ID,
		Items:      items,
	})
	s.Require().NoError(err)
	return order
}

func (s *OrderServiceSuite) assertStock(p1, p2 int) {
	s.Equal(p1, s.env.stockOf(s.T(), s.p1.ID), "p1 stock")
	s.Equal(p2, s.env.stockOf(s.T(), s.p2.ID), "p2 stock")
}

func (s *OrderServiceSuite) TestCreateDecrementsStock() {
	order := s.create(item(s.p1.ID, 3), item(s.p2.ID, 2))

	s.assertStock(7, 3)
	s.NotZero(order.ID)
	s.Equal(domain.DefaultOrderStatus, order.Status)
	s.Equal(int64(5*250), order.TotalMinor)
	s.Equal(int64(1), order.Version)
	s.Len(order.Items, 2)
}

func (s *OrderServiceSuite) TestCreateEnqueuesEventWithStockChanges() {
	order := s.create(item(s.p1.ID, 3))

	pending, err := s.env.outbox.PullPending(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(domain.EventOrderCreated, pending[0].EventType)

	var event domain.OrderEvent
	s.Require().NoError(json.Unmarshal(pending[0].Payload, &event))
	s.Equal(order.ID, event.OrderID)
	s.Equal([]domain.StockChange{{ProductID: s.p1.ID, Before: 10, After: 7}}, event.StockChanges)
}

func (s *OrderServiceSuite) TestCreateIsAtomicOnInsufficientStock() {
	_, err := s.env.service.CreateOrder(s.ctx, orders.CreateOrderInput{
		CustomerID: s.env.customer.ID,
		Items:      []domain.OrderItem{item(s.p1.ID, 3), item(s.p2.ID, 100)},
	})

	var stockErr *domain.InsufficientStockError
	s.Require().ErrorAs(err, &stockErr)
	s.ErrorIs(err, domain.ErrInsufficientStock)
	s.Equal(s.p2.ID, stockErr.ProductID)
	s.Equal(95, stockErr.Shortfall())
	s.assertStock(10, 5)

	list, err := s.env.service.ListOrders(s.ctx, domain.OrderFilter{})
	s.Require().NoError(err)
	s.Empty(list)

	pending, err := s.env.outbox.PullPending(s.ctx, 10)
	s.Require().NoError(err)
	s.Empty(pending)
}

func (s *OrderServiceSuite) TestCreateRejectsUnknownProductAndCustomer() {
	_, err := s.env.service.CreateOrder(s.ctx, orders.CreateOrderInput{
		CustomerID: s.env.customer.ID,
		Items:      []domain.OrderItem{item(s.p1.ID, 1), item(9999, 1)},
	})
	var notFound *domain.ProductNotFoundError
	s.Require().ErrorAs(err, &notFound)
	s.Equal(int64(9999), notFound.ProductID)
	s.True(domain.IsNotFound(err))

	_, err = s.env.service.CreateOrder(s.ctx, orders.CreateOrderInput{
		CustomerID: 4242,
		Items:      []domain.OrderItem{item(s.p1.ID, 1)},
	})
	s.ErrorIs(err, domain.ErrCustomerNotFound)
	s.assertStock(10, 5)
}

func (s *OrderServiceSuite) TestCreateValidatesInput() {
	tests := map[string]struct {
		in   orders.CreateOrderInput
		want error
	}{
		"no items": {
			in:   orders.CreateOrderInput{CustomerID: s.env.customer.ID},
			want: domain.ErrItemsRequired,
		},
		"zero quantity": {
			in:   orders.CreateOrderInput{CustomerID: s.env.customer.ID, Items: []domain.OrderItem{item(s.p1.ID, 0)}},
			want: domain.ErrItemQtyInvalid,
		},
		"negative price": {
			in: orders.CreateOrderInput{CustomerID: s.env.customer.ID, Items: []domain.OrderItem{
				{ProductID: s.p1.ID, Quantity: 1, UnitPriceMinor: -1},
			}},
			want: domain.ErrItemPriceInvalid,
		},
		"no customer": {
			in:   orders.CreateOrderInput{Items: []domain.OrderItem{item(s.p1.ID, 1)}},
			want: domain.ErrCustomerRequired,
		},
	}

	for name, tt := range tests {
		s.Run(name, func() {
			_, err := s.env.service.CreateOrder(s.ctx, tt.in)
			s.ErrorIs(err, domain.ErrValidation)
			s.ErrorIs(err, tt.want)
		})
	}
	s.assertStock(10, 5)
}

func (s *OrderServiceSuite) TestUpdateAppliesNetDelta() {
	order := s.create(item(s.p1.ID, 3))
	s.assertStock(7, 5)

	// p2 стартует с 3, как в сценарии обновления.
	_, err := txrunner.Do(s.ctx, s.env.runner, "prepare", func(ctx context.Context, repos domain.Repositories) (struct{}, error) {
		return struct{}{}, repos.Products().WriteStock(ctx, map[int64]int{s.p2.ID: 3})
	})
	s.Require().NoError(err)

	updated, err := s.env.service.UpdateOrder(s.ctx, order.ID, orders.UpdateOrderInput{
		Items:  []domain.OrderItem{item(s.p1.ID, 5), item(s.p2.ID, 1)},
		Status: "Confirmed",
	})
	s.Require().NoError(err)

	s.assertStock(5, 2)
	s.Equal("Confirmed", updated.Status)
	s.Equal(int64(2), updated.Version)
	s.Equal(int64(6*250), updated.TotalMinor)
	s.Len(updated.Items, 2)
}

func (s *OrderServiceSuite) TestUpdateStatusOnlyKeepsStock() {
	order := s.create(item(s.p1.ID, 3))

	updated, err := s.env.service.UpdateOrder(s.ctx, order.ID, orders.UpdateOrderInput{Status: "Shipped"})
	s.Require().NoError(err)

	s.Equal("Shipped", updated.Status)
	s.Equal(order.Items[0].Quantity, updated.Items[0].Quantity)
	s.Equal(order.TotalMinor, updated.TotalMinor)
	s.assertStock(7, 5)
}

func (s *OrderServiceSuite) TestUpdateWithSameTotalsKeepsStock() {
	order := s.create(item(s.p1.ID, 2), item(s.p1.ID, 1))
	s.assertStock(7, 5)
	writes := s.env.store.stockWriteCount()

	updated, err := s.env.service.UpdateOrder(s.ctx, order.ID, orders.UpdateOrderInput{
		Items: []domain.OrderItem{item(s.p1.ID, 3)},
	})
	s.Require().NoError(err)

	s.assertStock(7, 5)
	s.Equal(writes, s.env.store.stockWriteCount(), "regrouped lines must not write stock")
	s.Len(updated.Items, 1)
	s.Equal(3, updated.Items[0].Quantity)

	pending, err := s.env.outbox.PullPending(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 2)
	var event domain.OrderEvent
	s.Require().NoError(json.Unmarshal(pending[1].Payload, &event))
	s.Equal(domain.EventOrderUpdated, pending[1].EventType)
	s.Empty(event.StockChanges)
}

func (s *OrderServiceSuite) TestUpdateInsufficientStockLeavesOrderIntact() {
	order := s.create(item(s.p1.ID, 3))

	_, err := s.env.service.UpdateOrder(s.ctx, order.ID, orders.UpdateOrderInput{
		Items: []domain.OrderItem{item(s.p1.ID, 11)},
	})
	s.ErrorIs(err, domain.ErrInsufficientStock)

	got, err := s.env.service.GetOrder(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(3, got.Items[0].Quantity)
	s.Equal(int64(1), got.Version)
	s.assertStock(7, 5)
}

func (s *OrderServiceSuite) TestUpdateMissingOrderIsTerminal() {
	_, err := s.env.service.UpdateOrder(s.ctx, 777, orders.UpdateOrderInput{
		Items: []domain.OrderItem{item(s.p1.ID, 1)},
	})
	s.ErrorIs(err, domain.ErrOrderNotFound)

	var exhausted *txrunner.ExhaustedError
	s.False(errors.As(err, &exhausted))
}

func (s *OrderServiceSuite) TestDeleteRestoresStock() {
	order := s.create(item(s.p1.ID, 5), item(s.p2.ID, 1))
	s.assertStock(5, 4)

	s.Require().NoError(s.env.service.DeleteOrder(s.ctx, order.ID))
	s.assertStock(10, 5)

	_, err := s.env.service.GetOrder(s.ctx, order.ID)
	s.ErrorIs(err, domain.ErrOrderNotFound)
}

func (s *OrderServiceSuite) TestDeleteIsIdempotent() {
	order := s.create(item(s.p1.ID, 2))

	s.Require().NoError(s.env.service.DeleteOrder(s.ctx, order.ID))
	s.Require().NoError(s.env.service.DeleteOrder(s.ctx, order.ID))
	s.Require().NoError(s.env.service.DeleteOrder(s.ctx, 123456))
	s.assertStock(10, 5)

	pending, err := s.env.outbox.PullPending(s.ctx, 10)
	s.Require().NoError(err)
	s.Len(pending, 2, "one created and one deleted event")
}

func (s *OrderServiceSuite) TestRetryAppliesDeltaOnce() {
	s.env.store.failNextCommits(1)

	order := s.create(item(s.p1.ID, 3), item(s.p2.ID, 2))

	s.assertStock(7, 3)
	s.NotZero(order.ID)

	list, err := s.env.service.ListOrders(s.ctx, domain.OrderFilter{})
	s.Require().NoError(err)
	s.Len(list, 1)
}

func (s *OrderServiceSuite) TestRetryExhaustionLeavesNoTrace() {
	s.env.store.failNextCommits(3)

	_, err := s.env.service.CreateOrder(s.ctx, orders.CreateOrderInput{
		CustomerID: s.env.customer.ID,
		Items:      []domain.OrderItem{item(s.p1.ID, 1)},
	})

	var exhausted *txrunner.ExhaustedError
	s.Require().ErrorAs(err, &exhausted)
	s.Equal(3, exhausted.Attempts)
	s.True(domain.IsTransient(err))
	s.assertStock(10, 5)
}

func (s *OrderServiceSuite) TestListOrdersFilters() {
	first := s.create(item(s.p1.ID, 1))
	second := s.create(item(s.p1.ID, 1))
	_, err := s.env.service.UpdateOrder(s.ctx, second.ID, orders.UpdateOrderInput{Status: "Shipped"})
	s.Require().NoError(err)

	shipped, err := s.env.service.ListOrders(s.ctx, domain.OrderFilter{Status: "Shipped"})
	s.Require().NoError(err)
	s.Require().Len(shipped, 1)
	s.Equal(second.ID, shipped[0].ID)

	byCustomer, err := s.env.service.ListOrders(s.ctx, domain.OrderFilter{CustomerID: s.env.customer.ID, Limit: 1})
	s.Require().NoError(err)
	s.Len(byCustomer, 1)

	all, err := s.env.service.ListOrders(s.ctx, domain.OrderFilter{})
	s.Require().NoError(err)
	s.ElementsMatch([]int64{first.ID, second.ID}, []int64{all[0].ID, all[1].ID})
}

// TestStockNeverNegative прогоняет случайные последовательности операций
// из нескольких горутин и сверяет остатки с суммой позиций живых заказов.
func TestStockNeverNegative(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	const initial = 20
	products := []domain.Product{
		env.seedProduct(t, "a", initial),
		env.seedProduct(t, "b", initial),
		env.seedProduct(t, "c", initial),
	}

	var wg sync.WaitGroup
	for worker := 0; worker < 4; worker++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			randomItems := func() []domain.OrderItem {
				n := 1 + rng.Intn(len(products))
				items := make([]domain.OrderItem, 0, n)
				for _, idx := range rng.Perm(len(products))[:n] {
					items = append(items, item(products[idx].ID, 1+rng.Intn(6)))
				}
				return items
			}

			var mine []int64
			for step := 0; step < 40; step++ {
				switch op := rng.Intn(3); {
				case op == 0 || len(mine) == 0:
					order, err := env.service.CreateOrder(ctx, orders.CreateOrderInput{CustomerID: env.customer.ID, Items: randomItems()})
					if err == nil {
						mine = append(mine, order.ID)
					} else if !errors.Is(err, domain.ErrInsufficientStock) {
						t.Errorf("create: %v", err)
					}
				case op == 1:
					id := mine[rng.Intn(len(mine))]
					_, err := env.service.UpdateOrder(ctx, id, orders.UpdateOrderInput{Items: randomItems()})
					if err != nil && !errors.Is(err, domain.ErrInsufficientStock) {
						t.Errorf("update: %v", err)
					}
				default:
					idx := rng.Intn(len(mine))
					if err := env.service.DeleteOrder(ctx, mine[idx]); err != nil {
						t.Errorf("delete: %v", err)
					}
					mine = append(mine[:idx], mine[idx+1:]...)
				}
			}
		}(int64(worker + 1))
	}
	wg.Wait()

	held := make(map[int64]int)
	live, err := env.service.ListOrders(ctx, domain.OrderFilter{Limit: 1000})
	require.NoError(t, err)
	for _, order := range live {
		for _, it := range order.Items {
			held[it.ProductID] += it.Quantity
		}
	}

	for _, product := range products {
		qty := env.stockOf(t, product.ID)
		require.GreaterOrEqual(t, qty, 0, "product %d", product.ID)
		require.Equal(t, initial, qty+held[product.ID], "units of product %d must be conserved", product.ID)
	}
}
