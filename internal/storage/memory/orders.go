package memory

import (
	"cmp"
	"context"
	"slices"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/vladislavdragonenkov/stockorders/internal/domain"
)

type orderRepository struct {
	tx *tx
}

func (r orderRepository) Create(_ context.Context, order domain.Order) (domain.Order, error) {
	if err := r.checkCustomer(order.CustomerID); err != nil {
		return domain.Order{}, err
	}

	now := r.tx.store.now()
	order = order.Clone()
	order.ID = r.tx.store.orderSeq.Add(1)
	order.Version = 1
	order.CreatedAt = now
	order.UpdatedAt = now
	r.assignItemIDs(&order)

	if err := r.tx.txn.Insert(tableOrders, &order); err != nil {
		return domain.Order{}, err
	}
	return order.Clone(), nil
}

func (r orderRepository) Get(_ context.Context, id int64) (domain.Order, error) {
	stored, err := first[domain.Order](r.tx.txn, tableOrders, id)
	if err != nil {
		return domain.Order{}, err
	}
	if stored == nil {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return stored.Clone(), nil
}

// GetForUpdate совпадает с Get: записывающая транзакция уже единственная.
func (r orderRepository) GetForUpdate(ctx context.Context, id int64) (domain.Order, error) {
	return r.Get(ctx, id)
}

func (r orderRepository) Save(_ context.Context, order domain.Order) (domain.Order, error) {
	stored, err := first[domain.Order](r.tx.txn, tableOrders, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	if stored == nil {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if stored.Version != order.Version {
		return domain.Order{}, domain.ErrConcurrencyConflict
	}
	if err := r.checkCustomer(order.CustomerID); err != nil {
		return domain.Order{}, err
	}

	updated := order.Clone()
	updated.Version = stored.Version + 1
	updated.CreatedAt = stored.CreatedAt
	updated.UpdatedAt = r.tx.store.now()
	r.assignItemIDs(&updated)

	if err := r.tx.txn.Insert(tableOrders, &updated); err != nil {
		return domain.Order{}, err
	}
	return updated.Clone(), nil
}

func (r orderRepository) Delete(_ context.Context, id int64) error {
	stored, err := first[domain.Order](r.tx.txn, tableOrders, id)
	if err != nil {
		return err
	}
	if stored == nil {
		return domain.ErrOrderNotFound
	}
	return r.tx.txn.Delete(tableOrders, stored)
}

func (r orderRepository) List(_ context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	var (
		it  memdb.ResultIterator
		err error
	)
	switch {
	case filter.CustomerID > 0:
		it, err = r.tx.txn.Get(tableOrders, indexCustomer, filter.CustomerID)
	case filter.Status != "":
		it, err = r.tx.txn.Get(tableOrders, indexStatus, filter.Status)
	default:
		it, err = r.tx.txn.Get(tableOrders, indexID)
	}
	if err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0)
	for _, stored := range collect[domain.Order](it) {
		if filter.Status != "" && stored.Status != filter.Status {
			continue
		}
		orders = append(orders, stored.Clone())
	}

	slices.SortFunc(orders, func(a, b domain.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if filter.Limit > 0 && len(orders) > filter.Limit {
		orders = orders[:filter.Limit]
	}
	return orders, nil
}

func (r orderRepository) assignItemIDs(order *domain.Order) {
	for i := range order.Items {
		order.Items[i].ID = r.tx.store.itemSeq.Add(1)
		order.Items[i].OrderID = order.ID
	}
}

func (r orderRepository) checkCustomer(id int64) error {
	stored, err := first[domain.Customer](r.tx.txn, tableCustomers, id)
	if err != nil {
		return err
	}
	if stored == nil {
		return domain.ErrCustomerNotFound
	}
	return nil
}

var _ domain.OrderRepository = orderRepository{}
