package memory

import (
	"cmp"
	"context"
	"slices"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/vladislavdragonenkov/stockorders/internal/domain"
)

type categoryRepository struct {
	tx *tx
}

func (r categoryRepository) Insert(_ context.Context, category domain.Category) (domain.Category, error) {
	now := r.tx.store.now()
	category.ID = r.tx.store.categorySeq.Add(1)
	category.CreatedAt = now
	category.UpdatedAt = now
	if err := r.tx.txn.Insert(tableCategories, &category); err != nil {
		return domain.Category{}, err
	}
	return category, nil
}

func (r categoryRepository) Get(_ context.Context, id int64) (domain.Category, error) {
	stored, err := first[domain.Category](r.tx.txn, tableCategories, id)
	if err != nil {
		return domain.Category{}, err
	}
	if stored == nil {
		return domain.Category{}, domain.ErrCategoryNotFound
	}
	return *stored, nil
}

func (r categoryRepository) Update(_ context.Context, category domain.Category) (domain.Category, error) {
	stored, err := first[domain.Category](r.tx.txn, tableCategories, category.ID)
	if err != nil {
		return domain.Category{}, err
	}
	if stored == nil {
		return domain.Category{}, domain.ErrCategoryNotFound
	}
	category.CreatedAt = stored.CreatedAt
	category.UpdatedAt = r.tx.store.now()
	if err := r.tx.txn.Insert(tableCategories, &category); err != nil {
		return domain.Category{}, err
	}
	return category, nil
}

// Delete удаляет категорию и отвязывает от неё товары.
func (r categoryRepository) Delete(_ context.Context, id int64) error {
	stored, err := first[domain.Category](r.tx.txn, tableCategories, id)
	if err != nil {
		return err
	}
	if stored == nil {
		return domain.ErrCategoryNotFound
	}

	it, err := r.tx.txn.Get(tableProducts, indexID)
	if err != nil {
		return err
	}
	for _, product := range collect[domain.Product](it) {
		if !product.InCategory(id) {
			continue
		}
		updated := product.Clone()
		updated.CategoryIDs = slices.DeleteFunc(updated.CategoryIDs, func(c int64) bool { return c == id })
		if err := r.tx.txn.Insert(tableProducts, &updated); err != nil {
			return err
		}
	}

	return r.tx.txn.Delete(tableCategories, stored)
}

func (r categoryRepository) List(context.Context) ([]domain.Category, error) {
	it, err := r.tx.txn.Get(tableCategories, indexID)
	if err != nil {
		return nil, err
	}
	return sortedValues(it, func(c domain.Category) int64 { return c.ID }), nil
}

type customerRepository struct {
	tx *tx
}

func (r customerRepository) Insert(_ context.Context, customer domain.Customer) (domain.Customer, error) {
	now := r.tx.store.now()
	customer.ID = r.tx.store.customerSeq.Add(1)
	customer.CreatedAt = now
	customer.UpdatedAt = now
	if err := r.tx.txn.Insert(tableCustomers, &customer); err != nil {
		return domain.Customer{}, err
	}
	return customer, nil
}

func (r customerRepository) Get(_ context.Context, id int64) (domain.Customer, error) {
	stored, err := first[domain.Customer](r.tx.txn, tableCustomers, id)
	if err != nil {
		return domain.Customer{}, err
	}
	if stored == nil {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return *stored, nil
}

func (r customerRepository) Update(_ context.Context, customer domain.Customer) (domain.Customer, error) {
	stored, err := first[domain.Customer](r.tx.txn, tableCustomers, customer.ID)
	if err != nil {
		return domain.Customer{}, err
	}
	if stored == nil {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	customer.CreatedAt = stored.CreatedAt
	customer.UpdatedAt = r.tx.store.now()
	if err := r.tx.txn.Insert(tableCustomers, &customer); err != nil {
		return domain.Customer{}, err
	}
	return customer, nil
}

func (r customerRepository) Delete(_ context.Context, id int64) error {
	stored, err := first[domain.Customer](r.tx.txn, tableCustomers, id)
	if err != nil {
		return err
	}
	if stored == nil {
		return domain.ErrCustomerNotFound
	}

	order, err := r.tx.txn.First(tableOrders, indexCustomer, id)
	if err != nil {
		return err
	}
	if order != nil {
		return domain.ErrCustomerInUse
	}

	return r.tx.txn.Delete(tableCustomers, stored)
}

func (r customerRepository) List(context.Context) ([]domain.Customer, error) {
	it, err := r.tx.txn.Get(tableCustomers, indexID)
	if err != nil {
		return nil, err
	}
	return sortedValues(it, func(c domain.Customer) int64 { return c.ID }), nil
}

func sortedValues[T any](it memdb.ResultIterator, id func(T) int64) []T {
	stored := collect[T](it)
	result := make([]T, 0, len(stored))
	for _, entity := range stored {
		result = append(result, *entity)
	}
	slices.SortFunc(result, func(a, b T) int { return cmp.Compare(id(a), id(b)) })
	return result
}

var (
	_ domain.CategoryRepository = categoryRepository{}
	_ domain.CustomerRepository = customerRepository{}
)
