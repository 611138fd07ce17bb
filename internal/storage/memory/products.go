package memory

import (
	"cmp"
	"context"
	"slices"

	"github.com/vladislavdragonenkov/stockorders/internal/domain"
)

type productRepository struct {
	tx *tx
}

func (r productRepository) Insert(_ context.Context, product domain.Product) (domain.Product, error) {
	if err := r.checkCategories(product.CategoryIDs); err != nil {
		return domain.Product{}, err
	}

	now := r.tx.store.now()
	product = product.Clone()
	product.ID = r.tx.store.productSeq.Add(1)
	product.CategoryIDs = domain.NormalizeIDs(product.CategoryIDs)
	product.CreatedAt = now
	product.UpdatedAt = now

	if err := r.tx.txn.Insert(tableProducts, &product); err != nil {
		return domain.Product{}, err
	}
	return product.Clone(), nil
}

func (r productRepository) Get(_ context.Context, id int64) (domain.Product, error) {
	stored, err := first[domain.Product](r.tx.txn, tableProducts, id)
	if err != nil {
		return domain.Product{}, err
	}
	if stored == nil {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return stored.Clone(), nil
}

func (r productRepository) Update(_ context.Context, product domain.Product) (domain.Product, error) {
	stored, err := first[domain.Product](r.tx.txn, tableProducts, product.ID)
	if err != nil {
		return domain.Product{}, err
	}
	if stored == nil {
		return domain.Product{}, domain.ErrProductNotFound
	}
	if err := r.checkCategories(product.CategoryIDs); err != nil {
		return domain.Product{}, err
	}

	updated := product.Clone()
	updated.CategoryIDs = domain.NormalizeIDs(updated.CategoryIDs)
	updated.StockQuantity = stored.StockQuantity
	updated.CreatedAt = stored.CreatedAt
	updated.UpdatedAt = r.tx.store.now()

	if err := r.tx.txn.Insert(tableProducts, &updated); err != nil {
		return domain.Product{}, err
	}
	return updated.Clone(), nil
}

func (r productRepository) Delete(_ context.Context, id int64) error {
	stored, err := first[domain.Product](r.tx.txn, tableProducts, id)
	if err != nil {
		return err
	}
	if stored == nil {
		return domain.ErrProductNotFound
	}

	it, err := r.tx.txn.Get(tableOrders, indexID)
	if err != nil {
		return err
	}
	for _, order := range collect[domain.Order](it) {
		for _, item := range order.Items {
			if item.ProductID == id {
				return domain.ErrProductInUse
			}
		}
	}

	return r.tx.txn.Delete(tableProducts, stored)
}

func (r productRepository) List(context.Context) ([]domain.Product, error) {
	it, err := r.tx.txn.Get(tableProducts, indexID)
	if err != nil {
		return nil, err
	}

	stored := collect[domain.Product](it)
	result := make([]domain.Product, 0, len(stored))
	for _, product := range stored {
		result = append(result, product.Clone())
	}
	slices.SortFunc(result, func(a, b domain.Product) int { return cmp.Compare(a.ID, b.ID) })
	return result, nil
}

func (r productRepository) LockStock(_ context.Context, productIDs []int64) (map[int64]int, error) {
	levels := make(map[int64]int, len(productIDs))
	for _, id := range productIDs {
		stored, err := first[domain.Product](r.tx.txn, tableProducts, id)
		if err != nil {
			return nil, err
		}
		if stored != nil {
			levels[id] = stored.StockQuantity
		}
	}
	return levels, nil
}

func (r productRepository) WriteStock(_ context.Context, levels map[int64]int) error {
	now := r.tx.store.now()
	for id, qty := range levels {
		if qty < 0 {
			return domain.ErrStockNegative
		}
		stored, err := first[domain.Product](r.tx.txn, tableProducts, id)
		if err != nil {
			return err
		}
		if stored == nil {
			return &domain.ProductNotFoundError{ProductID: id}
		}

		updated := stored.Clone()
		updated.StockQuantity = qty
		updated.UpdatedAt = now
		if err := r.tx.txn.Insert(tableProducts, &updated); err != nil {
			return err
		}
	}
	return nil
}

func (r productRepository) checkCategories(ids []int64) error {
	for _, id := range ids {
		stored, err := first[domain.Category](r.tx.txn, tableCategories, id)
		if err != nil {
			return err
		}
		if stored == nil {
			return domain.ErrCategoryNotFound
		}
	}
	return nil
}

var _ domain.ProductRepository = productRepository{}
