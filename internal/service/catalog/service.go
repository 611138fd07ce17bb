// Package catalog управляет товарами, категориями и клиентами.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockorders/internal/domain"
	"github.com/vladislavdragonenkov/stockorders/internal/repository"
	"github.com/vladislavdragonenkov/stockorders/internal/service/stock"
	"github.com/vladislavdragonenkov/stockorders/internal/service/txrunner"
)

// ErrStockTargetNegative возвращается, если абсолютный остаток меньше нуля.
var ErrStockTargetNegative = fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrStockNegative)

// Service — операции каталога.
type Service struct {
	tx         txrunner.Executor
	applier    *stock.Applier
	logger     *log.Entry
	products   *repository.Transactional[domain.Product]
	categories *repository.Transactional[domain.Category]
	customers  *repository.Transactional[domain.Customer]
}

// NewService создаёт сервис каталога.
func NewService(executor txrunner.Executor, applier *stock.Applier, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "catalog-service")
	}
	if applier == nil {
		applier = stock.NewApplier(logger, nil)
	}
	return &Service{
		tx:      executor,
		applier: applier,
		logger:  logger,
		products: repository.NewTransactional(executor, "products",
			func(repos domain.Repositories) domain.EntityRepository[domain.Product] { return repos.Products() }),
		categories: repository.NewTransactional(executor, "categories",
			func(repos domain.Repositories) domain.EntityRepository[domain.Category] { return repos.Categories() }),
		customers: repository.NewTransactional(executor, "customers",
			func(repos domain.Repositories) domain.EntityRepository[domain.Customer] { return repos.Customers() }),
	}
}

// Categories возвращает репозиторий категорий.
func (s *Service) Categories() *repository.Transactional[domain.Category] {
	return s.categories
}

// Customers возвращает репозиторий клиентов.
func (s *Service) Customers() *repository.Transactional[domain.Customer] {
	return s.customers
}

// CreateProduct добавляет товар. Начальный остаток задаётся здесь же.
func (s *Service) CreateProduct(ctx context.Context, product domain.Product) (domain.Product, error) {
	created, err := s.products.Add(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}
	s.logger.WithFields(log.Fields{
		"product_id": created.ID,
		"stock":      created.StockQuantity,
	}).Info("product created")
	return created, nil
}

// UpdateProduct меняет карточку товара; остаток не меняется.
func (s *Service) UpdateProduct(ctx context.Context, product domain.Product) (domain.Product, error) {
	// Остаток проверяется только при создании, здесь он игнорируется хранилищем.
	product.StockQuantity = 0
	return s.products.Update(ctx, product)
}

// DeleteProduct удаляет товар, если он не входит ни в один заказ.
func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	return s.products.Delete(ctx, id)
}

// GetProduct возвращает товар.
func (s *Service) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	return s.products.Get(ctx, id)
}

// ListProducts возвращает все товары.
func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.products.GetAll(ctx)
}

// SearchProducts ищет товары по вхождению строки в название без учёта регистра.
func (s *Service) SearchProducts(ctx context.Context, query string) ([]domain.Product, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	return s.products.Find(ctx, func(p domain.Product) bool {
		return strings.Contains(strings.ToLower(p.Name), query)
	})
}

// ProductsInCategory возвращает товары категории.
func (s *Service) ProductsInCategory(ctx context.Context, categoryID int64) ([]domain.Product, error) {
	if _, err := s.categories.Get(ctx, categoryID); err != nil {
		return nil, err
	}
	return s.products.Find(ctx, func(p domain.Product) bool {
		return p.InCategory(categoryID)
	})
}

// SetStock устанавливает абсолютный остаток товара.
func (s *Service) SetStock(ctx context.Context, productID int64, quantity int) (domain.Product, error) {
	if quantity < 0 {
		return domain.Product{}, ErrStockTargetNegative
	}
	return s.changeStock(ctx, "set_stock", productID, func(current int) int {
		return quantity - current
	})
}

// AdjustStock прибавляет к остатку delta; отрицательное значение списывает.
func (s *Service) AdjustStock(ctx context.Context, productID int64, delta int) (domain.Product, error) {
	return s.changeStock(ctx, "adjust_stock", productID, func(int) int {
		return delta
	})
}

// changeStock проводит изменение остатка через Applier, как и заказы.
func (s *Service) changeStock(ctx context.Context, name string, productID int64, deltaFor func(current int) int) (domain.Product, error) {
	product, err := txrunner.Do(ctx, s.tx, name, func(ctx context.Context, repos domain.Repositories) (domain.Product, error) {
		current, err := repos.Products().LockStock(ctx, []int64{productID})
		if err != nil {
			return domain.Product{}, err
		}
		available, ok := current[productID]
		if !ok {
			return domain.Product{}, &domain.ProductNotFoundError{ProductID: productID}
		}

		delta := domain.StockDelta{productID: deltaFor(available)}
		if _, err := s.applier.Apply(ctx, repos.Products(), delta); err != nil {
			return domain.Product{}, err
		}
		return repos.Products().Get(ctx, productID)
	})
	if err != nil {
		if !errors.Is(err, domain.ErrInsufficientStock) && !domain.IsNotFound(err) {
			s.logger.WithError(err).WithField("product_id", productID).Errorf("%s failed", name)
		}
		return domain.Product{}, err
	}

	s.logger.WithFields(log.Fields{
		"product_id": productID,
		"stock":      product.StockQuantity,
	}).Info("stock changed")
	return product, nil
}
