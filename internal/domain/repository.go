package domain

import "context"

// EntityRepository — базовый набор операций над сущностью внутри транзакции.
type EntityRepository[T any] interface {
	// Insert сохраняет новую сущность и возвращает её с присвоенным ID.
	Insert(ctx context.Context, entity T) (T, error)
	// Get возвращает сущность по ID или ошибку класса ErrEntityNotFound.
	Get(ctx context.Context, id int64) (T, error)
	// Update перезаписывает сущность и возвращает сохранённую версию.
	Update(ctx context.Context, entity T) (T, error)
	// Delete удаляет сущность; отсутствие записи — ошибка класса ErrEntityNotFound.
	Delete(ctx context.Context, id int64) error
	// List возвращает все сущности в порядке возрастания ID.
	List(ctx context.Context) ([]T, error)
}

// ProductRepository — товары каталога.
// Update не трогает StockQuantity: остатки меняются только через LockStock/WriteStock.
type ProductRepository interface {
	EntityRepository[Product]
	// LockStock читает остатки одним запросом и блокирует строки до конца транзакции.
	// Отсутствующие товары в результат не попадают.
	LockStock(ctx context.Context, productIDs []int64) (map[int64]int, error)
	// WriteStock записывает новые остатки одним batch-запросом.
	WriteStock(ctx context.Context, levels map[int64]int) error
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет заказ вместе с позициями и возвращает его с присвоенными ID.
	Create(ctx context.Context, order Order) (Order, error)
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(ctx context.Context, id int64) (Order, error)
	// GetForUpdate читает заказ и блокирует его до конца транзакции.
	GetForUpdate(ctx context.Context, id int64) (Order, error)
	// Save перезаписывает заказ и его позиции с учётом optimistic locking.
	// При несовпадении версии возвращает ErrConcurrencyConflict.
	Save(ctx context.Context, order Order) (Order, error)
	// Delete удаляет заказ вместе с позициями.
	Delete(ctx context.Context, id int64) error
	// List возвращает заказы по фильтру, новые первыми.
	List(ctx context.Context, filter OrderFilter) ([]Order, error)
}

// CategoryRepository — категории каталога.
type CategoryRepository interface {
	EntityRepository[Category]
}

// CustomerRepository — клиенты.
type CustomerRepository interface {
	EntityRepository[Customer]
}

// Repositories отдаёт репозитории, привязанные к одной транзакции.
type Repositories interface {
	Products() ProductRepository
	Orders() OrderRepository
	Categories() CategoryRepository
	Customers() CustomerRepository
	Outbox() OutboxWriter
}

// Tx — открытая транзакция хранилища.
type Tx interface {
	Repositories
	Commit() error
	Rollback() error
}

// TxBeginner открывает транзакции хранилища.
type TxBeginner interface {
	BeginTx(ctx context.Context) (Tx, error)
}
