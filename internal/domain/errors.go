package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation объединяет все ошибки валидации входных данных.
	ErrValidation = errors.New("validation failed")
	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerRequired = errors.New("customer_id is required")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отсутствующего идентификатора товара в позиции.
	ErrItemProductRequired = errors.New("item product_id is required")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order total does not match items sum")
	// Ошибка пустого статуса заказа.
	ErrStatusRequired = errors.New("order status is required")
	// Ошибка пустого названия товара.
	ErrProductNameRequired = errors.New("product name is required")
	// Ошибка отрицательной цены товара.
	ErrProductPriceInvalid = errors.New("product price must be non-negative")
	// Ошибка отрицательного остатка.
	ErrStockNegative = errors.New("stock quantity must be non-negative")
	// Ошибка пустого названия категории.
	ErrCategoryNameRequired = errors.New("category name is required")
	// Ошибка пустого имени клиента.
	ErrCustomerNameRequired = errors.New("customer name is required")
	// Ошибка пустого email клиента.
	ErrCustomerEmailRequired = errors.New("customer email is required")

	// ErrEntityNotFound — общий предок всех ошибок "не найдено".
	ErrEntityNotFound = errors.New("not found")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = fmt.Errorf("order %w", ErrEntityNotFound)
	// ErrProductNotFound возвращается, если товар не найден.
	ErrProductNotFound = fmt.Errorf("product %w", ErrEntityNotFound)
	// ErrCustomerNotFound возвращается, если клиент не найден.
	ErrCustomerNotFound = fmt.Errorf("customer %w", ErrEntityNotFound)
	// ErrCategoryNotFound возвращается, если категория не найдена.
	ErrCategoryNotFound = fmt.Errorf("category %w", ErrEntityNotFound)

	// ErrInsufficientStock — бизнес-ошибка: остатка не хватает для списания.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrEntityInUse — запись нельзя удалить, пока на неё ссылаются другие записи.
	ErrEntityInUse = errors.New("referenced by orders")
	// ErrProductInUse — товар входит в существующие заказы.
	ErrProductInUse = fmt.Errorf("product is %w", ErrEntityInUse)
	// ErrCustomerInUse — у клиента есть заказы.
	ErrCustomerInUse = fmt.Errorf("customer is %w", ErrEntityInUse)
	// ErrTransientStore — временная ошибка хранилища, транзакцию можно повторить.
	ErrTransientStore = errors.New("transient store fault")
	// ErrConcurrencyConflict сигнализирует о конфликте версий при сохранении.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// InsufficientStockError описывает товар, по которому не хватило остатка.
type InsufficientStockError struct {
	ProductID int64
	// Available — остаток на момент проверки.
	Available int
	// Requested — сколько единиц требовалось списать.
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: available %d, requested %d",
		e.ProductID, e.Available, e.Requested)
}

// Shortfall возвращает, сколько единиц не хватило.
func (e *InsufficientStockError) Shortfall() int {
	return e.Requested - e.Available
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// ProductNotFoundError указывает на конкретный отсутствующий товар.
type ProductNotFoundError struct {
	ProductID int64
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %d not found", e.ProductID)
}

func (e *ProductNotFoundError) Unwrap() error {
	return ErrProductNotFound
}

// NewValidationError собирает замечания ValidateInvariants в одну ошибку.
func NewValidationError(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrValidation, errors.Join(errs...))
}

// MarkTransient помечает ошибку хранилища как временную.
func MarkTransient(err error) error {
	if err == nil || IsTransient(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransientStore, err)
}

// IsTransient сообщает, можно ли повторить транзакцию после этой ошибки.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientStore) || errors.Is(err, ErrConcurrencyConflict)
}

// IsNotFound проверяет, что ошибка относится к классу "не найдено".
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEntityNotFound)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}
