package domain

import (
	"slices"
	"strings"
	"time"
)

// Product — товар каталога с текущим складским остатком.
// StockQuantity меняется только через применение StockDelta.
type Product struct {
	ID            int64
	Name          string
	Description   string
	PriceMinor    int64
	StockQuantity int
	CategoryIDs   []int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ValidateInvariants проверяет поля товара.
func (p *Product) ValidateInvariants() []error {
	var errs []error
	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, ErrProductNameRequired)
	}
	if p.PriceMinor < 0 {
		errs = append(errs, ErrProductPriceInvalid)
	}
	if p.StockQuantity < 0 {
		errs = append(errs, ErrStockNegative)
	}
	return errs
}

// InCategory сообщает, привязан ли товар к категории.
func (p Product) InCategory(categoryID int64) bool {
	return slices.Contains(p.CategoryIDs, categoryID)
}

// Clone возвращает копию товара с собственным срезом категорий.
func (p Product) Clone() Product {
	p.CategoryIDs = slices.Clone(p.CategoryIDs)
	return p
}

// Category — категория каталога.
type Category struct {
	ID          int64
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ValidateInvariants проверяет поля категории.
func (c *Category) ValidateInvariants() []error {
	if strings.TrimSpace(c.Name) == "" {
		return []error{ErrCategoryNameRequired}
	}
	return nil
}

// Customer — покупатель, владелец заказов.
type Customer struct {
	ID        int64
	Name      string
	Email     string
	Phone     string
	Address   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidateInvariants проверяет поля клиента.
func (c *Customer) ValidateInvariants() []error {
	var errs []error
	if strings.TrimSpace(c.Name) == "" {
		errs = append(errs, ErrCustomerNameRequired)
	}
	if strings.TrimSpace(c.Email) == "" {
		errs = append(errs, ErrCustomerEmailRequired)
	}
	return errs
}

// NormalizeIDs сортирует идентификаторы и убирает повторы.
func NormalizeIDs(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	ids = slices.Clone(ids)
	slices.Sort(ids)
	return slices.Compact(ids)
}
