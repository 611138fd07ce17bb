package domain

import "time"

// DefaultOrderStatus присваивается заказу, если статус не передан.
const DefaultOrderStatus = "Pending"

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	ID        int64
	OrderID   int64
	ProductID int64
	// Quantity — количество единиц товара, всегда > 0.
	Quantity int
	// UnitPriceMinor — цена за единицу на момент оформления, в минимальных денежных единицах.
	UnitPriceMinor int64
}

// LineTotal возвращает стоимость позиции.
func (i OrderItem) LineTotal() int64 {
	return int64(i.Quantity) * i.UnitPriceMinor
}

// Order агрегирует состояние заказа и его позиции.
// Статус свободный: движок не привязывает к нему переходы.
type Order struct {
	ID         int64
	CustomerID int64
	Status     string
	TotalMinor int64
	Items      []OrderItem
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ItemsTotal считает сумму позиций: quantity * unit price.
func ItemsTotal(items []OrderItem) int64 {
	var total int64
	for _, item := range items {
		total += item.LineTotal()
	}
	return total
}

// ValidateItems проверяет набор позиций заказа.
func ValidateItems(items []OrderItem) []error {
	var errs []error
	if len(items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	for _, item := range items {
		if item.ProductID <= 0 {
			errs = append(errs, ErrItemProductRequired)
		}
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.UnitPriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}
	return errs
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID <= 0 {
		errs = append(errs, ErrCustomerRequired)
	}
	if o.Status == "" {
		errs = append(errs, ErrStatusRequired)
	}
	errs = append(errs, ValidateItems(o.Items)...)
	if ItemsTotal(o.Items) != o.TotalMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// Clone возвращает копию заказа с собственным срезом позиций.
func (o Order) Clone() Order {
	o.Items = append([]OrderItem(nil), o.Items...)
	return o
}

// OrderFilter задаёт выборку заказов; нулевые поля не ограничивают результат.
type OrderFilter struct {
	CustomerID int64
	Status     string
	Limit      int
}
