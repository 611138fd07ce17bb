// Package stock считает и применяет изменения складских остатков.
package stock

import "github.com/vladislavdragonenkov/stockorders/internal/domain"

// ComputeDelta возвращает изменение остатков при замене набора позиций oldItems на newItems:
// delta[p] = Σ quantity(oldItems, p) − Σ quantity(newItems, p).
// Положительное значение возвращает единицы на склад, отрицательное списывает.
// Нулевые записи не попадают в результат. Функция чистая.
func ComputeDelta(oldItems, newItems []domain.OrderItem) domain.StockDelta {
	delta := make(domain.StockDelta, len(oldItems)+len(newItems))
	for _, item := range oldItems {
		delta[item.ProductID] += item.Quantity
	}
	for _, item := range newItems {
		delta[item.ProductID] -= item.Quantity
	}
	for id, qty := range delta {
		if qty == 0 {
			delete(delta, id)
		}
	}
	return delta
}
