package domain

import "slices"

// StockDelta — изменение остатка по товарам: положительное значение возвращает
// единицы на склад, отрицательное списывает. Нулевых записей быть не должно.
type StockDelta map[int64]int

// ProductIDs возвращает идентификаторы с ненулевым изменением по возрастанию.
func (d StockDelta) ProductIDs() []int64 {
	ids := make([]int64, 0, len(d))
	for id, qty := range d {
		if qty != 0 {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// IsZero сообщает, что дельта не меняет остатки.
func (d StockDelta) IsZero() bool {
	for _, qty := range d {
		if qty != 0 {
			return false
		}
	}
	return true
}

// StockChange фиксирует применённое изменение остатка одного товара.
type StockChange struct {
	ProductID int64 `json:"product_id"`
	Before    int   `json:"before"`
	After     int   `json:"after"`
}

// Delta возвращает величину изменения.
func (c StockChange) Delta() int {
	return c.After - c.Before
}
