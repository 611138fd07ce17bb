package stock

import (
	"maps"
	"testing"

	"github.com/vladislavdragonenkov/stockorders/internal/domain"
)

func items(pairs ...int) []domain.OrderItem {
	result := make([]domain.OrderItem, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		result = append(result, domain.OrderItem{ProductID: int64(pairs[i]), Quantity: pairs[i+1]})
	}
	return result
}

func TestComputeDelta(t *testing.T) {
	tests := []struct {
		name     string
		oldItems []domain.OrderItem
		newItems []domain.OrderItem
		want     domain.StockDelta
	}{
		{
			name:     "create takes stock",
			newItems: items(1, 3, 2, 2),
			want:     domain.StockDelta{1: -3, 2: -2},
		},
		{
			name:     "update nets old against new",
			oldItems: items(1, 3),
			newItems: items(1, 5, 2, 1),
			want:     domain.StockDelta{1: -2, 2: -1},
		},
		{
			name:     "delete returns everything",
			oldItems: items(1, 5, 2, 1),
			want:     domain.StockDelta{1: 5, 2: 1},
		},
		{
			name:     "unchanged items produce no entries",
			oldItems: items(1, 4),
			newItems: items(1, 4),
			want:     domain.StockDelta{},
		},
		{
			name:     "duplicate lines are summed",
			oldItems: items(7, 1, 7, 2),
			newItems: items(7, 5),
			want:     domain.StockDelta{7: -2},
		},
		{
			name:     "removed product is returned",
			oldItems: items(1, 2, 3, 4),
			newItems: items(1, 2),
			want:     domain.StockDelta{3: 4},
		},
		{
			name: "both empty",
			want: domain.StockDelta{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeDelta(tt.oldItems, tt.newItems)
			if !maps.Equal(got, tt.want) {
				t.Fatalf("ComputeDelta() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestComputeDelta_RoundTripIsZero(t *testing.T) {
	a := items(1, 3, 2, 2)
	b := items(1, 5, 3, 1)

	forward := ComputeDelta(a, b)
	backward := ComputeDelta(b, a)
	for id, qty := range forward {
		if backward[id] != -qty {
			t.Fatalf("product %d: forward %d, backward %d", id, qty, backward[id])
		}
	}
	if len(forward) != len(backward) {
		t.Fatalf("forward %v and backward %v differ in products", forward, backward)
	}
}
