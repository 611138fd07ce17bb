package httpapi

import (
	"time"

	"github.com/vladislavdragonenkov/stockorders/internal/domain"
)

type itemDTO struct {
	ProductID      int64 `json:"product_id"`
	Quantity       int   `json:"quantity"`
	UnitPriceMinor int64 `json:"unit_price_minor"`
}

type createOrderRequest struct {
	CustomerID int64     `json:"customer_id"`
	Status     string    `json:"status"`
	Items      []itemDTO `json:"items"`
}

// updateOrderRequest: отсутствующее поле items не меняет позиции, пустой массив невалиден.
type updateOrderRequest struct {
	Status string    `json:"status"`
	Items  []itemDTO `json:"items"`
}

type orderResponse struct {
	ID         int64     `json:"id"`
	CustomerID int64     `json:"customer_id"`
	Status     string    `json:"status"`
	TotalMinor int64     `json:"total_minor"`
	Version    int64     `json:"version"`
	Items      []itemDTO `json:"items"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type productDTO struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	PriceMinor    int64     `json:"price_minor"`
	StockQuantity int       `json:"stock_quantity"`
	CategoryIDs   []int64   `json:"category_ids"`
	CreatedAt     time.Time `json:"created_at,omitzero"`
	UpdatedAt     time.Time `json:"updated_at,omitzero"`
}

type categoryDTO struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at,omitzero"`
	UpdatedAt   time.Time `json:"updated_at,omitzero"`
}

type customerDTO struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at,omitzero"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

type setStockRequest struct {
	Quantity int `json:"quantity"`
}

type adjustStockRequest struct {
	Delta int `json:"delta"`
}

// toItems сохраняет различие между nil и пустым срезом.
func toItems(in []itemDTO) []domain.OrderItem {
	if in == nil {
		return nil
	}
	out := make([]domain.OrderItem, len(in))
	for i, item := range in {
		out[i] = domain.OrderItem{
			ProductID:      item.ProductID,
			Quantity:       item.Quantity,
			UnitPriceMinor: item.UnitPriceMinor,
		}
	}
	return out
}

func toOrderResponse(o domain.Order) orderResponse {
	items := make([]itemDTO, len(o.Items))
	for i, item := range o.Items {
		items[i] = itemDTO{
			ProductID:      item.ProductID,
			Quantity:       item.Quantity,
			UnitPriceMinor: item.UnitPriceMinor,
		}
	}
	return orderResponse{
		ID:         o.ID,
		CustomerID: o.CustomerID,
		Status:     o.Status,
		TotalMinor: o.TotalMinor,
		Version:    o.Version,
		Items:      items,
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
}

func toOrderResponses(orders []domain.Order) []orderResponse {
	out := make([]orderResponse, len(orders))
	for i, o := range orders {
		out[i] = toOrderResponse(o)
	}
	return out
}

func productToDTO(p domain.Product) productDTO {
	ids := p.CategoryIDs
	if ids == nil {
		ids = []int64{}
	}
	return productDTO{
		ID:            p.ID,
		Name:          p.Name,
		Description:   p.Description,
		PriceMinor:    p.PriceMinor,
		StockQuantity: p.StockQuantity,
		CategoryIDs:   ids,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func productFromDTO(id int64, d productDTO) domain.Product {
	return domain.Product{
		ID:            id,
		Name:          d.Name,
		Description:   d.Description,
		PriceMinor:    d.PriceMinor,
		StockQuantity: d.StockQuantity,
		CategoryIDs:   d.CategoryIDs,
	}
}

func categoryToDTO(c domain.Category) categoryDTO {
	return categoryDTO{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

func categoryFromDTO(id int64, d categoryDTO) domain.Category {
	return domain.Category{ID: id, Name: d.Name, Description: d.Description}
}

func customerToDTO(c domain.Customer) customerDTO {
	return customerDTO{
		ID:        c.ID,
		Name:      c.Name,
		Email:     c.Email,
		Phone:     c.Phone,
		Address:   c.Address,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func customerFromDTO(id int64, d customerDTO) domain.Customer {
	return domain.Customer{ID: id, Name: d.Name, Email: d.Email, Phone: d.Phone, Address: d.Address}
}
