package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/stockorders/internal/domain"
)

const orderColumns = `id, customer_id, status, total_minor, version, created_at, updated_at`

type orderRepository struct {
	q queryer
}

func (r orderRepository) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	now := time.Now().UTC()
	order = order.Clone()
	order.Version = 1
	order.CreatedAt = now
	order.UpdatedAt = now

	err := r.q.QueryRowContext(ctx, `
		INSERT INTO orders (customer_id, status, total_minor, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`,
		order.CustomerID, order.Status, order.TotalMinor, order.Version, now, now,
	).Scan(&order.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.Order{}, domain.ErrCustomerNotFound
		}
		return domain.Order{}, wrap("insert order", err)
	}

	if order.Items, err = r.insertItems(ctx, order.ID, order.Items); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (r orderRepository) Get(ctx context.Context, id int64) (domain.Order, error) {
	return r.get(ctx, id, "")
}

func (r orderRepository) GetForUpdate(ctx context.Context, id int64) (domain.Order, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r orderRepository) get(ctx context.Context, id int64, lock string) (domain.Order, error) {
	var order domain.Order
	err := r.q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`+lock, id).Scan(
		&order.ID, &order.CustomerID, &order.Status, &order.TotalMinor,
		&order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, wrap("select order", err)
	}

	items, err := r.loadItems(ctx, []int64{order.ID})
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items[order.ID]
	return order, nil
}

func (r orderRepository) Save(ctx context.Context, order domain.Order) (domain.Order, error) {
	order = order.Clone()
	order.UpdatedAt = time.Now().UTC()

	err := r.q.QueryRowContext(ctx, `
		UPDATE orders
		SET customer_id = $1,
		    status = $2,
		    total_minor = $3,
		    version = version + 1,
		    updated_at = $4
		WHERE id = $5
		  AND version = $6
		RETURNING version, created_at
	`,
		order.CustomerID, order.Status, order.TotalMinor, order.UpdatedAt, order.ID, order.Version,
	).Scan(&order.Version, &order.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.Order{}, domain.ErrCustomerNotFound
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, wrap("update order", err)
		}
		exists, existsErr := r.exists(ctx, order.ID)
		if existsErr != nil {
			return domain.Order{}, existsErr
		}
		if !exists {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, domain.ErrConcurrencyConflict
	}

	if _, err := r.q.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, order.ID); err != nil {
		return domain.Order{}, wrap("delete order items", err)
	}
	if order.Items, err = r.insertItems(ctx, order.ID, order.Items); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// Delete удаляет заказ; позиции удаляются каскадно.
func (r orderRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return wrap("delete order", err)
	}
	return expectAffected(res, domain.ErrOrderNotFound)
}

func (r orderRepository) List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.CustomerID > 0 {
		args = append(args, filter.CustomerID)
		conditions = append(conditions, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("list orders", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	ids := make([]int64, 0)
	for rows.Next() {
		var order domain.Order
		if err := rows.Scan(
			&order.ID, &order.CustomerID, &order.Status, &order.TotalMinor,
			&order.Version, &order.CreatedAt, &order.UpdatedAt,
		); err != nil {
			return nil, wrap("scan order row", err)
		}
		orders = append(orders, order)
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate order rows", err)
	}
	if len(ids) == 0 {
		return orders, nil
	}

	items, err := r.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

func (r orderRepository) insertItems(ctx context.Context, orderID int64, items []domain.OrderItem) ([]domain.OrderItem, error) {
	productIDs := make([]int64, 0, len(items))
	quantities := make([]int64, 0, len(items))
	prices := make([]int64, 0, len(items))
	for _, item := range items {
		productIDs = append(productIDs, item.ProductID)
		quantities = append(quantities, int64(item.Quantity))
		prices = append(prices, item.UnitPriceMinor)
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO order_items (order_id, product_id, quantity, unit_price_minor)
		SELECT $1, t.product_id, t.quantity, t.unit_price_minor
		FROM unnest($2::bigint[], $3::int[], $4::bigint[]) WITH ORDINALITY
			AS t(product_id, quantity, unit_price_minor, ord)
		ORDER BY t.ord
	`, orderID, productIDs, quantities, prices)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, domain.ErrProductNotFound
		}
		return nil, wrap("insert order items", err)
	}

	loaded, err := r.loadItems(ctx, []int64{orderID})
	if err != nil {
		return nil, err
	}
	return loaded[orderID], nil
}

// loadItems загружает позиции нескольких заказов одним запросом.
func (r orderRepository) loadItems(ctx context.Context, orderIDs []int64) (map[int64][]domain.OrderItem, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price_minor
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, id
	`, orderIDs)
	if err != nil {
		return nil, wrap("load order items", err)
	}
	defer rows.Close()

	items := make(map[int64][]domain.OrderItem, len(orderIDs))
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.UnitPriceMinor); err != nil {
			return nil, wrap("scan order item", err)
		}
		items[item.OrderID] = append(items[item.OrderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate order items", err)
	}
	return items, nil
}

func (r orderRepository) exists(ctx context.Context, orderID int64) (bool, error) {
	var id int64
	err := r.q.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, wrap("check order exists", err)
}

var _ domain.OrderRepository = orderRepository{}
