package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/vladislavdragonenkov/stockorders/internal/domain"
)

const productColumns = `
	p.id, p.name, p.description, p.price_minor, p.stock_quantity, p.created_at, p.updated_at,
	COALESCE(array_agg(pc.category_id ORDER BY pc.category_id)
		FILTER (WHERE pc.category_id IS NOT NULL), '{}')::bigint[]
`

const productFrom = `
	FROM products p
	LEFT JOIN product_categories pc ON pc.product_id = p.id
`

type productRepository struct {
	q queryer
}

func (r productRepository) Insert(ctx context.Context, product domain.Product) (domain.Product, error) {
	now := time.Now().UTC()
	product.CategoryIDs = domain.NormalizeIDs(product.CategoryIDs)
	product.CreatedAt = now
	product.UpdatedAt = now

	err := r.q.QueryRowContext(ctx, `
		INSERT INTO products (name, description, price_minor, stock_quantity, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`,
		product.Name, product.Description, product.PriceMinor, product.StockQuantity, now, now,
	).Scan(&product.ID)
	if err != nil {
		if isCheckViolation(err) {
			return domain.Product{}, domain.ErrStockNegative
		}
		return domain.Product{}, wrap("insert product", err)
	}

	if err := r.linkCategories(ctx, product.ID, product.CategoryIDs); err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

func (r productRepository) Get(ctx context.Context, id int64) (domain.Product, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+productColumns+productFrom+`
		WHERE p.id = $1
		GROUP BY p.id
	`, id)

	product, err := scanProduct(row, pgtype.NewMap())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, wrap("select product", err)
	}
	return product, nil
}

// Update не меняет stock_quantity: остатки пишет только WriteStock.
func (r productRepository) Update(ctx context.Context, product domain.Product) (domain.Product, error) {
	product.CategoryIDs = domain.NormalizeIDs(product.CategoryIDs)
	product.UpdatedAt = time.Now().UTC()

	err := r.q.QueryRowContext(ctx, `
		UPDATE products
		SET name = $2,
		    description = $3,
		    price_minor = $4,
		    updated_at = $5
		WHERE id = $1
		RETURNING stock_quantity, created_at
	`,
		product.ID, product.Name, product.Description, product.PriceMinor, product.UpdatedAt,
	).Scan(&product.StockQuantity, &product.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, wrap("update product", err)
	}

	if _, err := r.q.ExecContext(ctx, `DELETE FROM product_categories WHERE product_id = $1`, product.ID); err != nil {
		return domain.Product{}, wrap("unlink product categories", err)
	}
	if err := r.linkCategories(ctx, product.ID, product.CategoryIDs); err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

func (r productRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrProductInUse
		}
		return wrap("delete product", err)
	}
	return expectAffected(res, domain.ErrProductNotFound)
}

func (r productRepository) List(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+productColumns+productFrom+`
		GROUP BY p.id
		ORDER BY p.id
	`)
	if err != nil {
		return nil, wrap("list products", err)
	}
	defer rows.Close()

	// pgtype.Map не потокобезопасен, поэтому свой на каждый запрос.
	typeMap := pgtype.NewMap()
	products := make([]domain.Product, 0)
	for rows.Next() {
		product, err := scanProduct(rows, typeMap)
		if err != nil {
			return nil, wrap("scan product", err)
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate products", err)
	}
	return products, nil
}

// LockStock читает остатки одним запросом; строки блокируются по возрастанию id,
// чтобы параллельные транзакции брали блокировки в одном порядке.
func (r productRepository) LockStock(ctx context.Context, productIDs []int64) (map[int64]int, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, stock_quantity
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, productIDs)
	if err != nil {
		return nil, wrap("lock stock", err)
	}
	defer rows.Close()

	levels := make(map[int64]int, len(productIDs))
	for rows.Next() {
		var (
			id  int64
			qty int
		)
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, wrap("scan stock", err)
		}
		levels[id] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate stock rows", err)
	}
	return levels, nil
}

func (r productRepository) WriteStock(ctx context.Context, levels map[int64]int) error {
	if len(levels) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(levels))
	quantities := make([]int64, 0, len(levels))
	for id, qty := range levels {
		ids = append(ids, id)
		quantities = append(quantities, int64(qty))
	}

	res, err := r.q.ExecContext(ctx, `
		UPDATE products AS p
		SET stock_quantity = v.qty,
		    updated_at = $3
		FROM unnest($1::bigint[], $2::int[]) AS v(id, qty)
		WHERE p.id = v.id
	`, ids, quantities, time.Now().UTC())
	if err != nil {
		if isCheckViolation(err) {
			return domain.ErrStockNegative
		}
		return wrap("write stock", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return wrap("stock rows affected", err)
	}
	if int(affected) != len(levels) {
		return fmt.Errorf("write stock: updated %d of %d products: %w", affected, len(levels), domain.ErrProductNotFound)
	}
	return nil
}

func (r productRepository) linkCategories(ctx context.Context, productID int64, categoryIDs []int64) error {
	if len(categoryIDs) == 0 {
		return nil
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO product_categories (product_id, category_id)
		SELECT $1, unnest($2::bigint[])
	`, productID, categoryIDs)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrCategoryNotFound
		}
		return wrap("link product categories", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner, typeMap *pgtype.Map) (domain.Product, error) {
	var (
		product     domain.Product
		categoryIDs []int64
	)
	if err := row.Scan(
		&product.ID, &product.Name, &product.Description, &product.PriceMinor,
		&product.StockQuantity, &product.CreatedAt, &product.UpdatedAt,
		typeMap.SQLScanner(&categoryIDs),
	); err != nil {
		return domain.Product{}, err
	}
	if len(categoryIDs) > 0 {
		product.CategoryIDs = categoryIDs
	}
	return product, nil
}

func expectAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

var _ domain.ProductRepository = productRepository{}
