package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vladislavdragonenkov/stockorders/internal/domain"
)

type categoryRepository struct {
	q queryer
}

func (r categoryRepository) Insert(ctx context.Context, category domain.Category) (domain.Category, error) {
	now := time.Now().UTC()
	category.CreatedAt = now
	category.UpdatedAt = now
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO categories (name, description, created_at, updated_at)
		VALUES ($1,$2,$3,$4)
		RETURNING id
	`, category.Name, category.Description, now, now).Scan(&category.ID)
	if err != nil {
		return domain.Category{}, wrap("insert category", err)
	}
	return category, nil
}

func (r categoryRepository) Get(ctx context.Context, id int64) (domain.Category, error) {
	var category domain.Category
	err := r.q.QueryRowContext(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM categories
		WHERE id = $1
	`, id).Scan(&category.ID, &category.Name, &category.Description, &category.CreatedAt, &category.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Category{}, domain.ErrCategoryNotFound
		}
		return domain.Category{}, wrap("select category", err)
	}
	return category, nil
}

func (r categoryRepository) Update(ctx context.Context, category domain.Category) (domain.Category, error) {
	category.UpdatedAt = time.Now().UTC()
	err := r.q.QueryRowContext(ctx, `
		UPDATE categories
		SET name = $2, description = $3, updated_at = $4
		WHERE id = $1
		RETURNING created_at
	`, category.ID, category.Name, category.Description, category.UpdatedAt).Scan(&category.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Category{}, domain.ErrCategoryNotFound
		}
		return domain.Category{}, wrap("update category", err)
	}
	return category, nil
}

// Delete удаляет категорию; связи с товарами удаляются каскадно.
func (r categoryRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return wrap("delete category", err)
	}
	return expectAffected(res, domain.ErrCategoryNotFound)
}

func (r categoryRepository) List(ctx context.Context) ([]domain.Category, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM categories
		ORDER BY id
	`)
	if err != nil {
		return nil, wrap("list categories", err)
	}
	defer rows.Close()

	categories := make([]domain.Category, 0)
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, wrap("scan category", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate categories", err)
	}
	return categories, nil
}

type customerRepository struct {
	q queryer
}

func (r customerRepository) Insert(ctx context.Context, customer domain.Customer) (domain.Customer, error) {
	now := time.Now().UTC()
	customer.CreatedAt = now
	customer.UpdatedAt = now
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO customers (name, email, phone, address, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`, customer.Name, customer.Email, customer.Phone, customer.Address, now, now).Scan(&customer.ID)
	if err != nil {
		return domain.Customer{}, wrap("insert customer", err)
	}
	return customer, nil
}

func (r customerRepository) Get(ctx context.Context, id int64) (domain.Customer, error) {
	var c domain.Customer
	err := r.q.QueryRowContext(ctx, `
		SELECT id, name, email, phone, address, created_at, updated_at
		FROM customers
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Address, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Customer{}, domain.ErrCustomerNotFound
		}
		return domain.Customer{}, wrap("select customer", err)
	}
	return c, nil
}

func (r customerRepository) Update(ctx context.Context, customer domain.Customer) (domain.Customer, error) {
	customer.UpdatedAt = time.Now().UTC()
	err := r.q.QueryRowContext(ctx, `
		UPDATE customers
		SET name = $2, email = $3, phone = $4, address = $5, updated_at = $6
		WHERE id = $1
		RETURNING created_at
	`,
		customer.ID, customer.Name, customer.Email, customer.Phone, customer.Address, customer.UpdatedAt,
	).Scan(&customer.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Customer{}, domain.ErrCustomerNotFound
		}
		return domain.Customer{}, wrap("update customer", err)
	}
	return customer, nil
}

func (r customerRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrCustomerInUse
		}
		return wrap("delete customer", err)
	}
	return expectAffected(res, domain.ErrCustomerNotFound)
}

func (r customerRepository) List(ctx context.Context) ([]domain.Customer, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, name, email, phone, address, created_at, updated_at
		FROM customers
		ORDER BY id
	`)
	if err != nil {
		return nil, wrap("list customers", err)
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Address, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, wrap("scan customer", err)
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate customers", err)
	}
	return customers, nil
}

var (
	_ domain.CategoryRepository = categoryRepository{}
	_ domain.CustomerRepository = customerRepository{}
)
