package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vladislavdragonenkov/stockorders/internal/domain"
)

// queryer — общее подмножество *sql.DB и *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type tx struct {
	tx *sql.Tx
}

// Commit помечает временной только ошибку, при которой PostgreSQL гарантированно
// не зафиксировал транзакцию. Обрыв соединения во время COMMIT оставляет исход
// неизвестным, такую ошибку повторять нельзя.
func (t *tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit postgres tx: %w", classifyCommitError(err))
	}
	return nil
}

func (t *tx) Rollback() error {
	return t.tx.Rollback()
}

func (t *tx) Products() domain.ProductRepository { return productRepository{q: t.tx} }
func (t *tx) Orders() domain.OrderRepository { return orderRepository{q: t.tx} }
func (t *tx) Categories() domain.CategoryRepository { return categoryRepository{q: t.tx} }
func (t *tx) Customers() domain.CustomerRepository { return customerRepository{q: t.tx} }
func (t *tx) Outbox() domain.OutboxWriter { return outboxWriter{q: t.tx} }

var _ domain.Tx = (*tx)(nil)
