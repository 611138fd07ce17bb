// Package memory — транзакционное in-memory хранилище на go-memdb.
// Записывающие транзакции go-memdb выполняются строго по одной, поэтому
// каждая транзакция видит согласованный снимок и не конфликтует с другими.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/vladislavdragonenkov/stockorders/internal/domain"
)

const (
	tableProducts   = "products"
	tableOrders     = "orders"
	tableCategories = "categories"
	tableCustomers  = "customers"
	tableOutbox     = "outbox"

	indexID       = "id"
	indexCustomer = "customer"
	indexStatus   = "status"
)

var errTxDone = errors.New("memory: transaction already finished")

func schema() *memdb.DBSchema {
	byID := func() map[string]*memdb.IndexSchema {
		return map[string]*memdb.IndexSchema{
			indexID: {Name: indexID, Unique: true, Indexer: &memdb.IntFieldIndex{Field: "ID"}},
		}
	}

	orderIndexes := byID()
	orderIndexes[indexCustomer] = &memdb.IndexSchema{
		Name:    indexCustomer,
		Indexer: &memdb.IntFieldIndex{Field: "CustomerID"},
	}
	orderIndexes[indexStatus] = &memdb.IndexSchema{
		Name:         indexStatus,
		AllowMissing: true,
		Indexer:      &memdb.StringFieldIndex{Field: "Status"},
	}

	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableProducts:   {Name: tableProducts, Indexes: byID()},
			tableOrders:     {Name: tableOrders, Indexes: orderIndexes},
			tableCategories: {Name: tableCategories, Indexes: byID()},
			tableCustomers:  {Name: tableCustomers, Indexes: byID()},
			tableOutbox: {Name: tableOutbox, Indexes: map[string]*memdb.IndexSchema{
				indexID:     {Name: indexID, Unique: true, Indexer: &memdb.StringFieldIndex{Field: "ID"}},
				indexStatus: {Name: indexStatus, Indexer: &memdb.StringFieldIndex{Field: "Status"}},
			}},
		},
	}
}

// Store хранит все таблицы в одной go-memdb базе.
type Store struct {
	db  *memdb.MemDB
	now func() time.Time

	productSeq  atomic.Int64
	orderSeq    atomic.Int64
	itemSeq     atomic.Int64
	categorySeq atomic.Int64
	customerSeq atomic.Int64
}

// NewStore создаёт пустое хранилище.
func NewStore() (*Store, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("create memdb: %w", err)
	}
	return &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// BeginTx открывает записывающую транзакцию. Вызов блокируется, пока
// не завершится предыдущая записывающая транзакция.
func (s *Store) BeginTx(ctx context.Context) (domain.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &tx{store: s, txn: s.db.Txn(true)}, nil
}

// Ping всегда успешен: хранилище живёт в памяти процесса.
func (s *Store) Ping(context.Context) error {
	return nil
}

// Close ничего не освобождает и нужен для симметрии с postgres.Store.
func (s *Store) Close() error {
	return nil
}

type tx struct {
	store *Store
	txn   *memdb.Txn
	done  bool
}

func (t *tx) Commit() error {
	if t.done {
		return errTxDone
	}
	t.done = true
	t.txn.Commit()
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.txn.Abort()
	return nil
}

func (t *tx) Products() domain.ProductRepository { return productRepository{t} }
func (t *tx) Orders() domain.OrderRepository { return orderRepository{t} }
func (t *tx) Categories() domain.CategoryRepository { return categoryRepository{t} }
func (t *tx) Customers() domain.CustomerRepository { return customerRepository{t} }
func (t *tx) Outbox() domain.OutboxWriter { return outboxWriter{t} }

// first возвращает запись таблицы по уникальному индексу или nil.
func first[T any](txn *memdb.Txn, table string, id any) (*T, error) {
	raw, err := txn.First(table, indexID, id)
	if err != nil {
		return nil, fmt.Errorf("memdb lookup %s: %w", table, err)
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*T), nil
}

// collect читает все записи итератора.
func collect[T any](it memdb.ResultIterator) []*T {
	var result []*T
	for raw := it.Next(); raw != nil; raw = it.Next() {
		result = append(result, raw.(*T))
	}
	return result
}

var (
	_ domain.TxBeginner = (*Store)(nil)
	_ domain.Pinger     = (*Store)(nil)
	_ domain.Tx         = (*tx)(nil)
)
