package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/vladislavdragonenkov/stockorders/internal/domain"
)

const (
	defaultConnTimeout     = 5 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 25
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute

	// opTimeout ограничивает одиночные запросы вне транзакций заказов.
	opTimeout = 5 * time.Second
)

// Store оборачивает SQL-подключение к PostgreSQL.
type Store struct {
	db        *sql.DB
	isolation sql.IsolationLevel
}

// Option настраивает Store.
type Option func(*storeOptions)

type storeOptions struct {
	isolation    sql.IsolationLevel
	maxOpenConns int
}

// WithIsolation задаёт уровень изоляции транзакций заказов.
// По умолчанию read committed: согласованность остатков держится на FOR UPDATE.
func WithIsolation(level sql.IsolationLevel) Option {
	return func(opts *storeOptions) {
		opts.isolation = level
	}
}

// WithMaxOpenConns задаёт размер пула соединений.
func WithMaxOpenConns(n int) Option {
	return func(opts *storeOptions) {
		if n > 0 {
			opts.maxOpenConns = n
		}
	}
}

// ParseIsolation разбирает уровень изоляции из конфигурации.
func ParseIsolation(raw string) (sql.IsolationLevel, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(raw), "_", " ")) {
	case "", "read committed":
		return sql.LevelReadCommitted, nil
	case "repeatable read":
		return sql.LevelRepeatableRead, nil
	case "serializable":
		return sql.LevelSerializable, nil
	default:
		return sql.LevelDefault, fmt.Errorf("unsupported transaction isolation %q", raw)
	}
}

// Open открывает подключение к PostgreSQL и проверяет доступность базы.
func Open(ctx context.Context, dsn string, options ...Option) (*Store, error) {
	opts := storeOptions{
		isolation:    sql.LevelReadCommitted,
		maxOpenConns: defaultMaxOpenConns,
	}
	for _, option := range options {
		option(&opts)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(opts.maxOpenConns)
	db.SetMaxIdleConns(min(defaultMaxIdleConns, opts.maxOpenConns))
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{db: db, isolation: opts.isolation}, nil
}

// DB возвращает raw SQL DB, когда нужен низкоуровневый доступ.
func (s *Store) DB() *sql.DB {
	return s.db
}

// BeginTx открывает транзакцию с настроенным уровнем изоляции.
func (s *Store) BeginTx(ctx context.Context) (domain.Tx, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("postgres store is not initialized")
	}

	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: s.isolation})
	if err != nil {
		return nil, fmt.Errorf("begin postgres tx: %w", classifyError(err))
	}
	return &tx{tx: sqlTx}, nil
}

// Ping проверяет доступность подключения.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// EnsureSchema применяет все up-миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

// Close закрывает подключение к БД.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var (
	_ domain.TxBeginner = (*Store)(nil)
	_ domain.Pinger     = (*Store)(nil)
)
