package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockorders/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/stockorders/internal/health"
	"github.com/vladislavdragonenkov/stockorders/internal/idempotency"
	"github.com/vladislavdragonenkov/stockorders/internal/storage/memory"
	"github.com/vladislavdragonenkov/stockorders/internal/storage/postgres"
)

type transactionalStore interface {
	domain.TxBeginner
	domain.Pinger
}

type runtimeDependencies struct {
	store           transactionalStore
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository
	storageChecker  healthcheck.Checker
	// closeFn освобождает подключения хранилища; nil для memory.
	closeFn func() error
}

// initRuntimeDependencies выбирает хранилище по StorageDriver.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.StorageDriver {
	case StorageDriverPostgres:
		return initPostgres(ctx, cfg, logger)
	default:
		store, err := memory.NewStore()
		if err != nil {
			return nil, fmt.Errorf("init memory store: %w", err)
		}
		logger.Info("storage: in-memory")
		return &runtimeDependencies{
			store:           store,
			outboxRepo:      memory.NewOutboxRepository(store),
			idempotencyRepo: memory.NewIdempotencyRepository(),
			storageChecker:  healthcheck.NewPingChecker("storage", store, true),
		}, nil
	}
}

func initPostgres(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	isolation, err := postgres.ParseIsolation(cfg.PostgresIsolation)
	if err != nil {
		return nil, err
	}

	store, err := postgres.Open(ctx, cfg.PostgresDSN,
		postgres.WithIsolation(isolation),
		postgres.WithMaxOpenConns(cfg.PostgresMaxConns),
	)
	if err != nil {
		return nil, err
	}

	if cfg.PostgresAutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply postgres migrations: %w", err)
		}
	}

	logger.WithField("isolation", isolation.String()).Info("storage: postgres")
	return &runtimeDependencies{
		store:           store,
		outboxRepo:      postgres.NewOutboxRepository(store),
		idempotencyRepo: postgres.NewIdempotencyRepository(store),
		storageChecker:  healthcheck.NewPingChecker("storage", store, true),
		closeFn:         store.Close,
	}, nil
}

// initRedisIdempotency подключает Redis для idempotency-ключей, если задан адрес.
// Недоступный Redis не мешает старту: остаётся репозиторий хранилища.
func initRedisIdempotency(ctx context.Context, cfg Config, logger *log.Entry) (*idempotency.RedisRepository, *redis.Client) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	repo := idempotency.NewRedisRepository(client, cfg.RedisPrefix)
	if err := repo.Ping(ctx); err != nil {
		logger.WithError(err).WithField("addr", cfg.RedisAddr).Warn("redis is unavailable, idempotency keys stay in storage")
		_ = client.Close()
		return nil, nil
	}

	logger.WithField("addr", cfg.RedisAddr).Info("idempotency: redis")
	return repo, client
}
