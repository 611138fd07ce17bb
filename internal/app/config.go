package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/stockorders/internal/service/txrunner"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска приложения.
// Значение сравнимо: списки (например, брокеры Kafka) хранятся строкой через запятую.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	// PostgresIsolation — уровень изоляции транзакций заказов, по умолчанию read committed.
	PostgresIsolation string
	PostgresMaxConns  int

	TxMaxAttempts  int
	TxInitialDelay time.Duration
	TxMaxDelay     time.Duration
	RequestTimeout time.Duration

	RedisAddr   string
	RedisPrefix string

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	KafkaBrokers       string
	KafkaConsumerGroup string
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	OtelEndpoint string
	OtelInsecure bool

	ShutdownTimeout time.Duration
}

// DefaultConfig возвращает конфигурацию для локального запуска на in-memory хранилище.
func DefaultConfig() Config {
	retry := txrunner.DefaultRetryConfig()
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		PostgresIsolation:   "read committed",
		PostgresMaxConns:    25,

		TxMaxAttempts:  retry.MaxAttempts,
		TxInitialDelay: retry.InitialDelay,
		TxMaxDelay:     retry.MaxDelay,
		RequestTimeout: 15 * time.Second,

		RedisPrefix: "oms:idempotency:",

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,

		KafkaConsumerGroup: "stockorders",
		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   50 * time.Millisecond,

		ShutdownTimeout: 5 * time.Second,
	}
}

// Brokers возвращает список брокеров Kafka без пустых элементов.
func (c Config) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// RetryConfig возвращает политику повторов транзакций.
func (c Config) RetryConfig() txrunner.RetryConfig {
	retry := txrunner.DefaultRetryConfig()
	retry.MaxAttempts = c.TxMaxAttempts
	retry.InitialDelay = c.TxInitialDelay
	retry.MaxDelay = c.TxMaxDelay
	return retry
}

// Validate проверяет согласованность настроек хранилища.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return fmt.Errorf("postgres storage driver requires OMS_POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.StorageDriver)
	}
	return nil
}
