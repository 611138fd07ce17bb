package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/stockorders/internal/app"
)

const (
	envHTTPAddr    = "OMS_HTTP_ADDR"
	envGRPCAddr    = "OMS_GRPC_ADDR"
	envMetricsAddr = "OMS_METRICS_ADDR"
	envLogLevel    = "OMS_LOG_LEVEL"
	envLogFormat   = "OMS_LOG_FORMAT"

	envStorageDriver       = "OMS_STORAGE_DRIVER"
	envPostgresDSN         = "OMS_POSTGRES_DSN"
	envPostgresAutoMigrate = "OMS_POSTGRES_AUTO_MIGRATE"
	envPostgresIsolation   = "OMS_POSTGRES_ISOLATION"
	envPostgresMaxConns    = "OMS_POSTGRES_MAX_CONNS"

	envTxMaxAttempts  = "OMS_TX_MAX_ATTEMPTS"
	envTxInitialDelay = "OMS_TX_INITIAL_DELAY"
	envTxMaxDelay     = "OMS_TX_MAX_DELAY"
	envRequestTimeout = "OMS_REQUEST_TIMEOUT"

	envRedisAddr   = "OMS_REDIS_ADDR"
	envRedisPrefix = "OMS_REDIS_PREFIX"

	envIdempotencyTTL              = "OMS_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "OMS_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "OMS_IDEMPOTENCY_CLEANUP_BATCH_SIZE"

	envKafkaBrokers       = "OMS_KAFKA_BROKERS"
	envKafkaConsumerGroup = "OMS_KAFKA_CONSUMER_GROUP"
	envOutboxPollInterval = "OMS_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize    = "OMS_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts  = "OMS_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay   = "OMS_OUTBOX_RETRY_DELAY"

	envOtelEndpoint = "OMS_OTEL_ENDPOINT"
	envOtelInsecure = "OMS_OTEL_INSECURE"

	envShutdownTimeout = "OMS_SHUTDOWN_TIMEOUT"
)

type envLookup func(string) (string, bool)

func positive[T int | time.Duration](v T) bool    { return v > 0 }
func nonNegative[T int | time.Duration](v T) bool { return v >= 0 }

// readConfigFromEnv накладывает переменные окружения на app.DefaultConfig.
// Некорректное значение не роняет старт: остаётся значение по умолчанию и возвращается предупреждение.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, dst *bool) {
		raw, ok := lookup(key)
		if !ok {
			return
		}
		v, err := parseBool(raw)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = v
	}
	integer := func(key string, dst *int, valid func(int) bool, rule string) {
		raw, ok := lookup(key)
		if !ok {
			return
		}
		v, err := parseInt(raw, valid, rule)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = v
	}
	duration := func(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
		raw, ok := lookup(key)
		if !ok {
			return
		}
		v, err := parseDuration(raw, valid, rule)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = v
	}

	str(envHTTPAddr, &cfg.HTTPAddr)
	str(envGRPCAddr, &cfg.GRPCAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)

	str(envStorageDriver, &cfg.StorageDriver)
	cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	str(envPostgresDSN, &cfg.PostgresDSN)
	boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	str(envPostgresIsolation, &cfg.PostgresIsolation)
	integer(envPostgresMaxConns, &cfg.PostgresMaxConns, positive[int], "must be > 0")

	integer(envTxMaxAttempts, &cfg.TxMaxAttempts, positive[int], "must be > 0")
	duration(envTxInitialDelay, &cfg.TxInitialDelay, nonNegative[time.Duration], "must be >= 0")
	duration(envTxMaxDelay, &cfg.TxMaxDelay, nonNegative[time.Duration], "must be >= 0")
	duration(envRequestTimeout, &cfg.RequestTimeout, positive[time.Duration], "must be > 0")

	str(envRedisAddr, &cfg.RedisAddr)
	str(envRedisPrefix, &cfg.RedisPrefix)

	duration(envIdempotencyTTL, &cfg.IdempotencyTTL, positive[time.Duration], "must be > 0")
	duration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positive[time.Duration], "must be > 0")
	integer(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize, positive[int], "must be > 0")

	str(envKafkaBrokers, &cfg.KafkaBrokers)
	str(envKafkaConsumerGroup, &cfg.KafkaConsumerGroup)
	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positive[time.Duration], "must be > 0")
	integer(envOutboxBatchSize, &cfg.OutboxBatchSize, positive[int], "must be > 0")
	integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positive[int], "must be > 0")
	duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegative[time.Duration], "must be >= 0")

	str(envOtelEndpoint, &cfg.OtelEndpoint)
	boolean(envOtelInsecure, &cfg.OtelInsecure)

	duration(envShutdownTimeout, &cfg.ShutdownTimeout, positive[time.Duration], "must be > 0")

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid int value %q", raw)
	}
	if !valid(v) {
		return 0, fmt.Errorf("value %d %s", v, rule)
	}
	return v, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration value %q", raw)
	}
	if !valid(v) {
		return 0, fmt.Errorf("value %s %s", v, rule)
	}
	return v, nil
}
