// Package app собирает движок заказов: хранилище, сервисы, HTTP API,
// outbox-relay в Kafka и служебные серверы.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	healthcheck "github.com/vladislavdragonenkov/stockorders/internal/health"
	"github.com/vladislavdragonenkov/stockorders/internal/httpapi"
	"github.com/vladislavdragonenkov/stockorders/internal/idempotency"
	"github.com/vladislavdragonenkov/stockorders/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/stockorders/internal/metrics"
	"github.com/vladislavdragonenkov/stockorders/internal/observability"
	"github.com/vladislavdragonenkov/stockorders/internal/service/catalog"
	"github.com/vladislavdragonenkov/stockorders/internal/service/orders"
	"github.com/vladislavdragonenkov/stockorders/internal/service/outbox"
	"github.com/vladislavdragonenkov/stockorders/internal/service/stock"
	"github.com/vladislavdragonenkov/stockorders/internal/service/txrunner"
	"github.com/vladislavdragonenkov/stockorders/internal/version"
)

// Run запускает приложение и блокируется до отмены ctx или ошибки сервера.
// При отмене ctx возвращает ctx.Err().
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if deps.closeFn != nil {
			if err := deps.closeFn(); err != nil {
				logger.WithError(err).Warn("failed to close storage")
			}
		}
	}()

	v, _, _ := version.Info()
	tracer, shutdownTracing, err := observability.Setup(ctx, observability.Config{
		Endpoint:       cfg.OtelEndpoint,
		Insecure:       cfg.OtelInsecure,
		ServiceName:    "stockorders",
		ServiceVersion: v,
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.WithError(err).Warn("failed to flush traces")
		}
	}()

	runner := txrunner.New(deps.store,
		txrunner.WithLogger(logger.WithField("layer", "txrunner")),
		txrunner.WithMetrics(metrics.NewTxMetrics()),
		txrunner.WithTracer(tracer),
		txrunner.WithRetryConfig(cfg.RetryConfig()),
	)
	applier := stock.NewApplier(logger.WithField("layer", "stock"), metrics.NewStockMetrics())
	orderService := orders.NewService(runner, applier, logger.WithField("layer", "orders"))
	catalogService := catalog.NewService(runner, applier, logger.WithField("layer", "catalog"))

	healthHandler := healthcheck.NewHandler(version.String())
	healthHandler.RegisterChecker("storage", deps.storageChecker)

	// Producer закрывается после остановки воркеров, которые в него пишут.
	producer, err := initKafkaProducer(cfg.Brokers(), logger)
	if err != nil {
		logger.WithError(err).Warn("continuing without kafka")
	}
	defer closeKafkaProducer(producer, logger)

	// Фоновые воркеры живут до отмены workersCtx и ждутся через wg.
	workersCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
	var wg sync.WaitGroup
	defer func() {
		stopWorkers()
		wg.Wait()
	}()

	idempotencyMetrics := metrics.NewIdempotencyMetrics()
	idempotencyRepo := deps.idempotencyRepo
	redisRepo, redisClient := initRedisIdempotency(ctx, cfg, logger)
	if redisRepo != nil {
		idempotencyRepo = redisRepo
		healthHandler.RegisterChecker("redis", healthcheck.NewPingChecker("redis", redisRepo, false))
		defer func() { _ = redisClient.Close() }()
	} else {
		sweeper := idempotency.NewSweeper(idempotencyRepo, idempotency.SweeperConfig{
			Interval:  cfg.IdempotencyCleanupInterval,
			BatchSize: cfg.IdempotencyCleanupBatchSize,
			Retries:   3,
		}, logger.WithField("layer", "idempotency-sweeper"), idempotencyMetrics)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sweeper.Run(workersCtx)
		}()
	}

	var consumer *kafka.Consumer
	if producer != nil {
		worker := outbox.NewWorker(deps.outboxRepo,
			kafka.NewOutboxPublisher(producer, kafka.TopicOrderEvents),
			outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue)),
			outbox.WithLogger(logger.WithField("layer", "outbox")),
			outbox.WithMetrics(metrics.NewOutboxMetrics()),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(workersCtx)
		}()

		consumer, err = startStockConsumer(workersCtx, cfg, catalogService, producer,
			metrics.NewConsumerMetricsWithRegisterer(nil), logger)
		if err != nil {
			logger.WithError(err).Warn("stock command consumer is disabled")
		}
	} else {
		logger.Warn("kafka is not configured, outbox messages stay pending")
	}
	// Consumer останавливается раньше producer: ему нужен DLQ.
	defer stopKafkaConsumer(consumer, logger)

	router := httpapi.NewRouter(httpapi.Deps{
		Orders:             orderService,
		Catalog:            catalogService,
		Idempotency:        idempotencyRepo,
		IdempotencyTTL:     cfg.IdempotencyTTL,
		IdempotencyMetrics: idempotencyMetrics,
		RequestTimeout:     cfg.RequestTimeout,
		Logger:             logger.WithField("layer", "http"),
	})

	httpLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		_ = httpLis.Close()
		return fmt.Errorf("listen grpc: %w", err)
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	errCh := make(chan error, 2)
	apiSrv := serveHTTP(httpLis, router, logger, errCh)

	grpcServer, grpcHealth := newGRPCServer(logger)
	go func() {
		logger.Infof("gRPC сервер слушает %s", grpcLis.Addr())
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		runErr = ctx.Err()
	case runErr = <-errCh:
		logger.WithError(runErr).Error("server failed")
	}

	stopGRPC(grpcServer, grpcHealth, cfg.ShutdownTimeout, logger)
	shutdownHTTP(apiSrv, logger)
	shutdownHTTP(metricsSrv, logger)
	return runErr
}
