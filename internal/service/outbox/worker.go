// Package outbox переносит события из transactional outbox во внешний брокер.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/eapache/go-resiliency/retrier"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockorders/internal/domain"
	"github.com/vladislavdragonenkov/stockorders/internal/metrics"
)

const (
	defaultPollInterval   = 1 * time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	maxRetryDelay         = 5 * time.Second
)

// WorkerOptions задаёт параметры outbox worker.
type WorkerOptions struct {
	Logger         *log.Entry
	Metrics        *metrics.OutboxMetrics
	DLQPublisher   domain.OutboxPublisher
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	RetryBaseDelay time.Duration
}

// Option настраивает Worker.
type Option func(*WorkerOptions)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *WorkerOptions) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики outbox.
func WithMetrics(m *metrics.OutboxMetrics) Option {
	return func(opts *WorkerOptions) {
		opts.Metrics = m
	}
}

// WithDLQPublisher задаёт publisher для отправки в DLQ после исчерпания retry.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(opts *WorkerOptions) {
		opts.DLQPublisher = publisher
	}
}

// WithPollInterval задаёт частоту опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.PollInterval = interval
	}
}

// WithBatchSize задаёт размер батча из outbox.
func WithBatchSize(batchSize int) Option {
	return func(opts *WorkerOptions) {
		opts.BatchSize = batchSize
	}
}

// WithMaxAttempts задаёт число попыток публикации перед failed/DLQ.
func WithMaxAttempts(maxAttempts int) Option {
	return func(opts *WorkerOptions) {
		opts.MaxAttempts = maxAttempts
	}
}

// WithRetryBaseDelay задаёт базовый delay для exponential backoff.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.RetryBaseDelay = delay
	}
}

// Worker публикует pending-сообщения из outbox в брокер.
type Worker struct {
	repo         domain.OutboxRepository
	publisher    domain.OutboxPublisher
	dlqPublisher domain.OutboxPublisher
	logger       *log.Entry
	metrics      *metrics.OutboxMetrics
	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
	retrier      *retrier.Retrier
	now          func() time.Time
}

// NewWorker создаёт outbox worker.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	opts := WorkerOptions{
		PollInterval:   defaultPollInterval,
		BatchSize:      defaultBatchSize,
		MaxAttempts:    defaultMaxAttempts,
		RetryBaseDelay: defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "outbox-worker")
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	opts.RetryBaseDelay = max(opts.RetryBaseDelay, 0)

	return &Worker{
		repo:         repo,
		publisher:    publisher,
		dlqPublisher: opts.DLQPublisher,
		logger:       logger,
		metrics:      opts.Metrics,
		pollInterval: opts.PollInterval,
		batchSize:    opts.BatchSize,
		maxAttempts:  opts.MaxAttempts,
		retrier: retrier.New(
			retrier.LimitedExponentialBackoff(opts.MaxAttempts-1, opts.RetryBaseDelay, max(opts.RetryBaseDelay, maxRetryDelay)),
			nil,
		),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Run запускает периодический polling outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один polling-цикл и возвращает число опубликованных сообщений.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}

	w.refreshBacklogMetrics(ctx)

	events, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return 0
	}

	sent := 0
	for _, event := range events {
		if ctx.Err() != nil {
			return sent
		}

		entry := w.logger.WithFields(log.Fields{
			"outbox_id":  event.ID,
			"event_type": event.EventType,
		})
		if err := w.publishWithRetry(ctx, event); err != nil {
			if ctx.Err() != nil {
				// Сообщение остаётся pending и будет отправлено после перезапуска.
				return sent
			}
			entry.WithError(err).Error("outbox publish failed after retries")
			w.metrics.RecordAttempt(metrics.OutboxFailed)

			if dlqErr := w.publishToDLQ(ctx, event, err); dlqErr != nil {
				entry.WithError(dlqErr).Warn("failed to publish to DLQ")
				w.metrics.RecordAttempt(metrics.OutboxDLQFailed)
			}
			if markErr := w.repo.MarkFailed(ctx, event.ID); markErr != nil {
				entry.WithError(markErr).Warn("failed to mark outbox as failed")
			}
			continue
		}

		if err := w.repo.MarkSent(ctx, event.ID); err != nil {
			entry.WithError(err).Warn("failed to mark outbox as sent")
			continue
		}
		sent++
	}

	if len(events) > 0 {
		w.refreshBacklogMetrics(ctx)
	}
	return sent
}

func (w *Worker) publishWithRetry(ctx context.Context, event domain.OutboxMessage) error {
	err := w.retrier.RunCtx(ctx, func(ctx context.Context) error {
		if err := w.publisher.Publish(ctx, event); err != nil {
			w.metrics.RecordAttempt(metrics.OutboxRetryError)
			return err
		}
		w.metrics.RecordAttempt(metrics.OutboxSent)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w after %d attempts: %w", domain.ErrOutboxPublish, w.maxAttempts, err)
	}
	return nil
}

func (w *Worker) refreshBacklogMetrics(ctx context.Context) {
	if w.metrics == nil {
		return
	}
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}
	w.metrics.SetBacklog(stats.PendingCount, stats.OldestPendingAt, w.now())
}

func (w *Worker) publishToDLQ(ctx context.Context, event domain.OutboxMessage, publishErr error) error {
	if w.dlqPublisher == nil {
		return nil
	}

	payload, err := json.Marshal(domain.OutboxDeadLetter{
		OutboxID:       event.ID,
		AggregateType:  event.AggregateType,
		AggregateID:    event.AggregateID,
		EventType:      event.EventType,
		Payload:        json.RawMessage(event.Payload),
		PublishError:   publishErr.Error(),
		DLQPublishedAt: w.now(),
	})
	if err != nil {
		return fmt.Errorf("marshal dlq payload: %w", err)
	}

	dlqEvent := domain.OutboxMessage{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       payload,
		CreatedAt:     event.CreatedAt,
	}
	if err := w.dlqPublisher.Publish(ctx, dlqEvent); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	return nil
}
