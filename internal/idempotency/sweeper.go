package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/eapache/go-resiliency/retrier"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockorders/internal/domain"
	"github.com/vladislavdragonenkov/stockorders/internal/metrics"
)

// ExpiredDeleter удаляет порцию ключей с истёкшим ttl.
// Реализуют memory и postgres хранилища; redis истекает сам.
type ExpiredDeleter interface {
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// SweeperConfig задаёт расписание и размер проходов очистки.
type SweeperConfig struct {
	Interval   time.Duration
	BatchSize  int
	MaxBatches int
	Retries    int
	RetryDelay time.Duration
}

func (c SweeperConfig) withDefaults() SweeperConfig {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.MaxBatches <= 0 {
		c.MaxBatches = 100
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 200 * time.Millisecond
	}
	return c
}

// SweepResult итог одного прохода.
type SweepResult struct {
	Before  time.Time
	Deleted int
	Batches int
	// Truncated выставляется, когда проход упёрся в MaxBatches;
	// остаток удалит следующий тик.
	Truncated bool
}

// Sweeper удаляет просроченные ключи идемпотентности, пока сервис работает
// без redis. Проход ограничен MaxBatches, чтобы длинный хвост не держал
// соединение с базой.
type Sweeper struct {
	repo    ExpiredDeleter
	cfg     SweeperConfig
	logger  *log.Entry
	metrics *metrics.IdempotencyMetrics
	retrier *retrier.Retrier
	now     func() time.Time
}

// NewSweeper создаёт Sweeper. logger и m могут быть nil.
func NewSweeper(repo ExpiredDeleter, cfg SweeperConfig, logger *log.Entry, m *metrics.IdempotencyMetrics) *Sweeper {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.WithField("component", "idempotency-sweeper")
	}
	return &Sweeper{
		repo:    repo,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		retrier: retrier.New(retrier.ConstantBackoff(cfg.Retries, cfg.RetryDelay), transientClassifier{}),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run выполняет проход сразу и затем по тикеру до отмены ctx.
func (s *Sweeper) Run(ctx context.Context) {
	if s.repo == nil {
		s.logger.Warn("idempotency sweeper disabled: no repository")
		return
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		result, err := s.Sweep(ctx)
		switch {
		case errors.Is(err, context.Canceled):
			return
		case err != nil:
			s.logger.WithError(err).WithField("deleted", result.Deleted).Warn("idempotency sweep failed")
		case result.Deleted > 0:
			s.logger.WithFields(log.Fields{
				"deleted":   result.Deleted,
				"batches":   result.Batches,
				"truncated": result.Truncated,
			}).Info("expired idempotency keys removed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep удаляет ключи, истёкшие к текущему моменту. Транзиентные ошибки
// хранилища повторяются на уровне порции.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	result := SweepResult{Before: s.now()}

	for result.Batches < s.cfg.MaxBatches {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		var deleted int
		err := s.retrier.RunCtx(ctx, func(ctx context.Context) error {
			n, err := s.repo.DeleteExpired(ctx, result.Before, s.cfg.BatchSize)
			deleted = n
			return err
		})
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				s.metrics.RecordCleanup(result.Deleted, err)
			}
			return result, err
		}

		result.Batches++
		result.Deleted += deleted
		s.metrics.RecordDeleted(deleted)
		if deleted < s.cfg.BatchSize {
			s.metrics.RecordCleanup(result.Deleted, nil)
			return result, nil
		}
	}

	result.Truncated = true
	s.metrics.RecordCleanup(result.Deleted, nil)
	return result, nil
}

type transientClassifier struct{}

func (transientClassifier) Classify(err error) retrier.Action {
	switch {
	case err == nil:
		return retrier.Succeed
	case domain.IsTransient(err):
		return retrier.Retry
	default:
		return retrier.Fail
	}
}
