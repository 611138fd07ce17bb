// Package txrunner выполняет единицу работы в транзакции хранилища
// с повтором при временных сбоях.
package txrunner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eapache/go-resiliency/retrier"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/stockorders/internal/domain"
	"github.com/vladislavdragonenkov/stockorders/internal/metrics"
)

const tracerName = "github.com/vladislavdragonenkov/stockorders/internal/service/txrunner"

// Op — единица работы. Может выполниться несколько раз целиком, поэтому
// не должна иметь побочных эффектов за пределами переданных репозиториев.
type Op func(ctx context.Context, repos domain.Repositories) error

// Executor выполняет Op в транзакции.
type Executor interface {
	Run(ctx context.Context, name string, op Op) error
}

// ExhaustedError возвращается, когда все попытки завершились временной ошибкой.
type ExhaustedError struct {
	Operation string
	Attempts  int
	Err       error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: transaction failed after %d attempts: %v", e.Operation, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Runner открывает транзакцию, выполняет Op, фиксирует или откатывает её.
type Runner struct {
	store   domain.TxBeginner
	retry   RetryConfig
	retrier *retrier.Retrier
	logger  *log.Entry
	metrics *metrics.TxMetrics
	tracer  trace.Tracer
}

// New создаёт Runner поверх хранилища.
func New(store domain.TxBeginner, options ...Option) *Runner {
	opts := Options{Retry: DefaultRetryConfig()}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "tx-runner")
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	cfg := opts.Retry.normalized()
	r := retrier.New(
		retrier.LimitedExponentialBackoff(cfg.MaxAttempts-1, cfg.InitialDelay, cfg.MaxDelay),
		transientClassifier{},
	)
	r.SetJitter(cfg.Jitter)

	return &Runner{
		store:   store,
		retry:   cfg,
		retrier: r,
		logger:  logger,
		metrics: opts.Metrics,
		tracer:  tracer,
	}
}

// Run выполняет op в транзакции.
//
// Временные ошибки (domain.IsTransient) откатывают попытку и запускают op заново,
// пока не исчерпан RetryConfig.MaxAttempts; тогда возвращается *ExhaustedError.
// Любая другая ошибка откатывает транзакцию и возвращается без изменений.
// Отмена ctx откатывает текущую попытку и возвращает ctx.Err().
func (r *Runner) Run(ctx context.Context, name string, op Op) error {
	started := time.Now()
	result := metrics.TxResultFailed
	r.metrics.RecordStarted()
	defer func() {
		r.metrics.RecordFinished(name, result, time.Since(started))
	}()

	attempt := 0
	err := r.retrier.RunCtx(ctx, func(ctx context.Context) error {
		attempt++
		r.metrics.RecordAttempt(name, attempt)

		attemptErr := r.runAttempt(ctx, name, attempt, op)
		if domain.IsTransient(attemptErr) && attempt < r.retry.MaxAttempts {
			r.logger.WithError(attemptErr).WithFields(log.Fields{
				"operation":        name,
				"attempt":          attempt,
				"max_attempts":     r.retry.MaxAttempts,
				"version_conflict": domain.IsVersionConflict(attemptErr),
			}).Warn("transient store fault, retrying transaction")
		}
		return attemptErr
	})

	switch {
	case err == nil:
		result = metrics.TxResultCommitted
		if attempt > 1 {
			r.logger.WithFields(log.Fields{
				"operation": name,
				"attempt":   attempt,
			}).Info("transaction committed after retry")
		}
		return nil
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		result = metrics.TxResultCanceled
		return err
	case domain.IsTransient(err):
		result = metrics.TxResultExhausted
		r.logger.WithError(err).WithFields(log.Fields{
			"operation":    name,
			"max_attempts": r.retry.MaxAttempts,
		}).Error("transaction failed after all retry attempts")
		return &ExhaustedError{Operation: name, Attempts: attempt, Err: err}
	default:
		result = metrics.TxResultBusiness
		r.logger.WithError(err).WithField("operation", name).Debug("transaction rolled back")
		return err
	}
}

func (r *Runner) runAttempt(ctx context.Context, name string, attempt int, op Op) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	ctx, span := r.tracer.Start(ctx, "tx "+name, trace.WithAttributes(
		attribute.String("tx.operation", name),
		attribute.Int("tx.attempt", attempt),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	tx, err := r.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	finished := false
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if finished {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			r.logger.WithError(rbErr).WithField("operation", name).Warn("transaction rollback failed")
		}
	}()

	if err = op(ctx, tx); err != nil {
		return err
	}
	if err = ctx.Err(); err != nil {
		return err
	}

	finished = true
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Do выполняет op в транзакции и возвращает его результат.
// Результат неудачных попыток отбрасывается.
func Do[T any](ctx context.Context, executor Executor, name string, op func(ctx context.Context, repos domain.Repositories) (T, error)) (T, error) {
	var result T
	err := executor.Run(ctx, name, func(ctx context.Context, repos domain.Repositories) error {
		value, err := op(ctx, repos)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
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
