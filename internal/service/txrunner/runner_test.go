package txrunner

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/stockorders/internal/domain"
	"github.com/vladislavdragonenkov/stockorders/internal/metrics"
)

type fakeStore struct {
	begins    int
	commits   int
	rollbacks int
	beginErr  error
	commitErr []error
}

func (s *fakeStore) BeginTx(context.Context) (domain.Tx, error) {
	s.begins++
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	return &fakeTx{store: s}, nil
}

type fakeTx struct {
	domain.Repositories
	store *fakeStore
}

func (tx *fakeTx) Commit() error {
	if len(tx.store.commitErr) > 0 {
		err := tx.store.commitErr[0]
		tx.store.commitErr = tx.store.commitErr[1:]
		if err != nil {
			return err
		}
	}
	tx.store.commits++
	return nil
}

func (tx *fakeTx) Rollback() error {
	tx.store.rollbacks++
	return nil
}

func newTestRunner(store domain.TxBeginner, maxAttempts int) *Runner {
	return New(store,
		WithMetrics(metrics.NewTxMetricsWithRegisterer(prometheus.NewRegistry())),
		WithRetryConfig(RetryConfig{MaxAttempts: maxAttempts, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}),
	)
}

func TestRun_CommitsOnSuccess(t *testing.T) {
	store := &fakeStore{}
	runner := newTestRunner(store, 3)

	calls := 0
	err := runner.Run(context.Background(), "test.success", func(context.Context, domain.Repositories) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, store.commits)
	assert.Equal(t, 0, store.rollbacks)
}

func TestRun_BusinessErrorRollsBackWithoutRetry(t *testing.T) {
	store := &fakeStore{}
	runner := newTestRunner(store, 3)
	businessErr := &domain.InsufficientStockError{ProductID: 2, Available: 5, Requested: 100}

	calls := 0
	err := runner.Run(context.Background(), "test.business", func(context.Context, domain.Repositories) error {
		calls++
		return businessErr
	})

	require.ErrorIs(t, err, businessErr)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, store.commits)
	assert.Equal(t, 1, store.rollbacks)
}

func TestRun_RetriesTransientFault(t *testing.T) {
	store := &fakeStore{}
	runner := newTestRunner(store, 3)

	calls := 0
	err := runner.Run(context.Background(), "test.transient", func(context.Context, domain.Repositories) error {
		calls++
		if calls == 1 {
			return domain.MarkTransient(errors.New("serialization failure"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, store.begins)
	assert.Equal(t, 1, store.commits)
	assert.Equal(t, 1, store.rollbacks)
}

func TestRun_ConcurrencyConflictIsRetried(t *testing.T) {
	store := &fakeStore{}
	runner := newTestRunner(store, 3)

	calls := 0
	err := runner.Run(context.Background(), "test.conflict", func(context.Context, domain.Repositories) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("save order: %w", domain.ErrConcurrencyConflict)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 1, store.commits)
}

func TestRun_ExhaustedRetries(t *testing.T) {
	store := &fakeStore{}
	runner := newTestRunner(store, 3)

	calls := 0
	err := runner.Run(context.Background(), "test.exhausted", func(context.Context, domain.Repositories) error {
		calls++
		return domain.ErrTransientStore
	})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, "test.exhausted", exhausted.Operation)
	assert.ErrorIs(t, err, domain.ErrTransientStore)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, store.rollbacks)
	assert.Equal(t, 0, store.commits)
}

func TestRun_TransientBeginErrorIsRetried(t *testing.T) {
	store := &fakeStore{beginErr: domain.MarkTransient(errors.New("connection refused"))}
	runner := newTestRunner(store, 2)

	calls := 0
	err := runner.Run(context.Background(), "test.begin", func(context.Context, domain.Repositories) error {
		calls++
		return nil
	})

	require.ErrorIs(t, err, domain.ErrTransientStore)
	assert.Equal(t, 2, store.begins)
	assert.Equal(t, 0, calls)
}

func TestRun_TransientCommitErrorIsRetried(t *testing.T) {
	store := &fakeStore{commitErr: []error{domain.MarkTransient(errors.New("deadlock detected"))}}
	runner := newTestRunner(store, 3)

	calls := 0
	err := runner.Run(context.Background(), "test.commit", func(context.Context, domain.Repositories) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, store.commits)
}

func TestRun_AmbiguousCommitErrorIsTerminal(t *testing.T) {
	commitErr := errors.New("connection lost during commit")
	store := &fakeStore{commitErr: []error{commitErr}}
	runner := newTestRunner(store, 3)

	calls := 0
	err := runner.Run(context.Background(), "test.commit", func(context.Context, domain.Repositories) error {
		calls++
		return nil
	})

	require.ErrorIs(t, err, commitErr)
	assert.Equal(t, 1, calls)
}

func TestRun_CanceledContextRollsBack(t *testing.T) {
	store := &fakeStore{}
	runner := newTestRunner(store, 3)
	ctx, cancel := context.WithCancel(context.Background())

	err := runner.Run(ctx, "test.cancel", func(context.Context, domain.Repositories) error {
		cancel()
		return nil
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, store.commits)
	assert.Equal(t, 1, store.rollbacks)
}

func TestRun_AlreadyCanceledContextDoesNotBegin(t *testing.T) {
	store := &fakeStore{}
	runner := newTestRunner(store, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := runner.Run(ctx, "test.cancel", func(context.Context, domain.Repositories) error {
		t.Fatal("op must not run")
		return nil
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, store.begins)
}

func TestRun_PanicRollsBackAndPropagates(t *testing.T) {
	store := &fakeStore{}
	runner := newTestRunner(store, 3)

	assert.PanicsWithValue(t, "boom", func() {
		_ = runner.Run(context.Background(), "test.panic", func(context.Context, domain.Repositories) error {
			panic("boom")
		})
	})
	assert.Equal(t, 1, store.rollbacks)
	assert.Equal(t, 0, store.commits)
}

func TestDo_ReturnsResultOfSuccessfulAttempt(t *testing.T) {
	store := &fakeStore{}
	runner := newTestRunner(store, 3)

	calls := 0
	got, err := Do(context.Background(), runner, "test.do", func(context.Context, domain.Repositories) (int, error) {
		calls++
		if calls == 1 {
			return 1, domain.ErrTransientStore
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestDo_ZeroValueOnError(t *testing.T) {
	runner := newTestRunner(&fakeStore{}, 1)

	got, err := Do(context.Background(), runner, "test.do", func(context.Context, domain.Repositories) (string, error) {
		return "partial", domain.ErrOrderNotFound
	})

	require.ErrorIs(t, err, domain.ErrOrderNotFound)
	assert.Empty(t, got)
}

func TestRetryConfigNormalized(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 0, InitialDelay: -time.Second, MaxDelay: -1, Jitter: 3}.normalized()

	assert.Equal(t, DefaultRetryConfig().MaxAttempts, cfg.MaxAttempts)
	assert.Zero(t, cfg.InitialDelay)
	assert.Zero(t, cfg.MaxDelay)
	assert.Zero(t, cfg.Jitter)
}
