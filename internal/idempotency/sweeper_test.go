package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/stockorders/internal/domain"
	"github.com/vladislavdragonenkov/stockorders/internal/metrics"
	"github.com/vladislavdragonenkov/stockorders/internal/storage/memory"
)

// scriptedDeleter отдаёт заранее заданные ответы по порядку; после конца
// сценария удалять нечего.
type scriptedDeleter struct {
	mu      sync.Mutex
	steps   []step
	befores []time.Time
}

type step struct {
	deleted int
	err     error
}

func (d *scriptedDeleter) DeleteExpired(_ context.Context, before time.Time, _ int) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.befores = append(d.befores, before)
	if len(d.steps) == 0 {
		return 0, nil
	}
	s := d.steps[0]
	d.steps = d.steps[1:]
	return s.deleted, s.err
}

func (d *scriptedDeleter) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.befores)
}

func newTestSweeper(repo ExpiredDeleter, cfg SweeperConfig) (*Sweeper, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	cfg.RetryDelay = time.Millisecond
	s := NewSweeper(repo, cfg, nil, metrics.NewIdempotencyMetricsWithRegisterer(reg))
	return s, reg
}

func TestSweeper_SweepDrainsInBatches(t *testing.T) {
	t.Parallel()

	repo := &scriptedDeleter{steps: []step{{deleted: 2}, {deleted: 2}, {deleted: 1}}}
	sweeper, _ := newTestSweeper(repo, SweeperConfig{BatchSize: 2})
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sweeper.now = func() time.Time { return fixed }

	result, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Before: fixed, Deleted: 5, Batches: 3}, result)
	for _, before := range repo.befores {
		assert.Equal(t, fixed, before, "every batch uses the same cut-off")
	}
}

func TestSweeper_SweepStopsAtMaxBatches(t *testing.T) {
	t.Parallel()

	repo := &scriptedDeleter{steps: []step{{deleted: 3}, {deleted: 3}, {deleted: 3}}}
	sweeper, _ := newTestSweeper(repo, SweeperConfig{BatchSize: 3, MaxBatches: 2})

	result, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Truncated)
	assert.Equal(t, 6, result.Deleted)
	assert.Equal(t, 2, repo.calls())
}

func TestSweeper_TransientErrorsAreRetried(t *testing.T) {
	t.Parallel()

	transient := fmt.Errorf("delete expired: %w", domain.ErrTransientStore)
	repo := &scriptedDeleter{steps: []step{{err: transient}, {deleted: 1}}}
	sweeper, reg := newTestSweeper(repo, SweeperConfig{BatchSize: 10, Retries: 2})

	result, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)
	assert.Equal(t, 2, repo.calls())

	count, err := testutil.GatherAndCount(reg, "oms_idempotency_cleanup_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSweeper_TerminalErrorStopsPass(t *testing.T) {
	t.Parallel()

	repo := &scriptedDeleter{steps: []step{{deleted: 10}, {err: errors.New("relation does not exist")}}}
	sweeper, _ := newTestSweeper(repo, SweeperConfig{BatchSize: 10, Retries: 5})

	result, err := sweeper.Sweep(context.Background())
	require.Error(t, err)
	assert.Equal(t, 10, result.Deleted, "already deleted rows are reported")
	assert.Equal(t, 2, repo.calls(), "terminal errors are not retried")
}

func TestSweeper_SweepHonoursCancelledContext(t *testing.T) {
	t.Parallel()

	repo := &scriptedDeleter{}
	sweeper, _ := newTestSweeper(repo, SweeperConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sweeper.Sweep(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, repo.calls())
}

func TestSweeper_RunSweepsUntilCancelled(t *testing.T) {
	t.Parallel()

	repo := &scriptedDeleter{}
	sweeper, _ := newTestSweeper(repo, SweeperConfig{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sweeper.Run(ctx)
	}()

	require.Eventually(t, func() bool { return repo.calls() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on context cancel")
	}
}

func TestSweeper_RunWithoutRepositoryReturns(t *testing.T) {
	t.Parallel()

	sweeper := NewSweeper(nil, SweeperConfig{}, nil, nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		sweeper.Run(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper without repository must return immediately")
	}
}

func TestSweeper_RemovesOnlyExpiredKeysFromMemoryStore(t *testing.T) {
	t.Parallel()

	repo := memory.NewIdempotencyRepository()
	ctx := context.Background()
	now := time.Now().UTC()

	for _, key := range []string{"order-1", "order-2", "order-3"} {
		_, err := repo.CreateProcessing(ctx, key, "hash", now.Add(-time.Minute))
		require.NoError(t, err)
	}
	_, err := repo.CreateProcessing(ctx, "order-live", "hash", now.Add(time.Hour))
	require.NoError(t, err)

	sweeper, _ := newTestSweeper(repo, SweeperConfig{BatchSize: 2})
	sweeper.now = func() time.Time { return now }

	result, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Deleted)
	assert.Equal(t, 2, result.Batches)

	_, err = repo.Get(ctx, "order-live")
	assert.NoError(t, err)
	_, err = repo.Get(ctx, "order-1")
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
}
