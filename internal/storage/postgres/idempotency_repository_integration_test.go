package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/stockorders/internal/domain"
)

func TestIdempotencyRepository_PostgresCreateGetAndMarkDone(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewIdempotencyRepository(store)
	ctx := context.Background()

	key := "idem-test-key-done"
	hash := "req-hash-1"
	ttl := time.Now().UTC().Add(2 * time.Hour).Round(time.Second)

	created, err := repo.CreateProcessing(ctx, key, hash, ttl)
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusProcessing, created.Status)

	require.NoError(t, repo.MarkDone(ctx, key, []byte(`{"result":"ok"}`), 201))

	got, err := repo.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, hash, got.RequestHash)
	require.Equal(t, domain.IdempotencyStatusDone, got.Status)
	require.Equal(t, 201, got.HTTPStatus)
	require.JSONEq(t, `{"result":"ok"}`, string(got.ResponseBody))
	require.True(t, got.TTLAt.Equal(ttl), "ttl mismatch: expected %s, got %s", ttl, got.TTLAt)
}

func TestIdempotencyRepository_PostgresConflictAndHashMismatch(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewIdempotencyRepository(store)
	ctx := context.Background()

	ttl := time.Now().UTC().Add(time.Hour)
	_, err := repo.CreateProcessing(ctx, "idem-test-key-conflict", "req-hash-a", ttl)
	require.NoError(t, err)

	_, err = repo.CreateProcessing(ctx, "idem-test-key-conflict", "req-hash-a", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)

	_, err = repo.CreateProcessing(ctx, "idem-test-key-conflict", "req-hash-b", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
}

func TestIdempotencyRepository_PostgresFailedKeyIsRetried(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewIdempotencyRepository(store)
	ctx := context.Background()

	key := "idem-test-key-failed"
	ttl := time.Now().UTC().Add(time.Hour)

	_, err := repo.CreateProcessing(ctx, key, "hash-a", ttl)
	require.NoError(t, err)
	require.NoError(t, repo.MarkFailed(ctx, key, []byte(`{"error":"boom"}`), 500))

	_, err = repo.CreateProcessing(ctx, key, "hash-b", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)

	_, err = repo.CreateProcessing(ctx, key, "hash-a", ttl)
	require.NoError(t, err)

	got, err := repo.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusProcessing, got.Status)
	require.Zero(t, got.HTTPStatus)
	require.Empty(t, got.ResponseBody)
}

func TestIdempotencyRepository_PostgresExpiredKeyIsReplaced(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewIdempotencyRepository(store)
	ctx := context.Background()

	_, err := repo.CreateProcessing(ctx, "idem-reuse", "old-hash", time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)

	_, err = repo.Get(ctx, "idem-reuse")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)

	created, err := repo.CreateProcessing(ctx, "idem-reuse", "new-hash", time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, "new-hash", created.RequestHash)
}

func TestIdempotencyRepository_PostgresDeleteExpired(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewIdempotencyRepository(store)
	ctx := context.Background()

	now := time.Now().UTC()
	for i, key := range []string{"idem-expired-1", "idem-expired-2", "idem-expired-3"} {
		_, err := repo.CreateProcessing(ctx, key, "h", now.Add(-time.Duration(5-i)*time.Minute))
		require.NoError(t, err)
	}
	_, err := repo.CreateProcessing(ctx, "idem-active-1", "h4", now.Add(time.Hour))
	require.NoError(t, err)

	removed, err := repo.DeleteExpired(ctx, now, 2)
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	removed, err = repo.DeleteExpired(ctx, now, 10)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = repo.Get(ctx, "idem-active-1")
	require.NoError(t, err)
}

func TestIdempotencyRepository_PostgresMarkMissingKey(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewIdempotencyRepository(store)

	err := repo.MarkFailed(context.Background(), "missing", nil, 500)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
}
