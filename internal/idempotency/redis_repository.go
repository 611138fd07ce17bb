// Package idempotency хранит ответы на запросы с Idempotency-Key и чистит просроченные ключи.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/stockorders/internal/domain"
)

const (
	defaultKeyPrefix = "oms:idem:"
	defaultTTL       = 24 * time.Hour

	fieldRequestHash = "request_hash"
	fieldStatus      = "status"
	fieldBody        = "response_body"
	fieldHTTPStatus  = "http_status"
	fieldTTLAt       = "ttl_at"
	fieldCreatedAt   = "created_at"
	fieldUpdatedAt   = "updated_at"
)

// createScript занимает свободный ключ или failed-ключ того же запроса.
// Redis сам удаляет ключ по PEXPIREAT, поэтому просроченный ключ свободен.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	local current = redis.call('HMGET', KEYS[1], 'status', 'request_hash')
	if current[1] ~= ARGV[6] or current[2] ~= ARGV[1] then
		return 0
	end
	redis.call('HDEL', KEYS[1], 'response_body', 'http_status')
end
redis.call('HSET', KEYS[1],
	'request_hash', ARGV[1],
	'status', ARGV[2],
	'ttl_at', ARGV[3],
	'created_at', ARGV[4],
	'updated_at', ARGV[4])
redis.call('PEXPIREAT', KEYS[1], ARGV[5])
return 1
`)

var markScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1],
	'status', ARGV[1],
	'response_body', ARGV[2],
	'http_status', ARGV[3],
	'updated_at', ARGV[4])
return 1
`)

// RedisRepository — реализация domain.IdempotencyRepository на Redis hash.
type RedisRepository struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisRepository создаёт репозиторий поверх готового клиента.
func NewRedisRepository(client redis.UniversalClient, prefix string) *RedisRepository {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisRepository{
		client: client,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Ping проверяет доступность Redis.
func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRepository) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}
	if requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := r.now()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultTTL)
	}
	ttlAt = ttlAt.UTC()

	created, err := createScript.Run(ctx, r.client, []string{r.prefix + key},
		requestHash,
		string(domain.IdempotencyStatusProcessing),
		formatTime(ttlAt),
		formatTime(now),
		ttlAt.UnixMilli(),
		string(domain.IdempotencyStatusFailed),
	).Int()
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("create idempotency record: %w", err)
	}

	if created == 0 {
		existing, getErr := r.Get(ctx, key)
		if getErr != nil {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
		}
		if existing.RequestHash != requestHash {
			return existing, domain.ErrIdempotencyHashMismatch
		}
		return existing, domain.ErrIdempotencyKeyAlreadyExists
	}

	return domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (r *RedisRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	fields, err := r.client.HGetAll(ctx, r.prefix+key).Result()
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency record: %w", err)
	}
	if len(fields) == 0 {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return decodeRecord(key, fields)
}

func (r *RedisRepository) MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.markStatus(ctx, key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (r *RedisRepository) MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.markStatus(ctx, key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

// DeleteExpired ничего не делает: просроченные ключи удаляет сам Redis.
func (r *RedisRepository) DeleteExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func (r *RedisRepository) markStatus(ctx context.Context, key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	updated, err := markScript.Run(ctx, r.client, []string{r.prefix + key},
		string(status),
		responseBody,
		httpStatus,
		formatTime(r.now()),
	).Int()
	if err != nil {
		return fmt.Errorf("mark idempotency key status: %w", err)
	}
	if updated == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

func decodeRecord(key string, fields map[string]string) (domain.IdempotencyRecord, error) {
	record := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: fields[fieldRequestHash],
		Status:      domain.IdempotencyStatus(fields[fieldStatus]),
	}
	if !record.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("invalid idempotency status %q for key %s", fields[fieldStatus], key)
	}
	if body := fields[fieldBody]; body != "" {
		record.ResponseBody = []byte(body)
	}
	if raw := fields[fieldHTTPStatus]; raw != "" {
		code, err := strconv.Atoi(raw)
		if err != nil {
			return domain.IdempotencyRecord{}, fmt.Errorf("parse http status for key %s: %w", key, err)
		}
		record.HTTPStatus = code
	}

	var err error
	for _, ts := range []struct {
		field string
		dst   *time.Time
	}{
		{fieldTTLAt, &record.TTLAt},
		{fieldCreatedAt, &record.CreatedAt},
		{fieldUpdatedAt, &record.UpdatedAt},
	} {
		if *ts.dst, err = parseTime(fields[ts.field]); err != nil {
			return domain.IdempotencyRecord{}, fmt.Errorf("parse %s for key %s: %w", ts.field, key, err)
		}
	}
	return record, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	return time.Parse(time.RFC3339Nano, raw)
}

var _ domain.IdempotencyRepository = (*RedisRepository)(nil)
