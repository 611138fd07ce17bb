package httpapi

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockorders/internal/domain"
	"github.com/vladislavdragonenkov/stockorders/internal/metrics"
)

const (
	// IdempotencyKeyHeader — заголовок с ключом идемпотентности запроса.
	IdempotencyKeyHeader = "Idempotency-Key"
	// IdempotentReplayHeader выставляется на ответах, восстановленных из кэша.
	IdempotentReplayHeader = "Idempotent-Replayed"

	defaultIdempotencyTTL = 24 * time.Hour
	maxIdempotencyKeyLen  = 255
)

type idempotencyGuard struct {
	repo    domain.IdempotencyRepository
	ttl     time.Duration
	metrics *metrics.IdempotencyMetrics
	logger  *log.Entry
	now     func() time.Time
}

// Idempotency повторно отдаёт сохранённый ответ на запрос с тем же Idempotency-Key.
// Запросы без заголовка проходят без изменений.
func Idempotency(repo domain.IdempotencyRepository, ttl time.Duration, m *metrics.IdempotencyMetrics, logger *log.Entry) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	if logger == nil {
		logger = log.WithField("component", "idempotency")
	}
	g := &idempotencyGuard{
		repo:    repo,
		ttl:     ttl,
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	return g.middleware
}

func (g *idempotencyGuard) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
		if key == "" || g.repo == nil {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > maxIdempotencyKeyLen {
			badRequest(w, "idempotency key is too long")
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			badRequest(w, "failed to read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		record, err := g.repo.CreateProcessing(r.Context(), key, requestHash(r, body), g.now().Add(g.ttl))
		if err != nil {
			g.replay(w, key, record, err)
			return
		}
		g.metrics.RecordRequest(metrics.IdempotencyFresh)

		var captured bytes.Buffer
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		ww.Tee(&captured)
		next.ServeHTTP(ww, r)

		g.store(r, key, ww.Status(), captured.Bytes())
	})
}

func (g *idempotencyGuard) replay(w http.ResponseWriter, key string, record domain.IdempotencyRecord, createErr error) {
	entry := g.logger.WithField("idempotency_key", key)

	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		g.metrics.RecordRequest(metrics.IdempotencyConflict)
		writeJSON(w, http.StatusConflict, errorResponse{Error: "idempotency key is already used with a different request"})
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		// failed-ключ того же запроса репозиторий отдаёт повтору, сюда он не доходит.
		switch record.Status {
		case domain.IdempotencyStatusDone:
			g.metrics.RecordRequest(metrics.IdempotencyReplayed)
			entry.Debug("replaying stored response")
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(IdempotentReplayHeader, "true")
			w.WriteHeader(replayStatus(record))
			_, _ = w.Write(record.ResponseBody)
		default:
			g.metrics.RecordRequest(metrics.IdempotencyInFlight)
			writeJSON(w, http.StatusConflict, errorResponse{Error: "request with the same idempotency key is already processing"})
		}
	default:
		entry.WithError(createErr).Error("failed to create idempotency record")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: http.StatusText(http.StatusInternalServerError)})
	}
}

// store фиксирует ответ: 5xx помечается как failed и допускает повтор с тем же ключом,
// остальное сохраняется как done.
func (g *idempotencyGuard) store(r *http.Request, key string, status int, body []byte) {
	if status == 0 {
		status = http.StatusOK
	}
	body = bytes.Clone(body)

	mark := g.repo.MarkDone
	if status >= http.StatusInternalServerError {
		mark = g.repo.MarkFailed
	}
	// Ответ уже отправлен: отмена запроса не должна оставить ключ в processing.
	if err := mark(context.WithoutCancel(r.Context()), key, body, status); err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent response")
	}
}

func replayStatus(record domain.IdempotencyRecord) int {
	if record.HTTPStatus > 0 {
		return record.HTTPStatus
	}
	return http.StatusOK
}

// requestHash связывает ключ с методом, путём и телом запроса.
func requestHash(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte{0})
	h.Write([]byte(r.URL.Path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
