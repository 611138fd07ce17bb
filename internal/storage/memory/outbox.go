package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/stockorders/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"
)

type outboxRecord struct {
	ID           string
	Status       string
	AttemptCount int
	Message      domain.OutboxMessage
	UpdatedAt    time.Time
}

type outboxWriter struct {
	tx *tx
}

func (w outboxWriter) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.OutboxMessage{}, fmt.Errorf("generate outbox id: %w", err)
		}
		msg.ID = id.String()
	}
	now := w.tx.store.now()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.Payload = append([]byte(nil), msg.Payload...)

	record := &outboxRecord{
		ID:        msg.ID,
		Status:    outboxStatusPending,
		Message:   msg,
		UpdatedAt: now,
	}
	if err := w.tx.txn.Insert(tableOutbox, record); err != nil {
		return domain.OutboxMessage{}, err
	}
	return msg, nil
}

type outboxRepository struct {
	store *Store
}

// NewOutboxRepository создаёт in-memory реализацию OutboxRepository для outbox worker.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{store: store}
}

func (r *outboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	txn := r.store.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableOutbox, indexStatus, outboxStatusPending)
	if err != nil {
		return nil, err
	}
	records := collect[outboxRecord](it)
	slices.SortFunc(records, func(a, b *outboxRecord) int {
		if c := a.Message.CreatedAt.Compare(b.Message.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if len(records) > limit {
		records = records[:limit]
	}

	result := make([]domain.OutboxMessage, 0, len(records))
	for _, record := range records {
		msg := record.Message
		msg.Payload = append([]byte(nil), msg.Payload...)
		result = append(result, msg)
	}
	return result, nil
}

func (r *outboxRepository) Stats(context.Context) (domain.OutboxStats, error) {
	txn := r.store.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableOutbox, indexStatus, outboxStatusPending)
	if err != nil {
		return domain.OutboxStats{}, err
	}

	var stats domain.OutboxStats
	for _, record := range collect[outboxRecord](it) {
		stats.PendingCount++
		if stats.OldestPendingAt.IsZero() || record.Message.CreatedAt.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = record.Message.CreatedAt
		}
	}
	return stats, nil
}

func (r *outboxRepository) MarkSent(_ context.Context, id string) error {
	return r.markStatus(id, outboxStatusSent)
}

func (r *outboxRepository) MarkFailed(_ context.Context, id string) error {
	return r.markStatus(id, outboxStatusFailed)
}

func (r *outboxRepository) markStatus(id, status string) error {
	txn := r.store.db.Txn(true)
	defer txn.Abort()

	stored, err := first[outboxRecord](txn, tableOutbox, id)
	if err != nil {
		return err
	}
	if stored == nil {
		return domain.ErrOutboxPublish
	}

	updated := *stored
	updated.Status = status
	updated.AttemptCount++
	updated.UpdatedAt = r.store.now()
	if err := txn.Insert(tableOutbox, &updated); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
