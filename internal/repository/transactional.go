// Package repository даёт CRUD над сущностями каталога, где каждая операция
// выполняется в своей транзакции через txrunner.
package repository

import (
	"context"
	"errors"

	"github.com/vladislavdragonenkov/stockorders/internal/domain"
	"github.com/vladislavdragonenkov/stockorders/internal/service/txrunner"
)

// Accessor выбирает репозиторий сущности из транзакционного набора.
type Accessor[T any] func(domain.Repositories) domain.EntityRepository[T]

type validatable interface {
	ValidateInvariants() []error
}

// Transactional — обобщённый репозиторий поверх Executor.
type Transactional[T any] struct {
	tx     txrunner.Executor
	access Accessor[T]
	name   string
}

// NewTransactional создаёт репозиторий. name попадает в имена транзакций для логов и метрик.
func NewTransactional[T any](executor txrunner.Executor, name string, access Accessor[T]) *Transactional[T] {
	return &Transactional[T]{tx: executor, access: access, name: name}
}

// Add сохраняет новую сущность.
func (r *Transactional[T]) Add(ctx context.Context, entity T) (T, error) {
	if err := validate(&entity); err != nil {
		var zero T
		return zero, err
	}
	return txrunner.Do(ctx, r.tx, r.name+".add", func(ctx context.Context, repos domain.Repositories) (T, error) {
		return r.access(repos).Insert(ctx, entity)
	})
}

// Update перезаписывает сущность.
func (r *Transactional[T]) Update(ctx context.Context, entity T) (T, error) {
	if err := validate(&entity); err != nil {
		var zero T
		return zero, err
	}
	return txrunner.Do(ctx, r.tx, r.name+".update", func(ctx context.Context, repos domain.Repositories) (T, error) {
		return r.access(repos).Update(ctx, entity)
	})
}

// Delete удаляет сущность. Отсутствующая запись не считается ошибкой.
func (r *Transactional[T]) Delete(ctx context.Context, id int64) error {
	return r.tx.Run(ctx, r.name+".delete", func(ctx context.Context, repos domain.Repositories) error {
		err := r.access(repos).Delete(ctx, id)
		if errors.Is(err, domain.ErrEntityNotFound) {
			return nil
		}
		return err
	})
}

// Get возвращает сущность по ID.
func (r *Transactional[T]) Get(ctx context.Context, id int64) (T, error) {
	return txrunner.Do(ctx, r.tx, r.name+".get", func(ctx context.Context, repos domain.Repositories) (T, error) {
		return r.access(repos).Get(ctx, id)
	})
}

// GetAll возвращает все сущности.
func (r *Transactional[T]) GetAll(ctx context.Context) ([]T, error) {
	return txrunner.Do(ctx, r.tx, r.name+".list", func(ctx context.Context, repos domain.Repositories) ([]T, error) {
		return r.access(repos).List(ctx)
	})
}

// Find возвращает сущности, для которых predicate вернул true.
func (r *Transactional[T]) Find(ctx context.Context, predicate func(T) bool) ([]T, error) {
	all, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	found := make([]T, 0, len(all))
	for _, entity := range all {
		if predicate(entity) {
			found = append(found, entity)
		}
	}
	return found, nil
}

func validate(entity any) error {
	if v, ok := entity.(validatable); ok {
		return domain.NewValidationError(v.ValidateInvariants())
	}
	return nil
}
