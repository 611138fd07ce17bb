// Package orders управляет жизненным циклом заказа: создание, изменение и удаление
// вместе с согласованным изменением складских остатков.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/stockorders/internal/domain"
	"github.com/vladislavdragonenkov/stockorders/internal/service/stock"
	"github.com/vladislavdragonenkov/stockorders/internal/service/txrunner"
)

const (
	tracerName = "github.com/vladislavdragonenkov/stockorders/internal/service/orders"

	defaultListLimit = 100
	maxListLimit     = 1000
)

// CreateOrderInput — данные для создания заказа.
type CreateOrderInput struct {
	CustomerID int64
	// Status по умолчанию domain.DefaultOrderStatus.
	Status string
	Items  []domain.OrderItem
}

// UpdateOrderInput — данные для изменения заказа.
type UpdateOrderInput struct {
	// Items заменяет набор позиций целиком; nil оставляет позиции и остатки без изменений.
	Items []domain.OrderItem
	// Пустой Status сохраняет текущий.
	Status string
}

// Service — контроллер жизненного цикла заказа.
type Service struct {
	tx      txrunner.Executor
	applier *stock.Applier
	logger  *log.Entry
	tracer  trace.Tracer
	now     func() time.Time
}

// NewService создаёт сервис заказов поверх исполнителя транзакций.
func NewService(executor txrunner.Executor, applier *stock.Applier, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "order-service")
	}
	if applier == nil {
		applier = stock.NewApplier(logger, nil)
	}
	return &Service{
		tx:      executor,
		applier: applier,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrder списывает остатки по позициям и сохраняет заказ в одной транзакции.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (order domain.Order, err error) {
	ctx, span := s.startSpan(ctx, "orders.CreateOrder", attribute.Int64("customer.id", in.CustomerID))
	defer func() { endSpan(span, err) }()

	items := detachItems(in.Items)
	draft := domain.Order{
		CustomerID: in.CustomerID,
		Status:     statusOrDefault(in.Status, domain.DefaultOrderStatus),
		TotalMinor: domain.ItemsTotal(items),
		Items:      items,
	}
	if err := domain.NewValidationError(draft.ValidateInvariants()); err != nil {
		return domain.Order{}, err
	}

	order, err = txrunner.Do(ctx, s.tx, "create_order", func(ctx context.Context, repos domain.Repositories) (domain.Order, error) {
		if _, err := repos.Customers().Get(ctx, draft.CustomerID); err != nil {
			return domain.Order{}, err
		}

		changes, err := s.applier.Apply(ctx, repos.Products(), stock.ComputeDelta(nil, draft.Items))
		if err != nil {
			return domain.Order{}, err
		}

		created, err := repos.Orders().Create(ctx, draft)
		if err != nil {
			return domain.Order{}, fmt.Errorf("insert order: %w", err)
		}
		if err := s.enqueue(ctx, repos, domain.EventOrderCreated, created, changes); err != nil {
			return domain.Order{}, err
		}
		return created, nil
	})
	if err != nil {
		s.logFailure(err, "create order", log.Fields{"customer_id": in.CustomerID})
		return domain.Order{}, err
	}

	s.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"customer_id": order.CustomerID,
		"items":       len(order.Items),
		"total_minor": order.TotalMinor,
	}).Info("order created")
	return order, nil
}

// UpdateOrder заменяет позиции и статус заказа. Остатки меняются на разницу между
// текущим и новым набором позиций; текущий набор читается с блокировкой строки
// в той же транзакции.
func (s *Service) UpdateOrder(ctx context.Context, orderID int64, in UpdateOrderInput) (order domain.Order, err error) {
	ctx, span := s.startSpan(ctx, "orders.UpdateOrder", attribute.Int64("order.id", orderID))
	defer func() { endSpan(span, err) }()

	replaceItems := in.Items != nil
	items := detachItems(in.Items)
	if replaceItems {
		if err := domain.NewValidationError(domain.ValidateItems(items)); err != nil {
			return domain.Order{}, err
		}
	}

	order, err = txrunner.Do(ctx, s.tx, "update_order", func(ctx context.Context, repos domain.Repositories) (domain.Order, error) {
		current, err := repos.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return domain.Order{}, err
		}

		next := current.Clone()
		next.Status = statusOrDefault(in.Status, current.Status)

		var changes []domain.StockChange
		if replaceItems {
			changes, err = s.applier.Apply(ctx, repos.Products(), stock.ComputeDelta(current.Items, items))
			if err != nil {
				return domain.Order{}, err
			}
			next.Items = append([]domain.OrderItem(nil), items...)
			next.TotalMinor = domain.ItemsTotal(next.Items)
		}
		if err := domain.NewValidationError(next.ValidateInvariants()); err != nil {
			return domain.Order{}, err
		}

		saved, err := repos.Orders().Save(ctx, next)
		if err != nil {
			return domain.Order{}, fmt.Errorf("save order: %w", err)
		}
		if err := s.enqueue(ctx, repos, domain.EventOrderUpdated, saved, changes); err != nil {
			return domain.Order{}, err
		}
		return saved, nil
	})
	if err != nil {
		s.logFailure(err, "update order", log.Fields{"order_id": orderID})
		return domain.Order{}, err
	}

	s.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"version":  order.Version,
		"status":   order.Status,
	}).Info("order updated")
	return order, nil
}

// DeleteOrder удаляет заказ и возвращает все его позиции на склад.
// Удаление отсутствующего заказа не считается ошибкой.
func (s *Service) DeleteOrder(ctx context.Context, orderID int64) (err error) {
	ctx, span := s.startSpan(ctx, "orders.DeleteOrder", attribute.Int64("order.id", orderID))
	defer func() { endSpan(span, err) }()

	deleted := false
	err = s.tx.Run(ctx, "delete_order", func(ctx context.Context, repos domain.Repositories) error {
		deleted = false
		current, err := repos.Orders().GetForUpdate(ctx, orderID)
		if errors.Is(err, domain.ErrOrderNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		changes, err := s.applier.Apply(ctx, repos.Products(), stock.ComputeDelta(current.Items, nil))
		if err != nil {
			return err
		}
		if err := repos.Orders().Delete(ctx, orderID); err != nil {
			return fmt.Errorf("delete order: %w", err)
		}
		if err := s.enqueue(ctx, repos, domain.EventOrderDeleted, current, changes); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		s.logFailure(err, "delete order", log.Fields{"order_id": orderID})
		return err
	}

	if deleted {
		s.logger.WithField("order_id", orderID).Info("order deleted")
	} else {
		s.logger.WithField("order_id", orderID).Debug("order already absent, nothing to delete")
	}
	return nil
}

// GetOrder возвращает заказ с позициями.
func (s *Service) GetOrder(ctx context.Context, orderID int64) (domain.Order, error) {
	return txrunner.Do(ctx, s.tx, "get_order", func(ctx context.Context, repos domain.Repositories) (domain.Order, error) {
		return repos.Orders().Get(ctx, orderID)
	})
}

// ListOrders возвращает заказы по фильтру, новые первыми.
func (s *Service) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultListLimit
	case filter.Limit > maxListLimit:
		filter.Limit = maxListLimit
	}
	filter.Status = strings.TrimSpace(filter.Status)

	return txrunner.Do(ctx, s.tx, "list_orders", func(ctx context.Context, repos domain.Repositories) ([]domain.Order, error) {
		return repos.Orders().List(ctx, filter)
	})
}

func (s *Service) enqueue(ctx context.Context, repos domain.Repositories, eventType string, order domain.Order, changes []domain.StockChange) error {
	msg, err := domain.NewOrderEventMessage(eventType, order, changes, s.now())
	if err != nil {
		return err
	}
	if _, err := repos.Outbox().Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("enqueue %s: %w", eventType, err)
	}
	return nil
}

func (s *Service) logFailure(err error, action string, fields log.Fields) {
	entry := s.logger.WithError(err).WithFields(fields)
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInsufficientStock),
		domain.IsNotFound(err),
		errors.Is(err, context.Canceled):
		entry.Debugf("%s rejected", action)
	default:
		entry.Errorf("%s failed", action)
	}
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// detachItems копирует позиции и сбрасывает идентификаторы, назначаемые хранилищем.
func detachItems(items []domain.OrderItem) []domain.OrderItem {
	if items == nil {
		return nil
	}
	out := make([]domain.OrderItem, len(items))
	for i, item := range items {
		out[i] = domain.OrderItem{
			ProductID:      item.ProductID,
			Quantity:       item.Quantity,
			UnitPriceMinor: item.UnitPriceMinor,
		}
	}
	return out
}

func statusOrDefault(status, fallback string) string {
	if status = strings.TrimSpace(status); status != "" {
		return status
	}
	return fallback
}
