package kafka

import (
	"context"
	"errors"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockorders/internal/domain"
)

// StockAdjuster применяет корректировку остатка.
type StockAdjuster interface {
	AdjustStock(ctx context.Context, productID int64, delta int) (domain.Product, error)
}

// NewStockCommandHandler превращает команды из TopicStockCommands в вызовы AdjustStock.
// Повторяются только ошибки, после которых транзакция точно откатилась:
// временные сбои хранилища и отмена контекста. Остальное, включая сбой
// commit с неизвестным исходом, помечается Permanent и уходит в DLQ.
func NewStockCommandHandler(adjuster StockAdjuster, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "stock-command-handler")
	}
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		cmd, err := ParseStockCommand(message.Value)
		if err != nil {
			return Permanent(err)
		}

		product, err := adjuster.AdjustStock(ctx, cmd.ProductID, cmd.Delta)
		if err != nil {
			if retryableAdjustment(err) {
				return err
			}
			return Permanent(err)
		}

		logger.WithFields(log.Fields{
			"product_id": cmd.ProductID,
			"delta":      cmd.Delta,
			"reason":     cmd.Reason,
			"stock":      product.StockQuantity,
		}).Info("stock command applied")
		return nil
	}
}

func retryableAdjustment(err error) bool {
	return domain.IsTransient(err) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
