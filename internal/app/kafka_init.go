package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockorders/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/stockorders/internal/metrics"
)

// initKafkaProducer создаёт producer, если заданы брокеры.
// Пустой список означает работу без Kafka: nil, nil.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers, logger.WithField("layer", "kafka-producer"))
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// startStockConsumer подписывается на команды корректировки остатков.
// Неисправимые команды уходят в DLQ через тот же producer.
func startStockConsumer(
	ctx context.Context,
	cfg Config,
	adjuster kafka.StockAdjuster,
	dlq *kafka.Producer,
	m *metrics.ConsumerMetrics,
	logger *log.Entry,
) (*kafka.Consumer, error) {
	consumerLogger := logger.WithField("layer", "kafka-consumer")
	consumer, err := kafka.NewConsumer(
		cfg.Brokers(),
		cfg.KafkaConsumerGroup,
		[]string{kafka.TopicStockCommands},
		kafka.NewStockCommandHandler(adjuster, consumerLogger),
		kafka.WithDLQ(dlq, kafka.TopicDeadLetterQueue),
		kafka.WithConsumerLogger(consumerLogger),
		kafka.WithConsumerMetrics(m),
	)
	if err != nil {
		return nil, err
	}
	if err := consumer.Start(ctx); err != nil {
		_ = consumer.Stop()
		return nil, err
	}
	return consumer, nil
}

// closeKafkaProducer закрывает producer, если он создан.
func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

func stopKafkaConsumer(consumer *kafka.Consumer, logger *log.Entry) {
	if consumer == nil {
		return
	}
	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop kafka consumer")
	}
}
