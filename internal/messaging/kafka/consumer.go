package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/eapache/go-resiliency/retrier"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockorders/internal/metrics"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 200 * time.Millisecond
)

// MessageHandler обрабатывает сообщение из Kafka
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent помечает ошибку обработки как неповторяемую: сообщение сразу уходит в DLQ.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent сообщает, помечена ли ошибка как неповторяемая.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Consumer читает consumer group, повторяет обработку и отправляет
// необработанные сообщения в Dead Letter Queue.
type Consumer struct {
	consumer   sarama.ConsumerGroup
	topics     []string
	handler    MessageHandler
	logger     *log.Entry
	wg         sync.WaitGroup
	dlq        *Producer
	dlqTopic   string
	maxRetries int
	retryDelay time.Duration
	retrier    *retrier.Retrier
	metrics    *metrics.ConsumerMetrics
	now        func() time.Time
}

// ConsumerOption настраивает Consumer.
type ConsumerOption func(*Consumer)

// WithDLQ включает отправку в DLQ; пустой topic означает TopicDeadLetterQueue.
func WithDLQ(producer *Producer, topic string) ConsumerOption {
	return func(c *Consumer) {
		c.dlq = producer
		c.dlqTopic = topic
	}
}

// WithMaxRetries задаёт число повторов после первой неудачной попытки.
func WithMaxRetries(n int) ConsumerOption {
	return func(c *Consumer) { c.maxRetries = n }
}

// WithRetryDelay задаёт паузу между повторами.
func WithRetryDelay(d time.Duration) ConsumerOption {
	return func(c *Consumer) { c.retryDelay = d }
}

// WithConsumerLogger задаёт logger.
func WithConsumerLogger(logger *log.Entry) ConsumerOption {
	return func(c *Consumer) { c.logger = logger }
}

// WithConsumerMetrics задаёт метрики обработки.
func WithConsumerMetrics(m *metrics.ConsumerMetrics) ConsumerOption {
	return func(c *Consumer) { c.metrics = m }
}

// NewConsumer создаёт consumer group.
func NewConsumer(brokers []string, groupID string, topics []string, handler MessageHandler, options ...ConsumerOption) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	return newConsumer(group, topics, handler, options...), nil
}

func newConsumer(group sarama.ConsumerGroup, topics []string, handler MessageHandler, options ...ConsumerOption) *Consumer {
	c := &Consumer{
		consumer:   group,
		topics:     topics,
		handler:    handler,
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(c)
	}
	if c.logger == nil {
		c.logger = log.WithField("component", "kafka-consumer")
	}
	if c.dlqTopic == "" {
		c.dlqTopic = TopicDeadLetterQueue
	}
	c.maxRetries = max(c.maxRetries, 0)
	c.retrier = retrier.New(retrier.ConstantBackoff(c.maxRetries, c.retryDelay), permanentClassifier{})
	return c
}

// Start запускает consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			// Consume возвращается при каждом rebalance.
			if err := c.consumer.Consume(ctx, c.topics, c); err != nil {
				c.logger.WithError(err).Error("error from consumer")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.consumer.Errors() {
			c.logger.WithError(err).Error("consumer error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop останавливает consumer
func (c *Consumer) Stop() error {
	if err := c.consumer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

// Setup вызывается при старте consumer session
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup вызывается при завершении consumer session
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim обрабатывает сообщения из partition
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}

			fields := log.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			}
			c.logger.WithFields(fields).Debug("received message")

			if err := c.handleMessage(session.Context(), message); err != nil {
				// Без отметки offset сообщение будет прочитано снова после rebalance.
				c.logger.WithError(err).WithFields(fields).Error("message processing failed after all retries")
				continue
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// handleMessage повторяет обработку, затем отправляет сообщение в DLQ.
// nil означает, что offset можно отметить.
func (c *Consumer) handleMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	attempts := 0
	err := c.retrier.RunCtx(ctx, func(ctx context.Context) error {
		attempts++
		if attempts > 1 {
			c.metrics.RecordMessage(message.Topic, metrics.ConsumerRetried)
		}
		return c.handler(ctx, message)
	})
	if err == nil {
		c.metrics.RecordMessage(message.Topic, metrics.ConsumerProcessed)
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	entry := c.logger.WithError(err).WithFields(log.Fields{
		"topic":     message.Topic,
		"attempts":  attempts,
		"permanent": IsPermanent(err),
	})
	if c.dlq == nil {
		c.metrics.RecordMessage(message.Topic, metrics.ConsumerFailed)
		return err
	}
	if dlqErr := c.sendToDLQ(ctx, message, err, attempts); dlqErr != nil {
		c.metrics.RecordMessage(message.Topic, metrics.ConsumerFailed)
		return fmt.Errorf("failed to send to DLQ: %w", dlqErr)
	}
	c.metrics.RecordMessage(message.Topic, metrics.ConsumerDLQ)
	entry.Warn("message sent to DLQ")
	return nil
}

func (c *Consumer) sendToDLQ(ctx context.Context, message *sarama.ConsumerMessage, processingErr error, attempts int) error {
	failedAt := c.now()
	letter := DeadLetter{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		ErrorMessage:      processingErr.Error(),
		Attempts:          attempts,
		FailedAt:          failedAt,
	}
	if len(message.Value) > 0 && json.Valid(message.Value) {
		letter.OriginalValue = message.Value
	}

	return c.dlq.PublishEvent(ctx, c.dlqTopic, string(message.Key), letter,
		header(HeaderOriginalTopic, message.Topic),
		header(HeaderErrorMessage, processingErr.Error()),
		header(HeaderRetryCount, strconv.Itoa(attempts-1)),
		header(HeaderFailedAt, failedAt.Format(time.RFC3339)),
	)
}

type permanentClassifier struct{}

func (permanentClassifier) Classify(err error) retrier.Action {
	switch {
	case err == nil:
		return retrier.Succeed
	case IsPermanent(err), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return retrier.Fail
	default:
		return retrier.Retry
	}
}
