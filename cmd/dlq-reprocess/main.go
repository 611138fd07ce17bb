// Command dlq-reprocess разбирает DLQ сервиса заказов и возвращает письма в исходные топики.
//
// В DLQ попадают два вида писем: команды корректировки остатков, которые
// consumer отклонил (kafka.DeadLetter), и события заказов, которые outbox не
// смог опубликовать (domain.OutboxDeadLetter внутри outbox-конверта). Перед
// повтором каждое письмо проверяется заново: команда через ParseStockCommand,
// событие через разбор domain.OrderEvent. Без --execute только печатает кандидатов.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/vladislavdragonenkov/stockorders/internal/app"
	"github.com/vladislavdragonenkov/stockorders/internal/domain"
	"github.com/vladislavdragonenkov/stockorders/internal/messaging/kafka"
)

const (
	defaultLimit       = 100
	defaultIdleTimeout = 2 * time.Second

	envBrokers = "OMS_KAFKA_BROKERS"

	headerReplayedAt   = "x-replayed-at"
	headerReplayedFrom = "x-replayed-from"
)

type letterKind string

const (
	kindAny          letterKind = "any"
	kindStockCommand letterKind = "stock-command"
	kindOrderEvent   letterKind = "order-event"
)

func parseKind(raw string) (letterKind, error) {
	switch kind := letterKind(strings.TrimSpace(raw)); kind {
	case "", kindAny:
		return kindAny, nil
	case kindStockCommand, kindOrderEvent:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown kind %q (want any, stock-command or order-event)", raw)
	}
}

// errForeignLetter помечает сообщения, которые этот сервис в DLQ не клал.
var errForeignLetter = errors.New("not a stockorders dead letter")

// letter — разобранное DLQ-письмо, готовое к повтору.
type letter struct {
	kind       letterKind
	eventType  string
	orderID    int64
	productIDs []int64
	reason     string
	failedAt   time.Time

	topic   string
	key     string
	value   []byte
	headers []sarama.RecordHeader
}

// filter отбирает письма для повтора. Нулевые поля не ограничивают выборку.
type filter struct {
	kind      letterKind
	eventType string
	productID int64
	orderID   int64
	since     time.Time
}

func (f filter) match(l letter) bool {
	switch {
	case f.kind != kindAny && f.kind != l.kind:
		return false
	case f.eventType != "" && f.eventType != l.eventType:
		return false
	case f.orderID != 0 && f.orderID != l.orderID:
		return false
	case f.productID != 0 && !slices.Contains(l.productIDs, f.productID):
		return false
	case !f.since.IsZero() && l.failedAt.Before(f.since):
		return false
	default:
		return true
	}
}

type config struct {
	brokers     []string
	dlqTopic    string
	eventsTopic string
	limit       int
	execute     bool
	idleTimeout time.Duration
	filter      filter
}

func readConfig(args []string, getenv func(string) string, now time.Time) (config, error) {
	var (
		cfg        config
		brokersRaw string
		kindRaw    string
		since      time.Duration
	)

	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.StringVar(&brokersRaw, "brokers", "", "Kafka brokers, comma-separated (fallback: "+envBrokers+")")
	fs.StringVar(&cfg.dlqTopic, "dlq-topic", kafka.TopicDeadLetterQueue, "dead letter topic to scan")
	fs.StringVar(&cfg.eventsTopic, "events-topic", kafka.TopicOrderEvents, "topic for replayed order events")
	fs.StringVar(&kindRaw, "kind", string(kindAny), "letters to replay: any, stock-command or order-event")
	fs.StringVar(&cfg.filter.eventType, "event-type", "", "replay only order events of this type")
	fs.Int64Var(&cfg.filter.productID, "product-id", 0, "replay only letters touching this product")
	fs.Int64Var(&cfg.filter.orderID, "order-id", 0, "replay only events of this order")
	fs.DurationVar(&since, "since", 0, "replay only letters that failed within this window")
	fs.IntVar(&cfg.limit, "limit", defaultLimit, "max number of dlq messages to scan")
	fs.BoolVar(&cfg.execute, "execute", false, "publish replays; default is dry-run")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this idle period")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = getenv(envBrokers)
	}
	cfg.brokers = app.Config{KafkaBrokers: brokersRaw}.Brokers()

	kind, err := parseKind(kindRaw)
	if err != nil {
		return config{}, err
	}
	cfg.filter.kind = kind

	switch {
	case len(cfg.brokers) == 0:
		return config{}, fmt.Errorf("kafka brokers are required (--brokers or %s)", envBrokers)
	case strings.TrimSpace(cfg.dlqTopic) == "":
		return config{}, errors.New("dlq-topic is required")
	case strings.TrimSpace(cfg.eventsTopic) == "":
		return config{}, errors.New("events-topic is required")
	case cfg.filter.eventType != "" && !domain.IsOrderEventType(cfg.filter.eventType):
		return config{}, fmt.Errorf("unknown event type %q", cfg.filter.eventType)
	case cfg.filter.eventType != "" && kind == kindStockCommand:
		return config{}, errors.New("event-type filter applies to order events only")
	case cfg.filter.productID < 0 || cfg.filter.orderID < 0:
		return config{}, errors.New("product-id and order-id must not be negative")
	case since < 0:
		return config{}, errors.New("since must not be negative")
	case cfg.limit <= 0:
		return config{}, errors.New("limit must be > 0")
	case cfg.idleTimeout <= 0:
		return config{}, errors.New("idle-timeout must be > 0")
	}
	if since > 0 {
		cfg.filter.since = now.Add(-since)
	}
	return cfg, nil
}

// decodeLetter распознаёт письмо по полям верхнего уровня и проверяет содержимое заново.
func decodeLetter(value []byte, eventsTopic string, now time.Time) (letter, error) {
	var head struct {
		OriginalTopic string `json:"original_topic"`
		EventType     string `json:"event_type"`
	}
	if err := json.Unmarshal(value, &head); err != nil {
		return letter{}, fmt.Errorf("%w: %v", errForeignLetter, err)
	}
	switch {
	case head.OriginalTopic != "":
		return decodeStockCommandLetter(value)
	case head.EventType != "":
		return decodeOrderEventLetter(value, eventsTopic, now)
	default:
		return letter{}, errForeignLetter
	}
}

func decodeStockCommandLetter(value []byte) (letter, error) {
	var dead kafka.DeadLetter
	if err := json.Unmarshal(value, &dead); err != nil {
		return letter{}, fmt.Errorf("decode dead letter: %w", err)
	}
	if dead.OriginalTopic != kafka.TopicStockCommands {
		return letter{}, fmt.Errorf("%w: original topic %q", errForeignLetter, dead.OriginalTopic)
	}

	cmd, err := kafka.ParseStockCommand(dead.OriginalValue)
	if err != nil {
		return letter{}, err
	}
	normalized, err := json.Marshal(cmd)
	if err != nil {
		return letter{}, fmt.Errorf("encode stock command: %w", err)
	}

	return letter{
		kind:       kindStockCommand,
		productIDs: []int64{cmd.ProductID},
		reason:     dead.ErrorMessage,
		failedAt:   dead.FailedAt,
		topic:      dead.OriginalTopic,
		key:        firstSet(dead.OriginalKey, strconv.FormatInt(cmd.ProductID, 10)),
		value:      normalized,
	}, nil
}

func decodeOrderEventLetter(value []byte, eventsTopic string, now time.Time) (letter, error) {
	var envelope kafka.OutboxEnvelope
	if err := json.Unmarshal(value, &envelope); err != nil {
		return letter{}, fmt.Errorf("decode outbox envelope: %w", err)
	}
	var dead domain.OutboxDeadLetter
	if err := json.Unmarshal(envelope.Payload, &dead); err != nil {
		return letter{}, fmt.Errorf("decode outbox dead letter: %w", err)
	}
	eventType := firstSet(dead.EventType, envelope.EventType)
	if !domain.IsOrderEventType(eventType) {
		return letter{}, fmt.Errorf("%w: event type %q", errForeignLetter, eventType)
	}

	var event domain.OrderEvent
	if err := json.Unmarshal(dead.Payload, &event); err != nil {
		return letter{}, fmt.Errorf("decode %s payload: %w", eventType, err)
	}
	if event.OrderID <= 0 {
		return letter{}, fmt.Errorf("%s payload has no order_id", eventType)
	}

	replay := kafka.OutboxEnvelope{
		ID:            firstSet(dead.OutboxID, envelope.ID),
		AggregateType: firstSet(dead.AggregateType, envelope.AggregateType, domain.AggregateTypeOrder),
		AggregateID:   firstSet(dead.AggregateID, strconv.FormatInt(event.OrderID, 10)),
		EventType:     eventType,
		Payload:       dead.Payload,
		OccurredAt:    event.OccurredAt,
		PublishedAt:   now,
	}
	encoded, err := json.Marshal(replay)
	if err != nil {
		return letter{}, fmt.Errorf("encode replay envelope: %w", err)
	}

	return letter{
		kind:       kindOrderEvent,
		eventType:  eventType,
		orderID:    event.OrderID,
		productIDs: eventProducts(event),
		reason:     dead.PublishError,
		failedAt:   dead.DLQPublishedAt,
		topic:      eventsTopic,
		key:        replay.AggregateID,
		value:      encoded,
		headers: []sarama.RecordHeader{
			{Key: []byte(kafka.HeaderEventType), Value: []byte(replay.EventType)},
			{Key: []byte(kafka.HeaderEventID), Value: []byte(replay.ID)},
		},
	}, nil
}

// eventProducts собирает товары из позиций и изменений остатков события.
func eventProducts(event domain.OrderEvent) []int64 {
	ids := make([]int64, 0, len(event.Items)+len(event.StockChanges))
	for _, item := range event.Items {
		ids = append(ids, item.ProductID)
	}
	for _, change := range event.StockChanges {
		ids = append(ids, change.ProductID)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// firstSet возвращает первое непустое значение.
func firstSet(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

type summary struct {
	scanned  int
	matched  int
	filtered int
	invalid  int
	foreign  int
}

type replayer struct {
	cfg      config
	consumer sarama.Consumer
	producer sarama.SyncProducer
	now      func() time.Time
	summary  summary
}

func (r *replayer) run(ctx context.Context) error {
	if r.cfg.execute && r.producer == nil {
		return errors.New("producer is required in execute mode")
	}

	partitions, err := r.consumer.Partitions(r.cfg.dlqTopic)
	if err != nil {
		return fmt.Errorf("list partitions of %s: %w", r.cfg.dlqTopic, err)
	}
	slices.Sort(partitions)

	for _, partition := range partitions {
		if r.summary.scanned >= r.cfg.limit {
			break
		}
		if err := r.scanPartition(ctx, partition); err != nil {
			return err
		}
	}
	return nil
}

// scanPartition читает партицию с начала до high water mark, лимита или простоя.
func (r *replayer) scanPartition(ctx context.Context, partition int32) error {
	pc, err := r.consumer.ConsumePartition(r.cfg.dlqTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(r.cfg.idleTimeout)
	defer idle.Stop()

	for r.summary.scanned < r.cfg.limit {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case consumerErr, ok := <-pc.Errors():
			if ok && consumerErr != nil {
				return fmt.Errorf("partition %d: %w", partition, consumerErr)
			}
		case msg, ok := <-pc.Messages():
			if !ok {
				return nil
			}
			idle.Reset(r.cfg.idleTimeout)
			if err := r.handle(msg); err != nil {
				return err
			}
			if msg.Offset+1 >= pc.HighWaterMarkOffset() {
				return nil
			}
		case <-idle.C:
			return nil
		}
	}
	return nil
}

func (r *replayer) handle(msg *sarama.ConsumerMessage) error {
	r.summary.scanned++
	entry := log.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	l, err := decodeLetter(msg.Value, r.cfg.eventsTopic, r.now())
	switch {
	case errors.Is(err, errForeignLetter):
		r.summary.foreign++
		entry.WithError(err).Debug("skip foreign message")
		return nil
	case err != nil:
		r.summary.invalid++
		entry.WithError(err).Warn("skip dead letter that no longer validates")
		return nil
	case !r.cfg.filter.match(l):
		r.summary.filtered++
		return nil
	}

	r.summary.matched++
	entry = entry.WithFields(log.Fields{
		"kind":         l.kind,
		"target_topic": l.topic,
		"key":          l.key,
		"reason":       l.reason,
	})
	if !r.cfg.execute {
		entry.Info("replay candidate")
		return nil
	}
	if err := r.publish(l, msg); err != nil {
		return fmt.Errorf("replay %s/%d/%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
	}
	entry.Info("dead letter replayed")
	return nil
}

func (r *replayer) publish(l letter, source *sarama.ConsumerMessage) error {
	now := r.now()
	headers := append(slices.Clone(l.headers),
		sarama.RecordHeader{Key: []byte(headerReplayedAt), Value: []byte(now.Format(time.RFC3339))},
		sarama.RecordHeader{
			Key:   []byte(headerReplayedFrom),
			Value: fmt.Appendf(nil, "%s/%d/%d", source.Topic, source.Partition, source.Offset),
		},
	)
	_, _, err := r.producer.SendMessage(&sarama.ProducerMessage{
		Topic:     l.topic,
		Key:       sarama.StringEncoder(l.key),
		Value:     sarama.ByteEncoder(l.value),
		Headers:   headers,
		Timestamp: now,
	})
	return err
}

// dial открывает consumer и, в режиме execute, idempotent producer.
var dial = func(cfg config) (sarama.Consumer, sarama.SyncProducer, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Return.Errors = true
	consumer, err := sarama.NewConsumer(cfg.brokers, consumerConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	if !cfg.execute {
		return consumer, nil, nil
	}

	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Return.Successes = true
	producerConfig.Producer.Idempotent = true
	producerConfig.Net.MaxOpenRequests = 1
	producer, err := sarama.NewSyncProducer(cfg.brokers, producerConfig)
	if err != nil {
		_ = consumer.Close()
		return nil, nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return consumer, producer, nil
}

func run(ctx context.Context, cfg config) (summary, error) {
	consumer, producer, err := dial(cfg)
	if err != nil {
		return summary{}, err
	}
	defer func() {
		if producer != nil {
			_ = producer.Close()
		}
		_ = consumer.Close()
	}()

	r := &replayer{
		cfg:      cfg,
		consumer: consumer,
		producer: producer,
		now:      func() time.Time { return time.Now().UTC() },
	}
	err = r.run(ctx)

	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}
	log.WithFields(log.Fields{
		"mode":     mode,
		"scanned":  r.summary.scanned,
		"matched":  r.summary.matched,
		"filtered": r.summary.filtered,
		"invalid":  r.summary.invalid,
		"foreign":  r.summary.foreign,
	}).Info("dlq scan finished")
	return r.summary, err
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := readConfig(os.Args[1:], os.Getenv, time.Now().UTC())
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.WithError(err).Fatal("invalid arguments")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	_, err = run(ctx, cfg)
	stop()
	if err != nil {
		log.WithError(err).Fatal("dlq replay failed")
	}
}
