package txrunner

import (
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/stockorders/internal/metrics"
)

// RetryConfig задаёт политику повторов при временных ошибках хранилища.
type RetryConfig struct {
	// MaxAttempts — общее число попыток, включая первую.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// Jitter — доля случайного разброса задержки, от 0 до 1.
	Jitter float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 25 * time.Millisecond,
		MaxDelay:     500 * time.Millisecond,
		Jitter:       0.2,
	}
}

func (c RetryConfig) normalized() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		c.Jitter = 0
	}
	return c
}

// Options задаёт зависимости Runner.
type Options struct {
	Logger  *log.Entry
	Metrics *metrics.TxMetrics
	Tracer  trace.Tracer
	Retry   RetryConfig
}

// Option настраивает Runner.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики транзакций.
func WithMetrics(m *metrics.TxMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithTracer задаёт OpenTelemetry tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(opts *Options) {
		opts.Tracer = tracer
	}
}

// WithRetryConfig задаёт политику повторов.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(opts *Options) {
		opts.Retry = cfg
	}
}
