// Package observability настраивает трассировку OpenTelemetry с экспортом по OTLP/HTTP.
package observability

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TracerName — имя трейсера для спанов движка заказов.
	TracerName = "github.com/vladislavdragonenkov/stockorders"

	defaultTracesPath    = "/v1/traces"
	defaultExportTimeout = 5 * time.Second
	defaultMaxQueueSize  = 2048
)

// Config описывает экспорт трейсов.
type Config struct {
	// Endpoint — host:port OTLP-коллектора. Пустой отключает экспорт.
	Endpoint       string
	URLPath        string
	Insecure       bool
	ServiceName    string
	ServiceVersion string
	// SampleRatio — доля трейсов, отправляемых коллектору (0..1]. 0 означает 1.
	SampleRatio float64
}

// ShutdownFunc сбрасывает буферы и останавливает экспорт.
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// Setup настраивает глобальный TracerProvider и пропагаторы.
// Без Endpoint возвращает noop-трейсер: спаны создаются, но никуда не уходят.
func Setup(ctx context.Context, cfg Config) (trace.Tracer, ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if cfg.Endpoint == "" {
		return otel.Tracer(TracerName), noopShutdown, nil
	}

	res, err := newResource(cfg)
	if err != nil {
		return nil, nil, err
	}

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithURLPath(cmp.Or(cfg.URLPath, defaultTracesPath)),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("otlp trace exporter: %w", err)
	}

	provider := newTracerProvider(res, exporter, cfg.SampleRatio)
	otel.SetTracerProvider(provider)

	shutdown := func(ctx context.Context) error {
		return errors.Join(provider.ForceFlush(ctx), provider.Shutdown(ctx))
	}
	return provider.Tracer(TracerName), shutdown, nil
}

func newResource(cfg Config) (*resource.Resource, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cmp.Or(cfg.ServiceName, "stockorders")),
			semconv.ServiceVersion(cmp.Or(cfg.ServiceVersion, "dev")),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}
	return res, nil
}

func newTracerProvider(res *resource.Resource, exporter sdktrace.SpanExporter, ratio float64) *sdktrace.TracerProvider {
	sampler := sdktrace.AlwaysSample()
	if ratio > 0 && ratio < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter,
			sdktrace.WithExportTimeout(defaultExportTimeout),
			sdktrace.WithMaxQueueSize(defaultMaxQueueSize),
		)),
	)
}
