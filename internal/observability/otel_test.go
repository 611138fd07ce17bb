package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

func TestSetup_DisabledWithoutEndpoint(t *testing.T) {
	tracer, shutdown, err := Setup(context.Background(), Config{})
	require.NoError(t, err)
	require.NotNil(t, tracer)

	_, span := tracer.Start(context.Background(), "noop")
	span.End()

	assert.NoError(t, shutdown(context.Background()))
}

func TestSetup_WithEndpoint(t *testing.T) {
	tracer, shutdown, err := Setup(context.Background(), Config{
		Endpoint:    "127.0.0.1:4318",
		Insecure:    true,
		ServiceName: "stockorders-test",
	})
	require.NoError(t, err)
	require.NotNil(t, tracer)
	// Экспорт без спанов не обращается к коллектору.
	assert.NoError(t, shutdown(context.Background()))
}

func TestTracerProvider_ExportsSpansWithResource(t *testing.T) {
	res, err := newResource(Config{ServiceName: "orders", ServiceVersion: "1.2.3"})
	require.NoError(t, err)

	exporter := tracetest.NewInMemoryExporter()
	provider := newTracerProvider(res, exporter, 0)

	_, span := provider.Tracer(TracerName).Start(context.Background(), "tx.create_order")
	span.SetAttributes(attribute.Int("tx.attempt", 1))
	span.End()

	require.NoError(t, provider.ForceFlush(context.Background()))
	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "tx.create_order", spans[0].Name)

	attrs := spans[0].Resource.Attributes()
	assert.Contains(t, attrs, semconv.ServiceName("orders"))
	assert.Contains(t, attrs, semconv.ServiceVersion("1.2.3"))

	require.NoError(t, provider.Shutdown(context.Background()))
}

func TestTracerProvider_RatioSampler(t *testing.T) {
	res, err := newResource(Config{})
	require.NoError(t, err)

	exporter := tracetest.NewInMemoryExporter()
	provider := newTracerProvider(res, exporter, 0.000001)
	for range 50 {
		_, span := provider.Tracer(TracerName).Start(context.Background(), "sampled")
		span.End()
	}
	require.NoError(t, provider.ForceFlush(context.Background()))
	assert.Less(t, len(exporter.GetSpans()), 50)
	require.NoError(t, provider.Shutdown(context.Background()))
}
