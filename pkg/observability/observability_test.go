package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(previous) })
	return recorder
}

func TestTraceRecordsSpanAndError(t *testing.T) {
	recorder := withRecorder(t)

	boom := errors.New("HTTP 503")
	err := Trace(context.Background(), "quickstats.page", func(ctx context.Context) error {
		return boom
	}, attribute.Int("offset", 50000))
	require.ErrorIs(t, err, boom)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "quickstats.page", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), attribute.Int("offset", 50000))
}

func TestSpanAttributesAppliedOnEnd(t *testing.T) {
	recorder := withRecorder(t)

	_, span := StartSpan(context.Background(), "ingest.job")
	span.SetAttribute("dataset", "corn_yield")
	span.SetAttribute("records", 42)
	span.SetAttribute("bisected", false)
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	attrs := spans[0].Attributes()
	assert.Contains(t, attrs, attribute.String("dataset", "corn_yield"))
	assert.Contains(t, attrs, attribute.Int("records", 42))
	assert.Contains(t, attrs, attribute.Bool("bisected", false))
}

func TestInitTracingStdout(t *testing.T) {
	previous := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	var out bytes.Buffer
	cfg := DefaultTracingConfig()
	cfg.Output = &out

	shutdown, err := InitTracing(cfg)
	require.NoError(t, err)

	_, span := StartSpan(context.Background(), "quickstats.fetch")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, out.String(), "quickstats.fetch")
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	cfg := DefaultTracingConfig()
	cfg.ExporterType = "zipkin"
	_, err := InitTracing(cfg)
	assert.Error(t, err)
}
