package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// TestTelemetry records spans and metrics in memory for assertions.
type TestTelemetry struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	spanRecorder   *tracetest.SpanRecorder
	reader         *sdkmetric.ManualReader
}

// NewTestTelemetry builds an in-memory telemetry instance for tests.
func NewTestTelemetry() *TestTelemetry {
	sr := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	return &TestTelemetry{
		tracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)),
		meterProvider:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		spanRecorder:   sr,
		reader:         reader,
	}
}

// Tracer returns a tracer whose spans are captured by the recorder.
func (tt *TestTelemetry) Tracer(name string) trace.Tracer {
	return tt.tracerProvider.Tracer(name)
}

// Meter returns a meter whose instruments are captured by the reader.
func (tt *TestTelemetry) Meter(name string) metric.Meter {
	return tt.meterProvider.Meter(name)
}

// TracerProvider exposes the recording provider.
func (tt *TestTelemetry) TracerProvider() trace.TracerProvider {
	return tt.tracerProvider
}

// MeterProvider exposes the recording provider.
func (tt *TestTelemetry) MeterProvider() metric.MeterProvider {
	return tt.meterProvider
}

// EndedSpans returns all spans ended so far.
func (tt *TestTelemetry) EndedSpans() []sdktrace.ReadOnlySpan {
	return tt.spanRecorder.Ended()
}

// AssertSpanExists fails the test unless a span with the given name ended.
func (tt *TestTelemetry) AssertSpanExists(t *testing.T, name string) {
	t.Helper()
	for _, span := range tt.spanRecorder.Ended() {
		if span.Name() == name {
			return
		}
	}
	t.Errorf("expected span %q, got %d other spans", name, len(tt.spanRecorder.Ended()))
}

// Collect drains the manual reader into rm.
func (tt *TestTelemetry) Collect(ctx context.Context, rm *metricdata.ResourceMetrics) error {
	return tt.reader.Collect(ctx, rm)
}

// MetricNames returns the names of all collected metrics.
func (tt *TestTelemetry) MetricNames(ctx context.Context) ([]string, error) {
	var rm metricdata.ResourceMetrics
	if err := tt.reader.Collect(ctx, &rm); err != nil {
		return nil, err
	}
	var names []string
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			names = append(names, m.Name)
		}
	}
	return names, nil
}

// Shutdown stops both providers.
func (tt *TestTelemetry) Shutdown(ctx context.Context) error {
	if err := tt.tracerProvider.Shutdown(ctx); err != nil {
		return err
	}
	return tt.meterProvider.Shutdown(ctx)
}
