// Package audit receives per-operation outcomes from the detection
// fan-out. Storage lives with the collaborator behind Sink; this
// package only defines the boundary and ships metric and no-op sinks.
package audit

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Sink receives one record per completed unit of work.
type Sink interface {
	Record(ctx context.Context, operation string, elapsed time.Duration, entityCount int, success bool)
}

// Nop discards all records.
type Nop struct{}

func (Nop) Record(context.Context, string, time.Duration, int, bool) {}

// MetricSink exports audit records as OpenTelemetry metrics.
type MetricSink struct {
	operations metric.Int64Counter
	entities   metric.Int64Counter
	duration   metric.Float64Histogram
}

// NewMetricSink creates audit instruments on the given meter.
func NewMetricSink(meter metric.Meter) (*MetricSink, error) {
	operations, err := meter.Int64Counter(
		"audit.operations",
		metric.WithDescription("Completed operations by type and outcome"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating operations counter: %w", err)
	}

	entities, err := meter.Int64Counter(
		"audit.entities_detected",
		metric.WithDescription("Sensitive entities detected per operation type"),
		metric.WithUnit("{entity}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating entities counter: %w", err)
	}

	duration, err := meter.Float64Histogram(
		"audit.operation_duration",
		metric.WithDescription("Operation processing time"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	return &MetricSink{operations: operations, entities: entities, duration: duration}, nil
}

// Record exports one operation outcome.
func (s *MetricSink) Record(ctx context.Context, operation string, elapsed time.Duration, entityCount int, success bool) {
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.Bool("success", success),
	)
	s.operations.Add(ctx, 1, attrs)
	s.duration.Record(ctx, elapsed.Seconds(), attrs)
	if entityCount > 0 {
		s.entities.Add(ctx, int64(entityCount),
			metric.WithAttributes(attribute.String("operation", operation)))
	}
}
