package admission

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records admission decisions. A nil *Metrics is a no-op.
type Metrics struct {
	decisions  metric.Int64Counter
	concurrent metric.Int64UpDownCounter
	delays     metric.Float64Histogram
}

// NewMetrics creates admission instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	decisions, err := meter.Int64Counter(
		"admission.decisions",
		metric.WithDescription("Admission decisions by outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating decisions counter: %w", err)
	}

	concurrent, err := meter.Int64UpDownCounter(
		"admission.concurrent",
		metric.WithDescription("In-flight admitted units"),
		metric.WithUnit("{unit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating concurrent counter: %w", err)
	}

	delays, err := meter.Float64Histogram(
		"admission.delay",
		metric.WithDescription("Time spent waiting out the minimum inter-request delay"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating delay histogram: %w", err)
	}

	return &Metrics{decisions: decisions, concurrent: concurrent, delays: delays}, nil
}

func (m *Metrics) recordDecision(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) recordConcurrent(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.concurrent.Add(ctx, delta)
}

func (m *Metrics) recordDelay(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.delays.Record(ctx, d.Seconds())
}
