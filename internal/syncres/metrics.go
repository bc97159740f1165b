package syncres

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records lock acquisition outcomes and wait times.
type Metrics struct {
	acquisitions metric.Int64Counter
	timeouts     metric.Int64Counter
	waitDuration metric.Float64Histogram
}

// NewMetrics creates lock instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	acquisitions, err := meter.Int64Counter(
		"syncres.acquisitions",
		metric.WithDescription("Lock acquisition attempts by outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating acquisitions counter: %w", err)
	}

	timeouts, err := meter.Int64Counter(
		"syncres.timeouts",
		metric.WithDescription("Lock acquisitions that timed out or were cancelled"),
		metric.WithUnit("{timeout}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating timeouts counter: %w", err)
	}

	waitDuration, err := meter.Float64Histogram(
		"syncres.wait_duration",
		metric.WithDescription("Time spent waiting to acquire locks"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating wait duration histogram: %w", err)
	}

	return &Metrics{
		acquisitions: acquisitions,
		timeouts:     timeouts,
		waitDuration: waitDuration,
	}, nil
}

func (m *Metrics) recordAcquisition(ctx context.Context, name string, pri Priority, waited time.Duration, acquired bool) {
	outcome := "acquired"
	if !acquired {
		outcome = "timeout"
	}
	attrs := metric.WithAttributes(
		attribute.String("lock", name),
		attribute.String("priority", pri.String()),
		attribute.String("outcome", outcome),
	)
	m.acquisitions.Add(ctx, 1, attrs)
	m.waitDuration.Record(ctx, waited.Seconds(), attrs)
	if !acquired {
		m.timeouts.Add(ctx, 1, metric.WithAttributes(
			attribute.String("lock", name),
			attribute.String("priority", pri.String()),
		))
	}
}
