package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records batch and item outcomes. A nil *Metrics is a no-op.
type Metrics struct {
	items         metric.Int64Counter
	batches       metric.Int64Counter
	itemDuration  metric.Float64Histogram
	batchDuration metric.Float64Histogram
}

// NewMetrics creates scheduler instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	items, err := meter.Int64Counter(
		"scheduler.items",
		metric.WithDescription("Items processed by outcome"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating items counter: %w", err)
	}

	batches, err := meter.Int64Counter(
		"scheduler.batches",
		metric.WithDescription("Batches processed, tagged when partial"),
		metric.WithUnit("{batch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating batches counter: %w", err)
	}

	itemDuration, err := meter.Float64Histogram(
		"scheduler.item_duration",
		metric.WithDescription("Per-item processing time"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating item duration histogram: %w", err)
	}

	batchDuration, err := meter.Float64Histogram(
		"scheduler.batch_duration",
		metric.WithDescription("End-to-end batch time"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating batch duration histogram: %w", err)
	}

	return &Metrics{
		items:         items,
		batches:       batches,
		itemDuration:  itemDuration,
		batchDuration: batchDuration,
	}, nil
}

func (m *Metrics) recordItem(ctx context.Context, elapsed time.Duration, ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.items.Add(ctx, 1, attrs)
	m.itemDuration.Record(ctx, elapsed.Seconds(), attrs)
}

func (m *Metrics) recordBatch(ctx context.Context, partial bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("partial", partial))
	m.batches.Add(ctx, 1, attrs)
	m.batchDuration.Record(ctx, elapsed.Seconds(), attrs)
}