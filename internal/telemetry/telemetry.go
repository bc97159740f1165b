package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log"
	lnoop "go.opentelemetry.io/otel/log/noop"
	"go.opentelemetry.io/otel/metric"
	mnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tnoop "go.opentelemetry.io/otel/trace/noop"
)

// Telemetry owns the tracer and meter providers for a redactd process.
//
// A Telemetry is always usable: when disabled or degraded its accessors
// return no-op providers, so callers never need to nil-check.
type Telemetry struct {
	cfg Config

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	loggerProvider log.LoggerProvider

	sdkTracer *sdktrace.TracerProvider
	sdkMeter  *sdkmetric.MeterProvider
	sdkLogger *sdklog.LoggerProvider

	mu          sync.RWMutex
	degraded    bool
	degradedErr error
}

// New initializes telemetry from cfg.
//
// Initialization failures do not return an error: the instance degrades to
// no-op providers and reports the cause through Health. Only configuration
// errors are returned.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	t := &Telemetry{
		cfg:            cfg,
		tracerProvider: tnoop.NewTracerProvider(),
		meterProvider:  mnoop.NewMeterProvider(),
		loggerProvider: lnoop.NewLoggerProvider(),
	}
	if !cfg.Enabled {
		return t, nil
	}

	res, err := newResource(cfg)
	if err != nil {
		t.setDegraded(fmt.Errorf("building resource: %w", err))
		return t, nil
	}

	tp, err := newTracerProvider(ctx, cfg, res)
	if err != nil {
		t.setDegraded(fmt.Errorf("building tracer provider: %w", err))
		return t, nil
	}
	t.sdkTracer = tp
	t.tracerProvider = tp

	if cfg.Metrics.Enabled {
		mp, err := newMeterProvider(ctx, cfg, res)
		if err != nil {
			// Traces stay up even when metric export fails.
			t.setDegraded(fmt.Errorf("building meter provider: %w", err))
		} else {
			t.sdkMeter = mp
			t.meterProvider = mp
		}
	}

	lp, err := newLoggerProvider(ctx, cfg, res)
	if err != nil {
		t.setDegraded(fmt.Errorf("building logger provider: %w", err))
	} else {
		t.sdkLogger = lp
		t.loggerProvider = lp
	}

	otel.SetTracerProvider(t.tracerProvider)
	otel.SetMeterProvider(t.meterProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return t, nil
}

// Tracer returns a tracer for the named component.
func (t *Telemetry) Tracer(name string) trace.Tracer {
	return t.tracerProvider.Tracer(name)
}

// Meter returns a meter for the named component.
func (t *Telemetry) Meter(name string) metric.Meter {
	return t.meterProvider.Meter(name)
}

// TracerProvider exposes the provider for library integrations.
func (t *Telemetry) TracerProvider() trace.TracerProvider {
	return t.tracerProvider
}

// MeterProvider exposes the provider for library integrations.
func (t *Telemetry) MeterProvider() metric.MeterProvider {
	return t.meterProvider
}

// LoggerProvider exposes the provider for the zap log bridge.
func (t *Telemetry) LoggerProvider() log.LoggerProvider {
	return t.loggerProvider
}

// IsEnabled reports whether telemetry was configured on.
func (t *Telemetry) IsEnabled() bool {
	return t.cfg.Enabled
}

// Health reports the current telemetry state. The error is non-nil when
// the instance is degraded.
func (t *Telemetry) Health() (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.degraded {
		return false, t.degradedErr
	}
	return t.cfg.Enabled, nil
}

// ForceFlush flushes buffered spans and metrics to the exporters.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	var errs []error
	if t.sdkTracer != nil {
		if err := t.sdkTracer.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flushing traces: %w", err))
		}
	}
	if t.sdkMeter != nil {
		if err := t.sdkMeter.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flushing metrics: %w", err))
		}
	}
	if t.sdkLogger != nil {
		if err := t.sdkLogger.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flushing logs: %w", err))
		}
	}
	return joinErrs(errs)
}

// Shutdown flushes and stops the providers, bounded by the configured
// shutdown timeout.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	timeout := t.cfg.Shutdown.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error
	if t.sdkTracer != nil {
		if err := t.sdkTracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down traces: %w", err))
		}
	}
	if t.sdkMeter != nil {
		if err := t.sdkMeter.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down metrics: %w", err))
		}
	}
	if t.sdkLogger != nil {
		if err := t.sdkLogger.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down logs: %w", err))
		}
	}
	return joinErrs(errs)
}

func (t *Telemetry) setDegraded(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.degraded = true
	t.degradedErr = err
}

func joinErrs(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return fmt.Errorf("%v (and %d more)", errs[0], len(errs)-1)
	}
}
