// Package fanout dispatches one detection request to every configured
// engine concurrently and folds their outputs into a single result.
//
// Engine failures are isolated: a crashed, erroring, or timed-out
// engine becomes a failed EngineResult while the others proceed. Only
// a fan-out with no engines at all is an error to the caller.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	tnoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/redactd/internal/audit"
	"github.com/fyrsmithlabs/redactd/internal/logging"
	"github.com/fyrsmithlabs/redactd/internal/scheduler"
	"github.com/fyrsmithlabs/redactd/pkg/redaction"
)

// ErrNoDetectors is returned when Run is called with no engines
// registered.
var ErrNoDetectors = errors.New("no detectors registered")

// DefaultEngineTimeout bounds one engine's work on one request.
const DefaultEngineTimeout = 5 * time.Minute

// EngineResult is one engine's outcome for one request.
type EngineResult struct {
	Name        string
	Success     bool
	Err         error
	Elapsed     time.Duration
	EntityCount int
}

// Outcome is the folded result of one fan-out run.
type Outcome struct {
	OperationID string

	// NoDetectors distinguishes "nothing configured" from "zero
	// entities found".
	NoDetectors bool

	// Success is false only when every engine failed.
	Success      bool
	SuccessCount int
	FailureCount int
	Engines      []EngineResult

	// Entities is the deduplicated union of all engine entities.
	Entities []redaction.Entity

	// Mapping is the merged mapping with per-page items concatenated
	// in engine completion order. Deduplicate it explicitly with
	// redaction.DeduplicateMapping when a deduplicated view is needed.
	Mapping redaction.Mapping
}

// Fanout runs a fixed set of detection engines over requests.
type Fanout struct {
	engines       []engine
	engineTimeout time.Duration
	logger        *logging.Logger
	tracer        trace.Tracer
	audit         audit.Sink
	metrics       *scheduler.Metrics
}

// Option configures a Fanout.
type Option func(*Fanout)

// WithEngineTimeout bounds each engine per request.
func WithEngineTimeout(d time.Duration) Option {
	return func(f *Fanout) {
		if d > 0 {
			f.engineTimeout = d
		}
	}
}

// WithLogger sets the fan-out logger.
func WithLogger(logger *logging.Logger) Option {
	return func(f *Fanout) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithTracer sets the tracer for per-run spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(f *Fanout) {
		if tracer != nil {
			f.tracer = tracer
		}
	}
}

// WithAuditSink receives one record per engine per request.
func WithAuditSink(sink audit.Sink) Option {
	return func(f *Fanout) {
		if sink != nil {
			f.audit = sink
		}
	}
}

// WithSchedulerMetrics forwards batch metrics to the scheduler runs.
func WithSchedulerMetrics(m *scheduler.Metrics) Option {
	return func(f *Fanout) { f.metrics = m }
}

// New builds a fan-out with no engines. Register engines before Run.
func New(opts ...Option) *Fanout {
	f := &Fanout{
		engineTimeout: DefaultEngineTimeout,
		logger:        logging.NewNop(),
		tracer:        tnoop.NewTracerProvider().Tracer("fanout"),
		audit:         audit.Nop{},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Register adds a cancellation-aware engine.
func (f *Fanout) Register(d ContextDetector) {
	f.engines = append(f.engines, engine{name: d.Name(), ctxAware: d})
}

// RegisterBlocking adds an engine without cancellation support.
func (f *Fanout) RegisterBlocking(d BlockingDetector) {
	f.engines = append(f.engines, engine{name: d.Name(), blocking: d})
}

// EngineNames lists the registered engines in registration order.
func (f *Fanout) EngineNames() []string {
	names := make([]string, len(f.engines))
	for i, e := range f.engines {
		names[i] = e.name
	}
	return names
}

// Run dispatches req to every engine and folds the results.
//
// Run returns an error only for ErrNoDetectors. External-engine
// failures, including all engines failing at once, produce a
// well-formed Outcome with Success false and an empty mapping.
func (f *Fanout) Run(ctx context.Context, req Request) (Outcome, error) {
	if len(f.engines) == 0 {
		f.logger.Warn(ctx, "fan-out invoked with no detectors registered")
		return Outcome{NoDetectors: true, Mapping: redaction.EmptyMapping()}, ErrNoDetectors
	}

	ctx, span := f.tracer.Start(ctx, "fanout.run")
	defer span.End()
	span.SetAttributes(attribute.Int("engines", len(f.engines)))

	batch := scheduler.ProcessInParallel(ctx, f.engines,
		func(ctx context.Context, e engine) (engineOutcome, error) {
			return f.runEngine(ctx, e, req), nil
		},
		scheduler.WithWorkers(len(f.engines)),
		scheduler.WithItemTimeout(f.engineTimeout+time.Second),
		scheduler.WithBatchLogger(f.logger),
		scheduler.WithBatchMetrics(f.metrics),
	)

	outcome := Outcome{OperationID: batch.OperationID}
	var mappings []redaction.Mapping
	var entities []redaction.Entity

	for _, res := range batch.Results {
		er := res.Value.result
		if !res.OK() {
			// The engine wrapper itself was cut off; synthesize a
			// failed result so the engine still appears in the report.
			er = EngineResult{Name: f.engines[res.Index].name, Err: res.Err}
		}
		outcome.Engines = append(outcome.Engines, er)
		if er.Success {
			outcome.SuccessCount++
			mappings = append(mappings, res.Value.det.Mapping)
			entities = append(entities, res.Value.det.Entities...)
		} else {
			outcome.FailureCount++
		}
	}

	outcome.Success = outcome.SuccessCount > 0
	outcome.Entities = redaction.DeduplicateEntities(entities)
	outcome.Mapping = redaction.MergeMappings(mappings...)

	if !outcome.Success {
		f.logger.Error(ctx, "all detection engines failed",
			zap.String("operation_id", outcome.OperationID),
			zap.Int("engines", len(f.engines)),
		)
	}

	return outcome, nil
}

type engineOutcome struct {
	result EngineResult
	det    Detection
}

func (f *Fanout) runEngine(ctx context.Context, e engine, req Request) engineOutcome {
	ctx, cancel := context.WithTimeout(ctx, f.engineTimeout)
	defer cancel()

	ctx, span := f.tracer.Start(ctx, "fanout.engine",
		trace.WithAttributes(attribute.String("engine", e.name)))
	defer span.End()

	start := time.Now()
	det, err := e.detect(ctx, req)
	elapsed := time.Since(start)

	result := EngineResult{Name: e.name, Elapsed: elapsed}
	if err != nil {
		result.Err = fmt.Errorf("engine %s: %w", e.name, err)
		f.logger.Warn(ctx, "detection engine failed",
			zap.String("engine", e.name),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
	} else {
		result.Success = true
		result.EntityCount = len(det.Entities)
	}

	f.audit.Record(ctx, "detect:"+e.name, elapsed, result.EntityCount, result.Success)
	return engineOutcome{result: result, det: det}
}
