package fanout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/redactd/internal/audit"
	"github.com/fyrsmithlabs/redactd/internal/telemetry"
	"github.com/fyrsmithlabs/redactd/pkg/redaction"
)

type stubDetector struct {
	name    string
	det     Detection
	err     error
	delay   time.Duration
	honors  bool
	invoked chan struct{}
}

func (d *stubDetector) Name() string { return d.name }

func (d *stubDetector) Detect(ctx context.Context, req Request) (Detection, error) {
	if d.invoked != nil {
		close(d.invoked)
	}
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			if d.honors {
				return Detection{}, ctx.Err()
			}
		}
	}
	return d.det, d.err
}

type blockingStub struct {
	name string
	det  Detection
	err  error
}

func (d *blockingStub) Name() string { return d.name }

func (d *blockingStub) DetectBlocking(req Request) (Detection, error) {
	return d.det, d.err
}

func entity(typ string, start, end int, score float64) redaction.Entity {
	return redaction.Entity{Type: typ, Start: start, End: end, Score: score}
}

func mappingFor(page int, entities ...redaction.Entity) redaction.Mapping {
	return redaction.Mapping{Pages: []redaction.Page{{Page: page, Sensitive: entities}}}
}

func TestRunNoDetectors(t *testing.T) {
	f := New()

	out, err := f.Run(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrNoDetectors)
	assert.True(t, out.NoDetectors)
	assert.NotNil(t, out.Mapping.Pages)
	assert.Empty(t, out.Mapping.Pages)
}

func TestRunMergesEngines(t *testing.T) {
	e1 := entity("EMAIL", 0, 10, 0.9)
	e2 := entity("PERSON", 20, 30, 0.8)

	f := New()
	f.Register(&stubDetector{name: "pattern", det: Detection{
		Entities: []redaction.Entity{e1},
		Mapping:  mappingFor(1, e1),
	}})
	f.Register(&stubDetector{name: "secrets", det: Detection{
		Entities: []redaction.Entity{e2},
		Mapping:  mappingFor(1, e2),
	}})

	out, err := f.Run(context.Background(), Request{})
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.Equal(t, 2, out.SuccessCount)
	assert.Zero(t, out.FailureCount)
	assert.Len(t, out.Entities, 2)
	require.Len(t, out.Mapping.Pages, 1)
	assert.Len(t, out.Mapping.Pages[0].Sensitive, 2)
}

func TestRunOneEngineTimesOut(t *testing.T) {
	surviving := entity("EMAIL", 0, 5, 0.95)

	f := New(WithEngineTimeout(50 * time.Millisecond))
	f.Register(&stubDetector{name: "fast", det: Detection{
		Entities: []redaction.Entity{surviving},
		Mapping:  mappingFor(1, surviving),
	}})
	f.Register(&stubDetector{name: "slow", delay: 5 * time.Second, honors: true})

	start := time.Now()
	out, err := f.Run(context.Background(), Request{})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)

	assert.True(t, out.Success)
	assert.Equal(t, 1, out.SuccessCount)
	assert.Equal(t, 1, out.FailureCount)

	require.Len(t, out.Entities, 1)
	assert.Equal(t, "EMAIL", out.Entities[0].Type)

	for _, er := range out.Engines {
		if er.Name == "slow" {
			assert.False(t, er.Success)
			assert.Error(t, er.Err)
		}
	}
}

func TestRunAllEnginesFail(t *testing.T) {
	f := New()
	f.Register(&stubDetector{name: "a", err: errors.New("down")})
	f.Register(&stubDetector{name: "b", err: errors.New("also down")})

	out, err := f.Run(context.Background(), Request{})
	require.NoError(t, err, "external engine failure is not a caller error")

	assert.False(t, out.Success)
	assert.Zero(t, out.SuccessCount)
	assert.Equal(t, 2, out.FailureCount)
	assert.Empty(t, out.Entities)
	assert.NotNil(t, out.Mapping.Pages)
	assert.Empty(t, out.Mapping.Pages)
}

func TestRunBlockingDetectorOffloaded(t *testing.T) {
	e := entity("IBAN", 3, 25, 0.7)

	f := New()
	f.RegisterBlocking(&blockingStub{name: "legacy", det: Detection{
		Entities: []redaction.Entity{e},
		Mapping:  mappingFor(2, e),
	}})

	out, err := f.Run(context.Background(), Request{})
	require.NoError(t, err)
	assert.True(t, out.Success)
	require.Len(t, out.Mapping.Pages, 1)
	assert.Equal(t, 2, out.Mapping.Pages[0].Page)
}

func TestRunDeduplicatesAcrossEngines(t *testing.T) {
	low := entity("EMAIL", 0, 10, 0.5)
	high := entity("EMAIL", 0, 10, 0.9)

	f := New()
	f.Register(&stubDetector{name: "a", det: Detection{Entities: []redaction.Entity{low}, Mapping: mappingFor(1, low)}})
	f.Register(&stubDetector{name: "b", det: Detection{Entities: []redaction.Entity{high}, Mapping: mappingFor(1, high)}})

	out, err := f.Run(context.Background(), Request{})
	require.NoError(t, err)

	// Entities are deduplicated (highest score wins), the mapping keeps
	// the concatenated view for the caller to dedupe explicitly.
	require.Len(t, out.Entities, 1)
	assert.Equal(t, 0.9, out.Entities[0].Score)
	require.Len(t, out.Mapping.Pages, 1)
	assert.Len(t, out.Mapping.Pages[0].Sensitive, 2)

	deduped := redaction.DeduplicateMapping(out.Mapping)
	assert.Len(t, deduped.Pages[0].Sensitive, 1)
}

func TestRunRecordsAudit(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	defer tt.Shutdown(context.Background())

	sink, err := audit.NewMetricSink(tt.Meter("audit"))
	require.NoError(t, err)

	e := entity("EMAIL", 0, 4, 0.9)
	f := New(WithAuditSink(sink), WithTracer(tt.Tracer("fanout")))
	f.Register(&stubDetector{name: "pattern", det: Detection{Entities: []redaction.Entity{e}, Mapping: mappingFor(1, e)}})

	_, err = f.Run(context.Background(), Request{})
	require.NoError(t, err)

	names, err := tt.MetricNames(context.Background())
	require.NoError(t, err)
	assert.Contains(t, names, "audit.operations")
	tt.AssertSpanExists(t, "fanout.engine")
	tt.AssertSpanExists(t, "fanout.run")
}

func TestEngineNames(t *testing.T) {
	f := New()
	f.Register(&stubDetector{name: "pattern"})
	f.RegisterBlocking(&blockingStub{name: "legacy"})
	assert.Equal(t, []string{"pattern", "legacy"}, f.EngineNames())
}
