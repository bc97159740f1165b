package fanout

import (
	"context"

	"github.com/fyrsmithlabs/redactd/internal/extraction"
	"github.com/fyrsmithlabs/redactd/pkg/redaction"
)

// Request is one unit of work dispatched to every engine.
type Request struct {
	// Document is the extracted text the engines scan.
	Document extraction.Document

	// Types narrows detection to the requested entity types. Empty
	// means every type the engine knows.
	Types []string
}

// Detection is one engine's output for a request.
type Detection struct {
	Entities []redaction.Entity
	Mapping  redaction.Mapping
}

// ContextDetector is a detection engine that honors cancellation.
type ContextDetector interface {
	Name() string
	Detect(ctx context.Context, req Request) (Detection, error)
}

// BlockingDetector is a detection engine with no cancellation support.
// The fan-out offloads it to a goroutine and abandons it on timeout.
type BlockingDetector interface {
	Name() string
	DetectBlocking(req Request) (Detection, error)
}

// engine tags a registered detector with its invocation style. The tag
// is fixed at registration; no capability probing happens at run time.
type engine struct {
	name     string
	ctxAware ContextDetector
	blocking BlockingDetector
}

func (e engine) detect(ctx context.Context, req Request) (Detection, error) {
	if e.ctxAware != nil {
		return e.ctxAware.Detect(ctx, req)
	}

	type outcome struct {
		det Detection
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		det, err := e.blocking.DetectBlocking(req)
		done <- outcome{det: det, err: err}
	}()

	select {
	case out := <-done:
		return out.det, out.err
	case <-ctx.Done():
		return Detection{}, ctx.Err()
	}
}
