package scheduler

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/redactd/internal/logging"
	"github.com/fyrsmithlabs/redactd/pkg/redaction"
)

// PageResult pairs one input page with its redaction output.
type PageResult struct {
	Number   int
	Page     redaction.Page
	Entities []redaction.Entity
}

type pageOutput struct {
	page     redaction.Page
	entities []redaction.Entity
}

// ProcessPages runs process over document pages concurrently.
//
// The output has exactly one entry per input page, in input order. A
// page whose processor fails or times out gets an empty redaction page
// for its number instead of aborting the document; the failure is
// logged and reflected nowhere else.
func ProcessPages[T any](ctx context.Context, pages []T, number func(T) int, process func(context.Context, T) (redaction.Page, []redaction.Entity, error), opts ...BatchOption) []PageResult {
	if len(pages) == 0 {
		return []PageResult{}
	}

	logger := loggerFromOptions(opts)
	batch := ProcessInParallel(ctx, pages, func(ctx context.Context, page T) (pageOutput, error) {
		p, entities, err := process(ctx, page)
		return pageOutput{page: p, entities: entities}, err
	}, opts...)

	byIndex := make(map[int]Result[pageOutput], len(batch.Results))
	for _, res := range batch.Results {
		byIndex[res.Index] = res
	}

	out := make([]PageResult, len(pages))
	for i, page := range pages {
		n := number(page)
		res, ok := byIndex[i]
		if !ok || !res.OK() {
			var err error
			if ok {
				err = res.Err
			}
			logger.Warn(ctx, "page processing failed, substituting empty result",
				zap.String("operation_id", batch.OperationID),
				zap.Int("page", n),
				zap.Error(err),
			)
			out[i] = PageResult{
				Number: n,
				Page:   redaction.Page{Page: n, Sensitive: []redaction.Entity{}},
			}
			continue
		}
		out[i] = PageResult{
			Number:   n,
			Page:     res.Value.page,
			Entities: res.Value.entities,
		}
	}
	return out
}

func loggerFromOptions(opts []BatchOption) *logging.Logger {
	o := batchOptions{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o.logger
}
