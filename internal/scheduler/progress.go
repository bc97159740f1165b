package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/redactd/internal/logging"
	"github.com/fyrsmithlabs/redactd/internal/syncres"
)

// ProgressFunc receives item completions: the item's index, the batch
// operation id, and the fraction of the batch finished so far.
type ProgressFunc func(index int, operationID string, fraction float64)

// progressState tracks batch completion counters. All mutation happens
// under the batch's progress lock.
type progressState struct {
	total     int
	completed int
	failed    int

	operationID string
	lock        *syncres.Lock
	logger      *logging.Logger
	callback    ProgressFunc
	logEvery    int
}

func newProgressState(total int, operationID string, reg *syncres.Registry, logger *logging.Logger, callback ProgressFunc, logEvery int) *progressState {
	if logEvery <= 0 {
		logEvery = 10
	}
	return &progressState{
		total:       total,
		operationID: operationID,
		lock:        reg.Get("progress:" + operationID),
		logger:      logger,
		callback:    callback,
		logEvery:    logEvery,
	}
}

// record marks one item done. Progress still advances if the lock
// cannot be taken; the update proceeds unsynchronized with a warning
// rather than stalling the batch.
func (p *progressState) record(ctx context.Context, index int, failed bool) {
	held := p.lock.AcquireTimeout(time.Second, syncres.PriorityNormal)
	if !held {
		p.logger.Warn(ctx, "recording progress without lock",
			zap.String("operation_id", p.operationID),
			zap.Int("index", index),
		)
	}

	// completed and failed are disjoint; their sum never exceeds total.
	if failed {
		p.failed++
	} else {
		p.completed++
	}
	completed, failedCount := p.completed, p.failed

	if held {
		p.lock.Release()
	}

	processed := completed + failedCount
	if p.callback != nil {
		p.callback(index, p.operationID, float64(processed)/float64(p.total))
	}

	if processed%p.logEvery == 0 || processed == p.total {
		p.logger.Debug(ctx, "batch progress",
			zap.String("operation_id", p.operationID),
			zap.Int("completed", completed),
			zap.Int("failed", failedCount),
			zap.Int("total", p.total),
		)
	}
}
