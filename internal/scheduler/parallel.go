package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/fyrsmithlabs/redactd/internal/logging"
	"github.com/fyrsmithlabs/redactd/internal/syncres"
)

var (
	// ErrItemTimeout marks a result whose processor exceeded the
	// per-item deadline.
	ErrItemTimeout = errors.New("item processing timed out")

	// ErrBatchTimeout marks results abandoned when the batch deadline
	// expired before the item finished.
	ErrBatchTimeout = errors.New("batch deadline expired before item completed")
)

const (
	defaultItemTimeoutFloor   = time.Second
	defaultItemTimeoutCeiling = 10 * time.Minute
)

// Result is one item's outcome, tagged with the index it was submitted
// under. Value is meaningful only when Err is nil.
type Result[R any] struct {
	Index int
	Value R
	Err   error
}

// OK reports whether the item produced a value.
func (r Result[R]) OK() bool { return r.Err == nil }

// Batch is the outcome of one ProcessInParallel call. Results are in
// completion order; use Result.Index to map back to inputs.
type Batch[R any] struct {
	OperationID string
	Results     []Result[R]
	Successful  int
	Failed      int

	// Partial is set when the batch deadline expired and in-flight
	// items were abandoned. Abandoned items have no Result entry but
	// are counted in Failed.
	Partial bool

	Elapsed time.Duration
}

// BatchOption configures one ProcessInParallel call.
type BatchOption func(*batchOptions)

type batchOptions struct {
	workers       int
	workerOpts    []WorkerOption
	batchTimeout  time.Duration
	itemTimeout   time.Duration
	operationID   string
	progress      ProgressFunc
	progressEvery int
	logger        *logging.Logger
	registry      *syncres.Registry
	metrics       *Metrics
}

// WithWorkers fixes the pool width instead of calling OptimalWorkers.
func WithWorkers(n int) BatchOption {
	return func(o *batchOptions) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithWorkerOptions forwards sizing options to OptimalWorkers.
func WithWorkerOptions(opts ...WorkerOption) BatchOption {
	return func(o *batchOptions) { o.workerOpts = opts }
}

// WithBatchTimeout bounds the whole batch. Zero means no deadline.
func WithBatchTimeout(d time.Duration) BatchOption {
	return func(o *batchOptions) { o.batchTimeout = d }
}

// WithItemTimeout bounds each item. Zero derives a default from the
// batch timeout.
func WithItemTimeout(d time.Duration) BatchOption {
	return func(o *batchOptions) { o.itemTimeout = d }
}

// WithOperationID fixes the batch operation id instead of generating one.
func WithOperationID(id string) BatchOption {
	return func(o *batchOptions) {
		if id != "" {
			o.operationID = id
		}
	}
}

// WithProgress installs a per-completion callback.
func WithProgress(fn ProgressFunc) BatchOption {
	return func(o *batchOptions) { o.progress = fn }
}

// WithProgressEvery sets how many completions pass between progress
// log lines.
func WithProgressEvery(n int) BatchOption {
	return func(o *batchOptions) { o.progressEvery = n }
}

// WithBatchLogger sets the batch logger.
func WithBatchLogger(logger *logging.Logger) BatchOption {
	return func(o *batchOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithBatchRegistry supplies the lock registry for batch counters.
func WithBatchRegistry(reg *syncres.Registry) BatchOption {
	return func(o *batchOptions) {
		if reg != nil {
			o.registry = reg
		}
	}
}

// WithBatchMetrics attaches scheduler metrics.
func WithBatchMetrics(m *Metrics) BatchOption {
	return func(o *batchOptions) { o.metrics = m }
}

// ProcessInParallel runs processor over items with bounded concurrency.
//
// Every item runs under its own deadline; a slow, failing, or panicking
// processor yields a Result with Err set and never aborts the batch.
// When the batch deadline expires, completed results are returned with
// Partial set and the batch context is cancelled; items that ignore
// the cancellation keep running in the background unobserved.
func ProcessInParallel[T, R any](ctx context.Context, items []T, processor func(context.Context, T) (R, error), opts ...BatchOption) Batch[R] {
	o := batchOptions{
		logger:        logging.NewNop(),
		operationID:   uuid.NewString(),
		progressEvery: 10,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = syncres.NewRegistry("batch:" + o.operationID)
	}

	batch := Batch[R]{OperationID: o.operationID, Results: []Result[R]{}}
	if len(items) == 0 {
		return batch
	}

	workers := o.workers
	if workers <= 0 {
		workers = OptimalWorkers(len(items), o.workerOpts...)
	}
	itemTimeout := o.itemTimeout
	if itemTimeout <= 0 {
		itemTimeout = deriveItemTimeout(o.batchTimeout)
	}

	var (
		batchCtx context.Context
		cancel   context.CancelFunc
	)
	if o.batchTimeout > 0 {
		batchCtx, cancel = context.WithTimeout(ctx, o.batchTimeout)
	} else {
		batchCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	o.logger.Debug(ctx, "starting batch",
		zap.String("operation_id", o.operationID),
		zap.Int("items", len(items)),
		zap.Int("workers", workers),
		zap.Duration("item_timeout", itemTimeout),
	)

	progress := newProgressState(len(items), o.operationID, o.registry, o.logger, o.progress, o.progressEvery)
	sem := semaphore.NewWeighted(int64(workers))
	results := make(chan Result[R], len(items))
	start := time.Now()

	for i, item := range items {
		go runItem(batchCtx, i, item, processor, sem, itemTimeout, progress, o, results)
	}

	for range items {
		select {
		case res := <-results:
			batch.Results = append(batch.Results, res)
			if res.OK() {
				batch.Successful++
			} else {
				batch.Failed++
			}
		case <-batchCtx.Done():
			batch.Partial = true
			cancel()
			// Drain whatever finished before the deadline without
			// waiting for stragglers.
			for drained := false; !drained; {
				select {
				case res := <-results:
					batch.Results = append(batch.Results, res)
					if res.OK() {
						batch.Successful++
					} else {
						batch.Failed++
					}
				default:
					drained = true
				}
			}
			batch.Failed += len(items) - len(batch.Results)
			o.logger.Warn(ctx, "batch deadline expired with items in flight",
				zap.String("operation_id", o.operationID),
				zap.Int("completed", len(batch.Results)),
				zap.Int("abandoned", len(items)-len(batch.Results)),
			)
			batch.Elapsed = time.Since(start)
			o.metrics.recordBatch(ctx, batch.Partial, batch.Elapsed)
			return batch
		}
	}

	batch.Elapsed = time.Since(start)
	o.logger.Debug(ctx, "batch complete",
		zap.String("operation_id", o.operationID),
		zap.Int("successful", batch.Successful),
		zap.Int("failed", batch.Failed),
		zap.Duration("elapsed", batch.Elapsed),
	)
	o.metrics.recordBatch(ctx, batch.Partial, batch.Elapsed)
	return batch
}

func runItem[T, R any](batchCtx context.Context, index int, item T, processor func(context.Context, T) (R, error), sem *semaphore.Weighted, itemTimeout time.Duration, progress *progressState, o batchOptions, results chan<- Result[R]) {
	if err := sem.Acquire(batchCtx, 1); err != nil {
		results <- Result[R]{Index: index, Err: fmt.Errorf("%w: %v", ErrBatchTimeout, err)}
		return
	}
	defer sem.Release(1)

	itemCtx, cancel := context.WithTimeout(batchCtx, itemTimeout)
	defer cancel()

	itemStart := time.Now()
	done := make(chan Result[R], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error(itemCtx, "processor panicked",
					zap.String("operation_id", o.operationID),
					zap.Int("index", index),
					zap.Any("panic", r),
				)
				done <- Result[R]{Index: index, Err: fmt.Errorf("processor panicked: %v", r)}
			}
		}()
		value, err := processor(itemCtx, item)
		done <- Result[R]{Index: index, Value: value, Err: err}
	}()

	var res Result[R]
	select {
	case res = <-done:
	case <-itemCtx.Done():
		// The processor goroutine may still be running; itemCtx tells
		// it to stop but nothing waits for it.
		err := ErrItemTimeout
		if batchCtx.Err() != nil {
			err = ErrBatchTimeout
		}
		res = Result[R]{Index: index, Err: err}
	}

	o.metrics.recordItem(batchCtx, time.Since(itemStart), res.OK())
	progress.record(batchCtx, index, !res.OK())
	results <- res
}

// deriveItemTimeout picks a per-item deadline from the batch deadline:
// half the batch, bounded to [1s, 10m]. With no batch deadline the
// ceiling applies.
func deriveItemTimeout(batchTimeout time.Duration) time.Duration {
	if batchTimeout <= 0 {
		return defaultItemTimeoutCeiling
	}
	d := batchTimeout / 2
	if d < defaultItemTimeoutFloor {
		return defaultItemTimeoutFloor
	}
	if d > defaultItemTimeoutCeiling {
		return defaultItemTimeoutCeiling
	}
	return d
}
