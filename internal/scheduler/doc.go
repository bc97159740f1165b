// Package scheduler runs batches of independent items concurrently with
// adaptive worker sizing, per-item and batch timeouts, and best-effort
// partial results.
//
// OptimalWorkers sizes a worker pool from system load readings. A
// semaphore of that width gates ProcessInParallel, which wraps every
// item so that one failing, panicking, or slow item never aborts the
// batch. When the batch deadline expires, completed results are
// returned and the batch context is cancelled; items that ignore the
// cancellation keep running in the background and are not awaited.
//
// Results carry the submitted index. The slice order is completion
// order, so callers map results back to inputs through Result.Index.
package scheduler
