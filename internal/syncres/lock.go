package syncres

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/redactd/internal/logging"
)

// Priority tags a lock acquisition for metrics and logs. It has no
// effect on acquisition order.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// String returns the metric label for the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	default:
		return "normal"
	}
}

// Lock is a named mutual-exclusion primitive with bounded acquisition.
//
// The zero value is not usable; obtain locks from a Registry.
type Lock struct {
	name  string
	scope string
	ch    chan struct{}

	logger  *logging.Logger
	metrics *Metrics
}

func newLock(name, scope string, logger *logging.Logger, metrics *Metrics) *Lock {
	return &Lock{
		name:    name,
		scope:   scope,
		ch:      make(chan struct{}, 1),
		logger:  logger,
		metrics: metrics,
	}
}

// Name returns the logical name the lock was registered under.
func (l *Lock) Name() string { return l.name }

// TryAcquire attempts to take the lock without blocking.
func (l *Lock) TryAcquire() bool {
	select {
	case l.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// Acquire blocks until the lock is held or ctx is done. A false return
// means the caller does not hold the lock.
func (l *Lock) Acquire(ctx context.Context, pri Priority) bool {
	start := time.Now()
	select {
	case l.ch <- struct{}{}:
		l.record(ctx, pri, time.Since(start), true)
		return true
	case <-ctx.Done():
		l.record(ctx, pri, time.Since(start), false)
		l.logger.Warn(ctx, "lock acquisition cancelled",
			zap.String("lock", l.name),
			zap.String("priority", pri.String()),
			zap.Duration("waited", time.Since(start)),
			zap.Error(ctx.Err()),
		)
		return false
	}
}

// AcquireTimeout blocks for at most timeout. A non-positive timeout
// degrades to TryAcquire.
func (l *Lock) AcquireTimeout(timeout time.Duration, pri Priority) bool {
	if timeout <= 0 {
		ok := l.TryAcquire()
		l.record(context.Background(), pri, 0, ok)
		return ok
	}

	start := time.Now()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case l.ch <- struct{}{}:
		l.record(context.Background(), pri, time.Since(start), true)
		return true
	case <-timer.C:
		l.record(context.Background(), pri, time.Since(start), false)
		l.logger.Warn(context.Background(), "lock acquisition timed out",
			zap.String("lock", l.name),
			zap.String("priority", pri.String()),
			zap.Duration("timeout", timeout),
		)
		return false
	}
}

// Release releases the lock. Releasing a lock that is not held is
// logged and otherwise ignored.
func (l *Lock) Release() {
	select {
	case <-l.ch:
	default:
		l.logger.Warn(context.Background(), "release of unheld lock",
			zap.String("lock", l.name),
		)
	}
}

// Held reports whether the lock is currently held by someone.
func (l *Lock) Held() bool {
	return len(l.ch) == 1
}

func (l *Lock) record(ctx context.Context, pri Priority, waited time.Duration, acquired bool) {
	if l.metrics == nil {
		return
	}
	l.metrics.recordAcquisition(ctx, l.name, pri, waited, acquired)
}
