// Package admission guards quota-bound detection engines with daily and
// concurrent request limits plus minimum inter-request spacing.
package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/redactd/internal/logging"
	"github.com/fyrsmithlabs/redactd/internal/syncres"
)

// ErrQuotaExceeded is returned when a request cannot be admitted.
var ErrQuotaExceeded = errors.New("quota exceeded")

const usageLockName = "admission:usage"

// Config bounds the protected downstream engine.
type Config struct {
	// MaxDaily caps admissions per day. The day resets 24h after the
	// previous reset, not on a rolling window.
	MaxDaily int

	// MaxConcurrent caps in-flight admissions.
	MaxConcurrent int

	// MinDelay is the minimum spacing between admissions.
	MinDelay time.Duration

	// HistorySize bounds the admission history log.
	HistorySize int
}

// Validate checks the limits.
func (c Config) Validate() error {
	if c.MaxDaily <= 0 {
		return fmt.Errorf("max daily must be positive, got %d", c.MaxDaily)
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("max concurrent must be positive, got %d", c.MaxConcurrent)
	}
	if c.MinDelay < 0 {
		return fmt.Errorf("min delay must not be negative, got %v", c.MinDelay)
	}
	if c.HistorySize <= 0 {
		return fmt.Errorf("history size must be positive, got %d", c.HistorySize)
	}
	return nil
}

// HistoryEntry records one admission.
type HistoryEntry struct {
	UnitID string
	Time   time.Time
}

// Usage is a point-in-time snapshot of the controller's counters.
type Usage struct {
	DailyCount      int
	DailyResetTime  time.Time
	ConcurrentCount int
	LastRequestTime time.Time
	MaxDaily        int
	MaxConcurrent   int
}

// usageSlot is the process-scoped quota state, mutated only under the
// usage lock.
type usageSlot struct {
	dailyCount      int
	dailyResetTime  time.Time
	concurrentCount int
	lastRequestTime time.Time
	history         []HistoryEntry
}

// Controller admits or rejects units of work against the configured
// quota. One controller protects one downstream engine for the life of
// the process.
type Controller struct {
	cfg     Config
	slot    usageSlot
	lock    *syncres.Lock
	logger  *logging.Logger
	metrics *Metrics

	// now is replaced in tests.
	now func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics attaches admission metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithRegistry supplies the lock registry guarding the usage slot.
func WithRegistry(reg *syncres.Registry) Option {
	return func(c *Controller) { c.lock = reg.Get(usageLockName) }
}

func withClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController builds a controller for the given limits.
func NewController(cfg Config, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid admission config: %w", err)
	}
	c := &Controller{
		cfg:    cfg,
		logger: logging.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.lock == nil {
		c.lock = syncres.Global().Get(usageLockName)
	}
	c.slot.dailyResetTime = c.now()
	return c, nil
}

// Acquire admits unitID or fails with ErrQuotaExceeded. When less than
// the minimum delay has passed since the previous admission, Acquire
// sleeps out the remainder before admitting.
func (c *Controller) Acquire(ctx context.Context, unitID string) error {
	if _, err := uuid.Parse(unitID); err != nil {
		c.metrics.recordDecision(ctx, "invalid_unit")
		return fmt.Errorf("%w: invalid unit id %q", ErrQuotaExceeded, unitID)
	}

	if !c.lock.Acquire(ctx, syncres.PriorityHigh) {
		return fmt.Errorf("acquiring usage lock: %w", ctx.Err())
	}
	defer c.lock.Release()

	now := c.now()
	if now.Sub(c.slot.dailyResetTime) > 24*time.Hour {
		c.logger.Info(ctx, "resetting daily quota",
			zap.Int("previous_count", c.slot.dailyCount),
			zap.Time("previous_reset", c.slot.dailyResetTime),
		)
		c.slot.dailyCount = 0
		c.slot.dailyResetTime = now
	}

	if c.slot.dailyCount >= c.cfg.MaxDaily {
		c.metrics.recordDecision(ctx, "quota_daily")
		return fmt.Errorf("%w: daily limit %d reached", ErrQuotaExceeded, c.cfg.MaxDaily)
	}
	if c.slot.concurrentCount >= c.cfg.MaxConcurrent {
		c.metrics.recordDecision(ctx, "quota_concurrent")
		return fmt.Errorf("%w: concurrent limit %d reached", ErrQuotaExceeded, c.cfg.MaxConcurrent)
	}

	if !c.slot.lastRequestTime.IsZero() {
		if wait := c.cfg.MinDelay - now.Sub(c.slot.lastRequestTime); wait > 0 {
			c.metrics.recordDelay(ctx, wait)
			if err := sleep(ctx, wait); err != nil {
				return fmt.Errorf("waiting out minimum delay: %w", err)
			}
			now = c.now()
		}
	}

	c.slot.dailyCount++
	c.slot.concurrentCount++
	c.slot.lastRequestTime = now
	c.slot.history = append(c.slot.history, HistoryEntry{UnitID: unitID, Time: now})
	if len(c.slot.history) > c.cfg.HistorySize {
		c.slot.history = c.slot.history[len(c.slot.history)-c.cfg.HistorySize:]
	}

	c.metrics.recordDecision(ctx, "admitted")
	c.metrics.recordConcurrent(ctx, 1)
	return nil
}

// Release returns one concurrency slot. Releasing without a matching
// Acquire is clamped at zero.
func (c *Controller) Release() {
	ctx := context.Background()
	if !c.lock.AcquireTimeout(time.Second, syncres.PriorityHigh) {
		c.logger.Warn(ctx, "releasing admission slot without lock")
	} else {
		defer c.lock.Release()
	}

	if c.slot.concurrentCount > 0 {
		c.slot.concurrentCount--
		c.metrics.recordConcurrent(ctx, -1)
		return
	}
	c.logger.Warn(ctx, "release without matching acquire")
}

// Usage returns a snapshot of the quota counters.
func (c *Controller) Usage() Usage {
	if c.lock.AcquireTimeout(time.Second, syncres.PriorityLow) {
		defer c.lock.Release()
	}
	return Usage{
		DailyCount:      c.slot.dailyCount,
		DailyResetTime:  c.slot.dailyResetTime,
		ConcurrentCount: c.slot.concurrentCount,
		LastRequestTime: c.slot.lastRequestTime,
		MaxDaily:        c.cfg.MaxDaily,
		MaxConcurrent:   c.cfg.MaxConcurrent,
	}
}

// History returns a copy of the admission log, oldest first.
func (c *Controller) History() []HistoryEntry {
	if c.lock.AcquireTimeout(time.Second, syncres.PriorityLow) {
		defer c.lock.Release()
	}
	out := make([]HistoryEntry, len(c.slot.history))
	copy(out, c.slot.history)
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
