package admission

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/redactd/internal/syncres"
)

func testConfig() Config {
	return Config{
		MaxDaily:      5,
		MaxConcurrent: 2,
		MinDelay:      0,
		HistorySize:   3,
	}
}

func newTestController(t *testing.T, cfg Config, opts ...Option) *Controller {
	t.Helper()
	opts = append([]Option{WithRegistry(syncres.NewRegistry("test:" + t.Name()))}, opts...)
	c, err := NewController(cfg, opts...)
	require.NoError(t, err)
	return c
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, testConfig().Validate())

	bad := testConfig()
	bad.MaxDaily = 0
	assert.Error(t, bad.Validate())

	bad = testConfig()
	bad.MaxConcurrent = -1
	assert.Error(t, bad.Validate())

	bad = testConfig()
	bad.MinDelay = -time.Second
	assert.Error(t, bad.Validate())

	bad = testConfig()
	bad.HistorySize = 0
	assert.Error(t, bad.Validate())
}

func TestAcquireRejectsInvalidUnitID(t *testing.T) {
	c := newTestController(t, testConfig())

	err := c.Acquire(context.Background(), "")
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	err = c.Acquire(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	assert.Zero(t, c.Usage().DailyCount)
}

func TestConcurrentLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrent = 1
	c := newTestController(t, cfg)
	ctx := context.Background()

	require.NoError(t, c.Acquire(ctx, uuid.NewString()))

	err := c.Acquire(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	c.Release()
	assert.NoError(t, c.Acquire(ctx, uuid.NewString()))
}

func TestDailyLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxDaily = 2
	cfg.MaxConcurrent = 10
	c := newTestController(t, cfg)
	ctx := context.Background()

	require.NoError(t, c.Acquire(ctx, uuid.NewString()))
	require.NoError(t, c.Acquire(ctx, uuid.NewString()))

	err := c.Acquire(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	// Concurrency slots free up but the daily budget stays spent.
	c.Release()
	c.Release()
	err = c.Acquire(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestDailyReset(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	cfg := testConfig()
	cfg.MaxDaily = 1
	c := newTestController(t, cfg, withClock(clock))
	ctx := context.Background()

	require.NoError(t, c.Acquire(ctx, uuid.NewString()))
	c.Release()

	// Still inside the 24h window.
	now = now.Add(23 * time.Hour)
	assert.ErrorIs(t, c.Acquire(ctx, uuid.NewString()), ErrQuotaExceeded)

	// Past the window the counter resets.
	now = now.Add(2 * time.Hour)
	assert.NoError(t, c.Acquire(ctx, uuid.NewString()))
	assert.Equal(t, 1, c.Usage().DailyCount)
}

func TestMinDelayEnforced(t *testing.T) {
	cfg := testConfig()
	cfg.MinDelay = 80 * time.Millisecond
	c := newTestController(t, cfg)
	ctx := context.Background()

	require.NoError(t, c.Acquire(ctx, uuid.NewString()))
	c.Release()

	start := time.Now()
	require.NoError(t, c.Acquire(ctx, uuid.NewString()))
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestMinDelayCancellable(t *testing.T) {
	cfg := testConfig()
	cfg.MinDelay = 10 * time.Second
	c := newTestController(t, cfg)

	require.NoError(t, c.Acquire(context.Background(), uuid.NewString()))
	c.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := c.Acquire(ctx, uuid.NewString())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrQuotaExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestReleaseClampedAtZero(t *testing.T) {
	c := newTestController(t, testConfig())

	assert.NotPanics(t, func() {
		c.Release()
		c.Release()
	})
	assert.Zero(t, c.Usage().ConcurrentCount)

	require.NoError(t, c.Acquire(context.Background(), uuid.NewString()))
	assert.Equal(t, 1, c.Usage().ConcurrentCount)
}

func TestHistoryBounded(t *testing.T) {
	cfg := testConfig()
	cfg.MaxDaily = 100
	cfg.MaxConcurrent = 100
	cfg.HistorySize = 3
	c := newTestController(t, cfg)
	ctx := context.Background()

	ids := make([]string, 5)
	for i := range ids {
		ids[i] = uuid.NewString()
		require.NoError(t, c.Acquire(ctx, ids[i]))
	}

	history := c.History()
	require.Len(t, history, 3)
	assert.Equal(t, ids[2], history[0].UnitID)
	assert.Equal(t, ids[4], history[2].UnitID)
}

func TestUsageSnapshot(t *testing.T) {
	c := newTestController(t, testConfig())
	require.NoError(t, c.Acquire(context.Background(), uuid.NewString()))

	u := c.Usage()
	assert.Equal(t, 1, u.DailyCount)
	assert.Equal(t, 1, u.ConcurrentCount)
	assert.Equal(t, 5, u.MaxDaily)
	assert.Equal(t, 2, u.MaxConcurrent)
	assert.False(t, u.LastRequestTime.IsZero())
}
