package syncres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquire(t *testing.T) {
	r := NewRegistry("test")
	lock := r.Get("usage")

	assert.True(t, lock.TryAcquire())
	assert.False(t, lock.TryAcquire())

	lock.Release()
	assert.True(t, lock.TryAcquire())
	lock.Release()
}

func TestAcquireTimeout(t *testing.T) {
	r := NewRegistry("test")
	lock := r.Get("usage")

	require.True(t, lock.AcquireTimeout(time.Second, PriorityNormal))

	// Held elsewhere, short timeout must fail without panicking.
	assert.False(t, lock.AcquireTimeout(10*time.Millisecond, PriorityHigh))

	lock.Release()
	assert.True(t, lock.AcquireTimeout(time.Second, PriorityNormal))
	lock.Release()
}

func TestAcquireTimeoutNonPositive(t *testing.T) {
	r := NewRegistry("test")
	lock := r.Get("usage")

	assert.True(t, lock.AcquireTimeout(0, PriorityNormal))
	assert.False(t, lock.AcquireTimeout(0, PriorityNormal))
	lock.Release()
}

func TestAcquireContextCancelled(t *testing.T) {
	r := NewRegistry("test")
	lock := r.Get("usage")
	require.True(t, lock.TryAcquire())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	assert.False(t, lock.Acquire(ctx, PriorityLow))
	assert.Less(t, time.Since(start), time.Second)

	lock.Release()
}

func TestReleaseUnheldDoesNotPanic(t *testing.T) {
	r := NewRegistry("test")
	lock := r.Get("usage")

	assert.NotPanics(t, func() { lock.Release() })
	assert.True(t, lock.TryAcquire())
	lock.Release()
}

func TestMutualExclusion(t *testing.T) {
	r := NewRegistry("test")
	lock := r.Get("counter")

	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.True(t, lock.Acquire(context.Background(), PriorityNormal))
			counter++
			lock.Release()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
}

func TestPriorityString(t *testing.T) {
	assert.Equal(t, "low", PriorityLow.String())
	assert.Equal(t, "normal", PriorityNormal.String())
	assert.Equal(t, "high", PriorityHigh.String())
	assert.Equal(t, "normal", Priority(42).String())
}
