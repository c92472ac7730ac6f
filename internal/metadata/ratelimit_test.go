package metadata

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestRateLimiterFirstCallImmediate(t *testing.T) {
	t.Parallel()

	l := NewRateLimiter(time.Second)
	l.Configure("src", time.Second)

	start := time.Now()
	require.NoError(t, l.WaitForSlot(context.Background(), "src"))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestRateLimiterEnforcesInterval(t *testing.T) {
	t.Parallel()

	const interval = 50 * time.Millisecond
	l := NewRateLimiter(time.Second)
	l.Configure("src", interval)

	ctx := context.Background()
	require.NoError(t, l.WaitForSlot(ctx, "src"))

	start := time.Now()
	require.NoError(t, l.WaitForSlot(ctx, "src"))
	assert.GreaterOrEqual(t, time.Since(start), interval-5*time.Millisecond)
}

func TestRateLimiterSourcesIndependent(t *testing.T) {
	t.Parallel()

	l := NewRateLimiter(time.Second)
	l.Configure("slow", time.Second)
	l.Configure("fast", time.Millisecond)

	ctx := context.Background()
	require.NoError(t, l.WaitForSlot(ctx, "slow"))

	// Exhausting "slow" must not delay "fast"
	start := time.Now()
	require.NoError(t, l.WaitForSlot(ctx, "fast"))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestRateLimiterUnknownSourceUsesFallback(t *testing.T) {
	t.Parallel()

	l := NewRateLimiter(20 * time.Millisecond)
	ctx := context.Background()
	require.NoError(t, l.WaitForSlot(ctx, "new"))
	assert.Equal(t, 20*time.Millisecond, l.Interval("new"))
}

func TestRateLimiterContextCancellation(t *testing.T) {
	t.Parallel()

	l := NewRateLimiter(time.Second)
	l.Configure("src", time.Hour)

	ctx := context.Background()
	require.NoError(t, l.WaitForSlot(ctx, "src"))

	cancelCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := l.WaitForSlot(cancelCtx, "src")
	require.Error(t, err)
}

// Concurrent callers on the same source must each get their own slot, never
// closer together than the interval, with no goroutines left behind.
func TestRateLimiterConcurrentCallers(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	const (
		callers  = 5
		interval = 20 * time.Millisecond
	)
	l := NewRateLimiter(time.Second)
	l.Configure("shared", interval)

	var (
		mu     sync.Mutex
		grants []time.Time
		wg     sync.WaitGroup
	)
	ctx := context.Background()
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, l.WaitForSlot(ctx, "shared"))
			mu.Lock()
			grants = append(grants, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, grants, callers)
	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(grants); i++ {
		for j := 0; j < i; j++ {
			gap := grants[i].Sub(grants[j])
			if gap < 0 {
				gap = -gap
			}
			assert.GreaterOrEqual(t, gap, interval-10*time.Millisecond,
				"grants %d and %d too close together", i, j)
		}
	}
}
