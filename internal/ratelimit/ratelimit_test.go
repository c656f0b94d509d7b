package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(start time.Time) (*MemoryLimiter, *time.Time) {
	now := start
	l := NewMemoryLimiter()
	l.now = func() time.Time { return now }
	return l, &now
}

func TestTryAdmit_CapacityExhausts(t *testing.T) {
	l, _ := newTestLimiter(time.Unix(1_700_000_000, 0))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, err := l.TryAdmit(ctx, "u1:standard", 5, time.Minute, 1)
		require.NoError(t, err)
		require.True(t, ok, "admission %d should be granted", i+1)
	}

	ok, err := l.TryAdmit(ctx, "u1:standard", 5, time.Minute, 1)
	require.NoError(t, err)
	assert.False(t, ok, "sixth admission in the same window must be denied")
}

func TestTryAdmit_WindowBoundaryRefills(t *testing.T) {
	l, now := newTestLimiter(time.Unix(1_700_000_000, 0).Truncate(time.Minute))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, _ := l.TryAdmit(ctx, "u1", 5, time.Minute, 1)
		require.True(t, ok)
	}
	ok, _ := l.TryAdmit(ctx, "u1", 5, time.Minute, 1)
	require.False(t, ok)

	// Mid-window passage never refills.
	*now = now.Add(30 * time.Second)
	ok, _ = l.TryAdmit(ctx, "u1", 5, time.Minute, 1)
	require.False(t, ok)

	// Crossing the boundary refills to full capacity.
	*now = now.Add(31 * time.Second)
	for i := 0; i < 5; i++ {
		ok, _ := l.TryAdmit(ctx, "u1", 5, time.Minute, 1)
		require.True(t, ok)
	}
}

func TestTryAdmit_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(time.Unix(1_700_000_000, 0))
	ctx := context.Background()

	ok, _ := l.TryAdmit(ctx, "u1", 1, time.Minute, 1)
	require.True(t, ok)
	ok, _ = l.TryAdmit(ctx, "u1", 1, time.Minute, 1)
	require.False(t, ok)

	ok, _ = l.TryAdmit(ctx, "u2", 1, time.Minute, 1)
	assert.True(t, ok)
}

func TestTryAdmit_CostAboveRemainingDenied(t *testing.T) {
	l, _ := newTestLimiter(time.Unix(1_700_000_000, 0))
	ctx := context.Background()

	ok, _ := l.TryAdmit(ctx, "u1", 5, time.Minute, 4)
	require.True(t, ok)

	// One token left; a cost-2 request is denied, tokens never go negative.
	ok, _ = l.TryAdmit(ctx, "u1", 5, time.Minute, 2)
	require.False(t, ok)

	ok, _ = l.TryAdmit(ctx, "u1", 5, time.Minute, 1)
	assert.True(t, ok)
}

func TestTryAdmit_ConcurrentLastToken(t *testing.T) {
	l, _ := newTestLimiter(time.Unix(1_700_000_000, 0))
	ctx := context.Background()

	const attempts = 50
	var wg sync.WaitGroup
	granted := make(chan struct{}, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.TryAdmit(ctx, "u1", 5, time.Minute, 1); ok {
				granted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(granted)

	n := 0
	for range granted {
		n++
	}
	assert.Equal(t, 5, n, "exactly capacity admissions may succeed")
}
