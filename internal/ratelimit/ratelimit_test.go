package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntervalFromRPM(t *testing.T) {
	l := New(30)
	assert.Equal(t, 2*time.Second, l.Interval("GET /tenants"))

	l.SetRPM("POST /roles", 600)
	assert.Equal(t, 100*time.Millisecond, l.Interval("POST /roles"))
	assert.Equal(t, 2*time.Second, l.Interval("GET /tenants"))
}

func TestWaitSpacesCallsPerEndpoint(t *testing.T) {
	l := New(1200) // 50ms spacing
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "a"))
	require.NoError(t, l.Wait(ctx, "b")) // other endpoint, no wait
	assert.Less(t, time.Since(start), 40*time.Millisecond)

	require.NoError(t, l.Wait(ctx, "a"))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestDisabled(t *testing.T) {
	l := New(0)
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Wait(ctx, "x"))
	}
	assert.Less(t, time.Since(start), 20*time.Millisecond)
}

func TestWaitHonoursContext(t *testing.T) {
	l := New(1) // one per minute
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	require.NoError(t, l.Wait(ctx, "slow"))
	assert.Error(t, l.Wait(ctx, "slow"))
}
