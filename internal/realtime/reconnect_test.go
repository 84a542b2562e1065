package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffDelayDoublesUpToMax(t *testing.T) {
	policy := BackoffPolicy{
		Initial:    100 * time.Millisecond,
		Max:        time.Second,
		Multiplier: 2,
	}

	require.Equal(t, 100*time.Millisecond, policy.Delay(1))
	require.Equal(t, 200*time.Millisecond, policy.Delay(2))
	require.Equal(t, 400*time.Millisecond, policy.Delay(3))
	require.Equal(t, 800*time.Millisecond, policy.Delay(4))
	require.Equal(t, time.Second, policy.Delay(5))
	require.Equal(t, time.Second, policy.Delay(20))
}

func TestBackoffJitterBounds(t *testing.T) {
	policy := BackoffPolicy{
		Initial:    time.Second,
		Max:        time.Minute,
		Multiplier: 2,
		Jitter:     0.5,
	}

	for i := 0; i < 100; i++ {
		delay := policy.Delay(1)
		require.GreaterOrEqual(t, delay, 500*time.Millisecond)
		require.LessOrEqual(t, delay, 1500*time.Millisecond)
	}
}

func TestBackoffExhausted(t *testing.T) {
	policy := DefaultBackoffPolicy()
	require.False(t, policy.Exhausted(1))
	require.False(t, policy.Exhausted(policy.MaxAttempts-1))
	require.True(t, policy.Exhausted(policy.MaxAttempts))

	unlimited := BackoffPolicy{Initial: time.Second, Max: time.Minute, Multiplier: 2}
	require.False(t, unlimited.Exhausted(1000))
}
