package realtime

import (
	"math/rand"
	"time"
)

// BackoffPolicy is the retry schedule shared by the client-side reconnection
// supervisor and the server's own retry loops. After a transport loss the
// client re-authenticates with a fresh token and resyncs state from the
// battle progress snapshot; nothing is replayed.
type BackoffPolicy struct {
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	Jitter      float64 // fraction of the delay randomised, 0..1
	MaxAttempts int
}

// DefaultBackoffPolicy mirrors the schedule the web client ships with.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Initial:     500 * time.Millisecond,
		Max:         15 * time.Second,
		Multiplier:  2,
		Jitter:      0.2,
		MaxAttempts: 6,
	}
}

// Delay returns the wait before the given 1-indexed attempt.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return p.jittered(p.Initial)
	}

	delay := float64(p.Initial)
	for i := 1; i < attempt; i++ {
		delay *= p.Multiplier
		if time.Duration(delay) >= p.Max {
			return p.jittered(p.Max)
		}
	}
	return p.jittered(time.Duration(delay))
}

// Exhausted reports whether the supervisor should give up after the given
// number of attempts and surface a permanent disconnected state.
func (p BackoffPolicy) Exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}

func (p BackoffPolicy) jittered(d time.Duration) time.Duration {
	if p.Jitter <= 0 {
		return d
	}
	spread := float64(d) * p.Jitter
	return d + time.Duration((rand.Float64()*2-1)*spread)
}
