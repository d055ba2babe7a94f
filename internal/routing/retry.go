package routing

import (
	"context"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var retryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "routing_retry_attempts_total",
	Help: "Retry attempts by error kind",
}, []string{"kind"})

// BackoffPolicy computes the delay before each retry: exponential base 2
// from BaseDelay, plus bounded jitter proportional to the delay. With the
// defaults the schedule is 1.0s+(0-0.1s), 2.0s+(0-0.2s), 4.0s+(0-0.4s).
type BackoffPolicy struct {
	BaseDelay  time.Duration
	JitterFrac float64
	// randFloat and sleep are injectable for deterministic tests.
	randFloat func() float64
	sleep     func(ctx context.Context, d time.Duration) error
}

func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		BaseDelay:  time.Second,
		JitterFrac: 0.1,
		randFloat:  rand.Float64,
		sleep:      sleepContext,
	}
}

// Delay returns the backoff before the given retry (1-based).
func (p BackoffPolicy) Delay(retry int) time.Duration {
	base := p.BaseDelay << (retry - 1)
	jitter := time.Duration(p.randFloat() * p.JitterFrac * float64(base))
	return base + jitter
}

// Wait sleeps for the computed delay, honoring an explicit server hint
// (Retry-After) over the schedule, and aborting early on context
// cancellation.
func (p BackoffPolicy) Wait(ctx context.Context, retry int, lastErr error) error {
	delay := p.Delay(retry)
	if hint, ok := retryAfterHint(lastErr); ok {
		delay = hint
	}
	return p.sleep(ctx, delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
