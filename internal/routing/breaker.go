package routing

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var breakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "routing_breaker_transitions_total",
	Help: "Circuit breaker state transitions",
}, []string{"endpoint", "to"})

// BreakerState is the circuit state for one endpoint.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "closed"
}

// Breaker is a per-endpoint circuit breaker. Closed passes everything and
// counts consecutive failures; at the threshold it opens and rejects calls
// without touching the network until the timeout elapses, then admits a
// single half-open trial. Keyed by endpoint, never by graph, so one crashed
// instance does not affect callers of any other instance.
type Breaker struct {
	endpoint  string
	threshold int
	timeout   time.Duration
	now       func() time.Time

	mu                  sync.Mutex
	state               BreakerState
	consecutiveFailures int
	openedAt            time.Time
	trialInFlight       bool
}

func NewBreaker(endpoint string, threshold int, timeout time.Duration) *Breaker {
	return &Breaker{
		endpoint:  endpoint,
		threshold: threshold,
		timeout:   timeout,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed, returning a CircuitOpenError
// when it may not. In half-open state exactly one trial call is admitted.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		remaining := b.timeout - b.now().Sub(b.openedAt)
		if remaining > 0 {
			return &CircuitOpenError{Endpoint: b.endpoint, RetryAfter: remaining}
		}
		b.transition(StateHalfOpen)
		b.trialInFlight = true
		return nil
	default: // half-open
		if b.trialInFlight {
			return &CircuitOpenError{Endpoint: b.endpoint, RetryAfter: 0}
		}
		b.trialInFlight = true
		return nil
	}
}

// RecordSuccess resets the breaker to closed with a zero failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateClosed {
		b.transition(StateClosed)
	}
	b.consecutiveFailures = 0
	b.trialInFlight = false
}

// RecordNeutral records an outcome that says nothing about instance health,
// such as a caller fault the instance served correctly. The state and failure
// count are untouched, but a half-open trial slot is released so the next
// call can probe the endpoint.
func (b *Breaker) RecordNeutral() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trialInFlight = false
}

// RecordFailure counts an instance-health failure. Caller faults must not be
// recorded here; the client filters them before calling.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		// Failed trial: back to open with a fresh timeout window.
		b.transition(StateOpen)
		b.openedAt = b.now()
		b.trialInFlight = false
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.threshold {
			b.transition(StateOpen)
			b.openedAt = b.now()
		}
	}
}

// State returns the current state, performing the open -> half_open
// transition check so observers see the same state a caller would.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.timeout {
		return StateHalfOpen
	}
	return b.state
}

func (b *Breaker) transition(to BreakerState) {
	b.state = to
	breakerTransitions.WithLabelValues(b.endpoint, to.String()).Inc()
}

// BreakerSet holds one breaker per endpoint, created on first use.
type BreakerSet struct {
	threshold int
	timeout   time.Duration

	mu       sync.Mutex
	breakers map[string]*Breaker
}

func NewBreakerSet(threshold int, timeout time.Duration) *BreakerSet {
	return &BreakerSet{
		threshold: threshold,
		timeout:   timeout,
		breakers:  make(map[string]*Breaker),
	}
}

func (s *BreakerSet) For(endpoint string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[endpoint]
	if !ok {
		b = NewBreaker(endpoint, s.threshold, s.timeout)
		s.breakers[endpoint] = b
	}
	return b
}
