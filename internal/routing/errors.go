package routing

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by the resolver when no healthy instance can be
// found for a graph. A stale or unhealthy owner is a discovery failure, not
// a routable endpoint.
var ErrNotFound = errors.New("graph location not found")

// ErrServiceUnavailable is returned by the factory when routing policy
// cannot produce any endpoint. Never retried at the factory layer.
var ErrServiceUnavailable = errors.New("no healthy instance available")

// CircuitOpenError is returned without any network attempt while an
// endpoint's breaker is open.
type CircuitOpenError struct {
	Endpoint   string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s (retry after %s)", e.Endpoint, e.RetryAfter)
}

// ErrorKind classifies a failed instance call. The classification decides
// both retriability and whether the failure counts against the endpoint's
// breaker: a bad query is a caller error, not an instance-health signal.
type ErrorKind int

const (
	KindNetwork ErrorKind = iota
	KindTimeout
	KindUnavailable // 503, backpressure or restarting engine
	KindServer      // other 5xx
	KindNotFound    // unknown database on the instance
	KindSyntax      // query rejected by the engine
	KindAuth        // bad or missing API key
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindUnavailable:
		return "unavailable"
	case KindServer:
		return "server"
	case KindNotFound:
		return "not_found"
	case KindSyntax:
		return "syntax"
	case KindAuth:
		return "auth"
	}
	return "unknown"
}

// CallError is one failed attempt against an instance endpoint.
type CallError struct {
	Kind       ErrorKind
	Endpoint   string
	StatusCode int
	Message    string
	// RetryAfter carries the server's backpressure hint on 503 responses.
	// Zero when the server gave none.
	RetryAfter time.Duration
	Err        error
}

func (e *CallError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (%d): %s", e.Endpoint, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Endpoint, e.Kind, e.Message)
}

func (e *CallError) Unwrap() error { return e.Err }

// Retriable reports whether another attempt may succeed. Circuit-open
// rejections are terminal for the current call: retrying immediately would
// defeat the breaker.
func Retriable(err error) bool {
	var coe *CircuitOpenError
	if errors.As(err, &coe) {
		return false
	}
	var ce *CallError
	if !errors.As(err, &ce) {
		return false
	}
	switch ce.Kind {
	case KindNetwork, KindTimeout, KindUnavailable, KindServer:
		return true
	}
	return false
}

// CallerFault reports whether the error is the caller's, not the
// instance's. Caller faults never count toward breaker failure thresholds.
func CallerFault(err error) bool {
	var ce *CallError
	if !errors.As(err, &ce) {
		return false
	}
	switch ce.Kind {
	case KindSyntax, KindAuth, KindNotFound:
		return true
	}
	return false
}

// retryAfterHint extracts the server-provided backpressure delay, if any.
func retryAfterHint(err error) (time.Duration, bool) {
	var ce *CallError
	if errors.As(err, &ce) && ce.RetryAfter > 0 {
		return ce.RetryAfter, true
	}
	return 0, false
}
