package routing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/graphfleet/internal/model"
)

func instantBackoff() BackoffPolicy {
	return BackoffPolicy{
		BaseDelay:  time.Second,
		JitterFrac: 0.1,
		randFloat:  func() float64 { return 0 },
		sleep:      func(context.Context, time.Duration) error { return nil },
	}
}

func testClient(url string, opts ClientOptions) *Client {
	opts.Backoff = instantBackoff()
	if opts.APIKey == "" {
		opts.APIKey = "test-key"
	}
	return NewClient(url, opts)
}

func TestClientQueryRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/databases/kg_abc/query", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))

		var req model.QueryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "MATCH (n) RETURN n.name", req.Query)

		json.NewEncoder(w).Encode(model.QueryResult{
			Columns: []string{"n.name"},
			Rows:    [][]any{{"acme"}},
		})
	}))
	defer srv.Close()

	c := testClient(srv.URL, ClientOptions{MaxRetries: 3})

	result, err := c.Query(context.Background(), "kg_abc", &model.QueryRequest{Query: "MATCH (n) RETURN n.name"})

	require.NoError(t, err)
	assert.Equal(t, []string{"n.name"}, result.Columns)
	require.Len(t, result.Rows, 1)
}

func TestClientRetriesServerErrorsThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, `{"error":"engine restarting"}`, http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(model.StatusSnapshot{Status: "healthy"})
	}))
	defer srv.Close()

	c := testClient(srv.URL, ClientOptions{MaxRetries: 3})

	snap, err := c.Status(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "healthy", snap.Status)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientDoesNotRetryCallerFaults(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"parse error near RETRUN"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := testClient(srv.URL, ClientOptions{MaxRetries: 3})

	_, err := c.Query(context.Background(), "kg_abc", &model.QueryRequest{Query: "RETRUN 1"})

	var ce *CallError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, KindSyntax, ce.Kind)
	assert.Equal(t, "parse error near RETRUN", ce.Message)
	assert.Equal(t, int32(1), calls.Load(), "syntax errors must not consume retry attempts")
}

func TestClientGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "1")
		http.Error(w, `{"error":"queue full"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := testClient(srv.URL, ClientOptions{MaxRetries: 2})

	err := c.Drain(context.Background())

	var ce *CallError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, KindUnavailable, ce.Kind)
	assert.Equal(t, time.Second, ce.RetryAfter)
	assert.Equal(t, int32(3), calls.Load(), "initial attempt plus two retries")
}

func TestClientCallerFaultsDoNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	breaker := NewBreaker(srv.URL, 2, time.Minute)
	c := testClient(srv.URL, ClientOptions{MaxRetries: 0, Breaker: breaker})

	for i := 0; i < 5; i++ {
		err := c.Drain(context.Background())
		var ce *CallError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, KindAuth, ce.Kind)
	}

	assert.Equal(t, StateClosed, breaker.State(), "caller faults are not instance-health signals")
}

func TestClientBreakerOpensAndShortCircuits(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	breaker := NewBreaker(srv.URL, 2, time.Minute)
	c := testClient(srv.URL, ClientOptions{MaxRetries: 0, Breaker: breaker})

	require.Error(t, c.Drain(context.Background()))
	require.Error(t, c.Drain(context.Background()))
	require.Equal(t, StateOpen, breaker.State())

	before := calls.Load()
	err := c.Drain(context.Background())

	var coe *CircuitOpenError
	require.ErrorAs(t, err, &coe)
	assert.Equal(t, before, calls.Load(), "open breaker must reject without a network call")
}

func TestClientHalfOpenTrialCallerFaultFreesCircuit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
			return
		}
		http.Error(w, `{"error":"no such database"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	breaker := NewBreaker(srv.URL, 1, time.Minute)
	breaker.now = func() time.Time { return now }
	c := testClient(srv.URL, ClientOptions{MaxRetries: 0, Breaker: breaker})

	require.Error(t, c.Drain(context.Background()))
	require.Equal(t, StateOpen, breaker.State())

	now = now.Add(2 * time.Minute)

	// The half-open trial comes back 404. The instance answered, so the
	// circuit must not stay stuck holding the trial slot.
	var ce *CallError
	require.ErrorAs(t, c.Drain(context.Background()), &ce)
	require.Equal(t, KindNotFound, ce.Kind)

	err := c.Drain(context.Background())
	var coe *CircuitOpenError
	assert.False(t, errors.As(err, &coe), "next call must reach the endpoint, not be rejected by the breaker")
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, KindNotFound, ce.Kind)
}

func TestClientCircuitOpenNotRetried(t *testing.T) {
	breaker := NewBreaker("i-dead:7700", 1, time.Minute)
	breaker.RecordFailure()

	var slept int
	backoff := instantBackoff()
	backoff.sleep = func(context.Context, time.Duration) error {
		slept++
		return nil
	}
	c := NewClient("i-dead:7700", ClientOptions{
		APIKey:     "test-key",
		MaxRetries: 3,
		Breaker:    breaker,
		Backoff:    backoff,
	})

	err := c.Drain(context.Background())

	var coe *CircuitOpenError
	require.ErrorAs(t, err, &coe)
	assert.Zero(t, slept, "circuit-open rejections end the call immediately")
}

func TestClientNetworkErrorClassification(t *testing.T) {
	// Closed server: connection refused.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := testClient(url, ClientOptions{MaxRetries: 1})

	err := c.Drain(context.Background())

	var ce *CallError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, KindNetwork, ce.Kind)
	assert.True(t, Retriable(err))
}

func TestClientNotFoundSurfacesImmediately(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"database kg_missing not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := testClient(srv.URL, ClientOptions{MaxRetries: 3})

	_, err := c.Query(context.Background(), "kg_missing", &model.QueryRequest{Query: "RETURN 1"})

	var ce *CallError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, KindNotFound, ce.Kind)
	assert.True(t, CallerFault(err))
}
