package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/graphfleet/internal/model"
)

// Client issues requests to one resolved instance endpoint with
// classification-aware retries, each attempt gated by the endpoint's circuit
// breaker. Non-retriable errors surface immediately without consuming an
// attempt budget.
type Client struct {
	endpoint   string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *Breaker
	backoff    BackoffPolicy
	maxRetries int
	logger     zerolog.Logger
}

// ClientOptions configures a Client. A nil Breaker disables circuit
// breaking; MaxRetries 0 disables retries.
type ClientOptions struct {
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	Breaker    *Breaker
	Backoff    BackoffPolicy
	Logger     zerolog.Logger
	HTTPClient *http.Client
}

func NewClient(endpoint string, opts ClientOptions) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	backoff := opts.Backoff
	if backoff.sleep == nil {
		backoff = DefaultBackoff()
	}

	baseURL := endpoint
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}

	return &Client{
		endpoint:   endpoint,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     opts.APIKey,
		httpClient: httpClient,
		breaker:    opts.Breaker,
		backoff:    backoff,
		maxRetries: opts.MaxRetries,
		logger:     opts.Logger.With().Str("component", "graph-client").Str("endpoint", endpoint).Logger(),
	}
}

// Endpoint returns the host:port this client routes to.
func (c *Client) Endpoint() string { return c.endpoint }

// CreateDatabase provisions a logical database on the instance.
func (c *Client) CreateDatabase(ctx context.Context, databaseID string) error {
	return c.do(ctx, http.MethodPost, "/databases", map[string]string{"id": databaseID}, nil)
}

// Query executes a query against one logical database.
func (c *Client) Query(ctx context.Context, databaseID string, req *model.QueryRequest) (*model.QueryResult, error) {
	var result model.QueryResult
	path := fmt.Sprintf("/databases/%s/query", databaseID)
	if err := c.do(ctx, http.MethodPost, path, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Status fetches the instance's health and capacity snapshot.
func (c *Client) Status(ctx context.Context) (*model.StatusSnapshot, error) {
	var snap model.StatusSnapshot
	if err := c.do(ctx, http.MethodGet, "/status", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Info fetches the instance's node metadata.
func (c *Client) Info(ctx context.Context) (*model.NodeInfo, error) {
	var info model.NodeInfo
	if err := c.do(ctx, http.MethodGet, "/info", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Drain tells the instance to stop accepting new connections.
func (c *Client) Drain(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/admin/drain", nil, nil)
}

// Snapshot archives one database on the instance and returns the object key.
func (c *Client) Snapshot(ctx context.Context, databaseID string) (string, error) {
	var ref model.SnapshotRef
	path := fmt.Sprintf("/admin/snapshots/%s", databaseID)
	if err := c.do(ctx, http.MethodPost, path, nil, &ref); err != nil {
		return "", err
	}
	return ref.Key, nil
}

// Restore hydrates one database on the instance from a snapshot archive.
func (c *Client) Restore(ctx context.Context, databaseID, key string) error {
	path := fmt.Sprintf("/admin/restore/%s", databaseID)
	return c.do(ctx, http.MethodPost, path, model.SnapshotRef{Key: key}, nil)
}

// Connections returns the instance's active connection count.
func (c *Client) Connections(ctx context.Context) (int, error) {
	var count model.ConnectionCount
	if err := c.do(ctx, http.MethodGet, "/admin/connections", nil, &count); err != nil {
		return 0, err
	}
	return count.Active, nil
}

// do runs the retry state machine: attempt, classify, back off, re-attempt.
// The final underlying error is surfaced as-is, never a generic wrapper.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			var ce *CallError
			if errors.As(lastErr, &ce) {
				retryAttempts.WithLabelValues(ce.Kind.String()).Inc()
			}
			if err := c.backoff.Wait(ctx, attempt, lastErr); err != nil {
				return lastErr
			}
		}

		err := c.attempt(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		lastErr = err

		if !Retriable(err) || attempt >= c.maxRetries {
			return err
		}
		c.logger.Debug().Err(err).Int("attempt", attempt+1).Msg("retriable call failure")
	}
}

// attempt performs one HTTP call gated by the breaker. Caller faults are
// neutral for the breaker: they are neither failures nor successes.
func (c *Client) attempt(ctx context.Context, method, path string, body, out any) error {
	if c.breaker != nil {
		if err := c.breaker.Allow(); err != nil {
			return err
		}
	}

	err := c.roundTrip(ctx, method, path, body, out)
	if c.breaker != nil {
		switch {
		case err == nil:
			c.breaker.RecordSuccess()
		case CallerFault(err):
			// Not an instance-health signal, but the instance did answer, so
			// any half-open trial slot must be released.
			c.breaker.RecordNeutral()
		default:
			c.breaker.RecordFailure()
		}
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return c.classifyStatus(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &CallError{Kind: KindServer, Endpoint: c.endpoint, Message: "malformed response body", Err: err}
		}
	}
	return nil
}

func (c *Client) classifyTransport(err error) error {
	kind := KindNetwork
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = KindTimeout
	}
	return &CallError{Kind: kind, Endpoint: c.endpoint, Message: err.Error(), Err: err}
}

func (c *Client) classifyStatus(resp *http.Response) error {
	msg := readErrorMessage(resp.Body)
	ce := &CallError{Endpoint: c.endpoint, StatusCode: resp.StatusCode, Message: msg}

	switch resp.StatusCode {
	case http.StatusServiceUnavailable:
		ce.Kind = KindUnavailable
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			ce.RetryAfter = time.Duration(secs) * time.Second
		}
	case http.StatusUnauthorized, http.StatusForbidden:
		ce.Kind = KindAuth
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		ce.Kind = KindSyntax
	case http.StatusNotFound:
		ce.Kind = KindNotFound
	default:
		if resp.StatusCode >= 500 {
			ce.Kind = KindServer
		} else {
			ce.Kind = KindSyntax
		}
	}
	return ce
}

func readErrorMessage(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var parsed struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != "" {
		return parsed.Error
	}
	return strings.TrimSpace(string(body))
}
