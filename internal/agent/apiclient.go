package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/graphfleet/internal/model"
)

// APIClient communicates with fleet-api internal endpoints. The agent never
// touches the registry database directly; all registry writes go through
// here so the registry stays the single synchronization point.
type APIClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewAPIClient(baseURL, apiKey string, logger zerolog.Logger) *APIClient {
	return &APIClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With().Str("component", "api-client").Logger(),
	}
}

// Register upserts this instance's registry row at boot.
func (c *APIClient) Register(ctx context.Context, inst *model.Instance) error {
	return c.postJSON(ctx, "/internal/v1/instances/register", inst, nil)
}

// Volumes fetches the volume assignments recorded for an instance. Agents
// call this at boot to locate their data volumes.
func (c *APIClient) Volumes(ctx context.Context, instanceID string) ([]model.VolumeAssignment, error) {
	url := fmt.Sprintf("%s/api/v1/instances/%s/volumes", c.baseURL, instanceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch volume assignments: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("volumes API returned %d: %s", resp.StatusCode, string(body))
	}

	var volumes []model.VolumeAssignment
	if err := json.NewDecoder(resp.Body).Decode(&volumes); err != nil {
		return nil, fmt.Errorf("decode volume assignments: %w", err)
	}
	return volumes, nil
}

// ReportHealth sends a health report for the instance.
func (c *APIClient) ReportHealth(ctx context.Context, health *model.InstanceHealth) error {
	path := fmt.Sprintf("/internal/v1/instances/%s/health", health.InstanceID)
	return c.postJSON(ctx, path, health, nil)
}

// IngestionActive reports whether the ingestion pipeline has flagged this
// instance as mid-ingestion.
func (c *APIClient) IngestionActive(ctx context.Context, instanceID string) (bool, error) {
	url := fmt.Sprintf("%s/internal/v1/instances/%s/ingestion", c.baseURL, instanceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("fetch ingestion flag: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("ingestion flag API returned %d: %s", resp.StatusCode, string(body))
	}

	var out struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("decode ingestion flag: %w", err)
	}
	return out.Active, nil
}

// BeginDrain marks the instance draining in the registry. New resolutions
// stop selecting the instance as soon as this returns.
func (c *APIClient) BeginDrain(ctx context.Context, instanceID string) error {
	return c.postJSON(ctx, fmt.Sprintf("/internal/v1/instances/%s/drain", instanceID), nil, nil)
}

// RequestMigration marks every active graph assignment on the instance
// migration-required and returns how many were marked.
func (c *APIClient) RequestMigration(ctx context.Context, instanceID string) (int, error) {
	var out struct {
		Marked int `json:"marked"`
	}
	err := c.postJSON(ctx, fmt.Sprintf("/internal/v1/instances/%s/migrations", instanceID), nil, &out)
	if err != nil {
		return 0, err
	}
	return out.Marked, nil
}

// ReportTerminated records the instance's terminal status.
func (c *APIClient) ReportTerminated(ctx context.Context, instanceID string) error {
	return c.postJSON(ctx, fmt.Sprintf("/internal/v1/instances/%s/terminated", instanceID), nil, nil)
}

func (c *APIClient) postJSON(ctx context.Context, path string, payload, out any) error {
	url := c.baseURL + path
	var reqBody io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("X-API-Key", c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API returned %d: %s", resp.StatusCode, string(respBody))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
