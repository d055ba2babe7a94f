package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/edvin/graphfleet/internal/model"
)

// Kuzu talks to a kuzu API server over HTTP. The server hosts many logical
// databases; each query names the database it runs against.
type Kuzu struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewKuzu(endpoint, apiKey string) *Kuzu {
	return &Kuzu{
		baseURL:    strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (k *Kuzu) CreateDatabase(ctx context.Context, name string) error {
	if err := k.post(ctx, "/databases", map[string]string{"name": name}, nil); err != nil {
		return fmt.Errorf("create database %s: %w", name, err)
	}
	return nil
}

func (k *Kuzu) DropDatabase(ctx context.Context, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, k.baseURL+"/databases/"+name, nil)
	if err != nil {
		return err
	}
	if err := k.send(req, nil); err != nil {
		return fmt.Errorf("drop database %s: %w", name, err)
	}
	return nil
}

func (k *Kuzu) ListDatabases(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.baseURL+"/databases", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Databases []string `json:"databases"`
	}
	if err := k.send(req, &out); err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	return out.Databases, nil
}

func (k *Kuzu) Query(ctx context.Context, database string, qr *model.QueryRequest) (*model.QueryResult, error) {
	payload := map[string]any{
		"query":      qr.Query,
		"parameters": qr.Parameters,
	}
	var raw struct {
		Columns []string `json:"columns"`
		Rows    [][]any  `json:"rows"`
		Error   string   `json:"error"`
	}
	if err := k.post(ctx, "/databases/"+database+"/cypher", payload, &raw); err != nil {
		return nil, err
	}
	return &model.QueryResult{Columns: raw.Columns, Rows: raw.Rows}, nil
}

func (k *Kuzu) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	if err := k.send(req, nil); err != nil {
		return fmt.Errorf("kuzu ping: %w", err)
	}
	return nil
}

func (k *Kuzu) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return k.send(req, out)
}

func (k *Kuzu) send(req *http.Request, out any) error {
	if k.apiKey != "" {
		req.Header.Set("X-API-Key", k.apiKey)
	}
	resp, err := k.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(body))
		switch resp.StatusCode {
		case http.StatusNotFound:
			return ErrDatabaseNotFound
		case http.StatusBadRequest:
			return &SyntaxError{Detail: msg}
		}
		return fmt.Errorf("kuzu returned %d: %s", resp.StatusCode, msg)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode kuzu response: %w", err)
		}
	}
	return nil
}
