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

// Neo4j talks to a neo4j server through its transactional HTTP endpoint.
// Database management statements go through the system database.
type Neo4j struct {
	baseURL    string
	authHeader string
	httpClient *http.Client
}

func NewNeo4j(endpoint, apiKey string) *Neo4j {
	return &Neo4j{
		baseURL:    strings.TrimRight(endpoint, "/"),
		authHeader: "Basic " + apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type neo4jStatement struct {
	Statement  string         `json:"statement"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

type neo4jResponse struct {
	Results []struct {
		Columns []string `json:"columns"`
		Data    []struct {
			Row []any `json:"row"`
		} `json:"data"`
	} `json:"results"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

func (n *Neo4j) CreateDatabase(ctx context.Context, name string) error {
	_, err := n.commit(ctx, "system", neo4jStatement{
		Statement:  "CREATE DATABASE $name",
		Parameters: map[string]any{"name": name},
	})
	if err != nil {
		return fmt.Errorf("create database %s: %w", name, err)
	}
	return nil
}

func (n *Neo4j) DropDatabase(ctx context.Context, name string) error {
	_, err := n.commit(ctx, "system", neo4jStatement{
		Statement:  "DROP DATABASE $name IF EXISTS",
		Parameters: map[string]any{"name": name},
	})
	if err != nil {
		return fmt.Errorf("drop database %s: %w", name, err)
	}
	return nil
}

func (n *Neo4j) ListDatabases(ctx context.Context) ([]string, error) {
	resp, err := n.commit(ctx, "system", neo4jStatement{Statement: "SHOW DATABASES YIELD name"})
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	var names []string
	for _, row := range resp.Rows {
		if len(row) > 0 {
			if name, ok := row[0].(string); ok && name != "system" && name != "neo4j" {
				names = append(names, name)
			}
		}
	}
	return names, nil
}

func (n *Neo4j) Query(ctx context.Context, database string, qr *model.QueryRequest) (*model.QueryResult, error) {
	return n.commit(ctx, database, neo4jStatement{
		Statement:  qr.Query,
		Parameters: qr.Parameters,
	})
}

func (n *Neo4j) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"/", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", n.authHeader)
	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("neo4j ping: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("neo4j ping returned %d", resp.StatusCode)
	}
	return nil
}

func (n *Neo4j) commit(ctx context.Context, database string, stmt neo4jStatement) (*model.QueryResult, error) {
	payload := struct {
		Statements []neo4jStatement `json:"statements"`
	}{Statements: []neo4jStatement{stmt}}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/db/%s/tx/commit", n.baseURL, database)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", n.authHeader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrDatabaseNotFound
	}
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("neo4j returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var decoded neo4jResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode neo4j response: %w", err)
	}
	if len(decoded.Errors) > 0 {
		return nil, classifyNeo4jError(decoded.Errors[0].Code, decoded.Errors[0].Message)
	}
	if len(decoded.Results) == 0 {
		return &model.QueryResult{}, nil
	}

	result := &model.QueryResult{Columns: decoded.Results[0].Columns}
	for _, d := range decoded.Results[0].Data {
		result.Rows = append(result.Rows, d.Row)
	}
	return result, nil
}

// classifyNeo4jError maps neo4j status codes onto the engine error types.
// Codes look like Neo.ClientError.Statement.SyntaxError.
func classifyNeo4jError(code, message string) error {
	switch {
	case strings.Contains(code, "Statement.SyntaxError"),
		strings.Contains(code, "Statement.ParameterMissing"):
		return &SyntaxError{Detail: message}
	case strings.Contains(code, "Database.DatabaseNotFound"):
		return ErrDatabaseNotFound
	}
	return fmt.Errorf("neo4j error %s: %s", code, message)
}
