// Package engine abstracts the local graph database engine the agent
// manages. Two backends exist: kuzu (the default) and neo4j.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/edvin/graphfleet/internal/model"
)

// ErrDatabaseNotFound is returned when a query addresses a logical database
// the engine does not have.
var ErrDatabaseNotFound = errors.New("database not found")

// SyntaxError is a query the engine rejected. It is the caller's fault and
// is reported as such all the way back through the routing layer.
type SyntaxError struct {
	Detail string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("query rejected: %s", e.Detail)
}

// Engine is the agent's interface to the local graph engine.
type Engine interface {
	// CreateDatabase provisions a new logical database. Creating an existing
	// database is an error.
	CreateDatabase(ctx context.Context, name string) error
	// DropDatabase removes a logical database and its data.
	DropDatabase(ctx context.Context, name string) error
	// ListDatabases returns the names of all logical databases.
	ListDatabases(ctx context.Context) ([]string, error)
	// Query executes one query against a logical database.
	Query(ctx context.Context, database string, req *model.QueryRequest) (*model.QueryResult, error)
	// Ping is the liveness probe. It must be cheap and must not touch user
	// databases.
	Ping(ctx context.Context) error
}

// New builds the engine for the configured backend.
func New(backend, endpoint, apiKey string) (Engine, error) {
	switch backend {
	case "kuzu":
		return NewKuzu(endpoint, apiKey), nil
	case "neo4j":
		return NewNeo4j(endpoint, apiKey), nil
	default:
		return nil, fmt.Errorf("unknown engine backend %q", backend)
	}
}
