package model

// Wire types for the instance HTTP surface, shared by the routing client
// and the graph-agent server.

// QueryRequest is the body of POST /databases/{id}/query.
type QueryRequest struct {
	Query      string         `json:"query" validate:"required"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// QueryResult is the engine's tabular response.
type QueryResult struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// StatusSnapshot is the body of GET /status: health plus capacity.
type StatusSnapshot struct {
	Status               string  `json:"status"`
	DatabaseCount        int     `json:"database_count"`
	ActiveConnections    int     `json:"active_connections"`
	AvailableCapacityPct float64 `json:"available_capacity_pct"`
	Draining             bool    `json:"draining"`
}

// NodeInfo is the body of GET /info.
type NodeInfo struct {
	InstanceID    string `json:"instance_id"`
	NodeType      string `json:"node_type"`
	Tier          string `json:"tier"`
	Region        string `json:"region"`
	EngineBackend string `json:"engine_backend"`
}

// ConnectionCount is the body of GET /admin/connections.
type ConnectionCount struct {
	Active int `json:"active"`
}

// SnapshotRef identifies an uploaded snapshot archive by its object key.
// Returned by POST /admin/snapshots/{id} and consumed by /admin/restore/{id}.
type SnapshotRef struct {
	Key string `json:"key"`
}
