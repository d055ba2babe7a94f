package activity

import (
	"context"

	"github.com/edvin/graphfleet/internal/model"
	"github.com/edvin/graphfleet/internal/routing"
)

// AgentActivities talks to graph-agent instances over their admin HTTP
// surface. Clients are built per endpoint through the routing factory so
// calls share the fleet's retry and breaker configuration.
type AgentActivities struct {
	clientFor func(endpoint string) *routing.Client
}

func NewAgentActivities(factory *routing.Factory) *AgentActivities {
	return &AgentActivities{clientFor: factory.ClientFor}
}

// AgentDatabaseParams addresses one database on one instance.
type AgentDatabaseParams struct {
	Endpoint   string `json:"endpoint"`
	DatabaseID string `json:"database_id"`
}

// CreateDatabase provisions a logical database on the instance.
func (a *AgentActivities) CreateDatabase(ctx context.Context, params AgentDatabaseParams) error {
	return a.clientFor(params.Endpoint).CreateDatabase(ctx, params.DatabaseID)
}

// SnapshotDatabase archives a database on the instance, returning the
// snapshot object key.
func (a *AgentActivities) SnapshotDatabase(ctx context.Context, params AgentDatabaseParams) (string, error) {
	return a.clientFor(params.Endpoint).Snapshot(ctx, params.DatabaseID)
}

// RestoreDatabaseParams hydrates a database from a snapshot archive.
type RestoreDatabaseParams struct {
	Endpoint    string `json:"endpoint"`
	DatabaseID  string `json:"database_id"`
	SnapshotKey string `json:"snapshot_key"`
}

// RestoreDatabase unpacks a snapshot into the database on the instance.
func (a *AgentActivities) RestoreDatabase(ctx context.Context, params RestoreDatabaseParams) error {
	return a.clientFor(params.Endpoint).Restore(ctx, params.DatabaseID, params.SnapshotKey)
}

// DrainInstance tells the instance to begin its decommission sequence.
func (a *AgentActivities) DrainInstance(ctx context.Context, endpoint string) error {
	return a.clientFor(endpoint).Drain(ctx)
}

// InstanceStatus fetches the instance's health and capacity snapshot.
func (a *AgentActivities) InstanceStatus(ctx context.Context, endpoint string) (*model.StatusSnapshot, error) {
	return a.clientFor(endpoint).Status(ctx)
}
