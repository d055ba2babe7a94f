package activity

import (
	"context"
	"time"

	"github.com/edvin/graphfleet/internal/model"
	"github.com/edvin/graphfleet/internal/registry"
)

// Registry contains activities that read from and update the fleet registry.
type Registry struct {
	services *registry.Services
}

func NewRegistry(services *registry.Services) *Registry {
	return &Registry{services: services}
}

// GetGraphAssignment retrieves the assignment row for a graph.
func (a *Registry) GetGraphAssignment(ctx context.Context, graphID string) (*model.GraphAssignment, error) {
	return a.services.Graphs.GetByGraphID(ctx, graphID)
}

// GetInstance retrieves an instance by ID.
func (a *Registry) GetInstance(ctx context.Context, instanceID string) (*model.Instance, error) {
	return a.services.Instances.GetByID(ctx, instanceID)
}

// FindPlacementCandidate picks the healthy writer with the most headroom in
// the given tier.
func (a *Registry) FindPlacementCandidate(ctx context.Context, tier string) (*model.Instance, error) {
	return a.services.Instances.FindPlacementCandidate(ctx, tier)
}

// ListMigrationRequired returns assignments waiting to be moved off their
// draining instance, oldest first.
func (a *Registry) ListMigrationRequired(ctx context.Context, limit int) ([]model.GraphAssignment, error) {
	return a.services.Graphs.ListMigrationRequired(ctx, limit)
}

// ClaimGraphForMigration conditionally takes ownership of one migration.
// Reports false when another worker already holds the claim.
func (a *Registry) ClaimGraphForMigration(ctx context.Context, graphID string) (bool, error) {
	return a.services.Graphs.ClaimForMigration(ctx, graphID)
}

// CompleteGraphMigrationParams holds the parameters for CompleteGraphMigration.
type CompleteGraphMigrationParams struct {
	GraphID          string `json:"graph_id"`
	TargetInstanceID string `json:"target_instance_id"`
}

// CompleteGraphMigration reassigns the graph to its target instance and
// returns it to active.
func (a *Registry) CompleteGraphMigration(ctx context.Context, params CompleteGraphMigrationParams) (bool, error) {
	return a.services.Graphs.CompleteMigration(ctx, params.GraphID, params.TargetInstanceID)
}

// ReleaseMigrationClaim returns a claimed graph to migration_required so a
// later run can retry it.
func (a *Registry) ReleaseMigrationClaim(ctx context.Context, graphID string) error {
	return a.services.Graphs.ReleaseMigrationClaim(ctx, graphID)
}

// FindStaleHeartbeats returns instances whose last health report is older
// than the cutoff.
func (a *Registry) FindStaleHeartbeats(ctx context.Context, olderThan time.Duration) ([]model.Instance, error) {
	return a.services.Instances.FindStaleHeartbeats(ctx, olderThan)
}

// SetInstanceStatusParams holds the parameters for SetInstanceStatus.
type SetInstanceStatusParams struct {
	InstanceID string `json:"instance_id"`
	Status     string `json:"status"`
}

// SetInstanceStatus unconditionally sets an instance's lifecycle status.
func (a *Registry) SetInstanceStatus(ctx context.Context, params SetInstanceStatusParams) error {
	return a.services.Instances.SetStatus(ctx, params.InstanceID, params.Status)
}

// AdjustDatabaseCountParams holds the parameters for AdjustDatabaseCount.
type AdjustDatabaseCountParams struct {
	InstanceID string `json:"instance_id"`
	Delta      int    `json:"delta"`
}

// AdjustDatabaseCount shifts an instance's database count after a graph is
// placed on or removed from it.
func (a *Registry) AdjustDatabaseCount(ctx context.Context, params AdjustDatabaseCountParams) error {
	return a.services.Instances.AdjustDatabaseCount(ctx, params.InstanceID, params.Delta)
}

// MarkInstanceMigrations flags every active assignment on an instance as
// migration_required, returning the number marked.
func (a *Registry) MarkInstanceMigrations(ctx context.Context, instanceID string) (int, error) {
	return a.services.Graphs.MarkMigrationRequired(ctx, instanceID)
}
