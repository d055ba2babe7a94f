package registry

import (
	"context"
	"fmt"

	"github.com/edvin/graphfleet/internal/model"
)

const assignmentColumns = `graph_id, instance_id, entity_id, repository_type, status,
	migration_source, current_region, replication_status, last_accessed, created_at, updated_at`

// GraphRegistry is the data-access layer for graph-to-instance assignments.
type GraphRegistry struct {
	db DB
}

func NewGraphRegistry(db DB) *GraphRegistry {
	return &GraphRegistry{db: db}
}

// Create inserts a new assignment when a database is provisioned on an
// instance. The primary key on graph_id enforces the single-writer invariant.
func (s *GraphRegistry) Create(ctx context.Context, a *model.GraphAssignment) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO graph_assignments (graph_id, instance_id, entity_id, repository_type, status,
		                                current_region, replication_status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.GraphID, a.InstanceID, a.EntityID, a.RepositoryType, a.Status,
		a.CurrentRegion, a.ReplicationStatus, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create assignment for graph %s: %w", a.GraphID, err)
	}
	return nil
}

func (s *GraphRegistry) GetByGraphID(ctx context.Context, graphID string) (*model.GraphAssignment, error) {
	var a model.GraphAssignment
	err := s.db.QueryRow(ctx,
		`SELECT `+assignmentColumns+` FROM graph_assignments WHERE graph_id = $1`, graphID,
	).Scan(&a.GraphID, &a.InstanceID, &a.EntityID, &a.RepositoryType, &a.Status,
		&a.MigrationSource, &a.CurrentRegion, &a.ReplicationStatus, &a.LastAccessed,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get assignment for graph %s: %w", graphID, err)
	}
	return &a, nil
}

func (s *GraphRegistry) ListByInstance(ctx context.Context, instanceID string) ([]model.GraphAssignment, error) {
	return s.list(ctx,
		`SELECT `+assignmentColumns+` FROM graph_assignments WHERE instance_id = $1 ORDER BY graph_id`,
		instanceID,
	)
}

func (s *GraphRegistry) ListByEntity(ctx context.Context, entityID string) ([]model.GraphAssignment, error) {
	return s.list(ctx,
		`SELECT `+assignmentColumns+` FROM graph_assignments WHERE entity_id = $1 ORDER BY graph_id`,
		entityID,
	)
}

// ListMigrationRequired returns assignments awaiting reassignment, oldest first.
func (s *GraphRegistry) ListMigrationRequired(ctx context.Context, limit int) ([]model.GraphAssignment, error) {
	return s.list(ctx,
		`SELECT `+assignmentColumns+` FROM graph_assignments
		 WHERE status = 'migration_required' ORDER BY updated_at ASC LIMIT $1`,
		limit,
	)
}

// MarkMigrationRequired flips every active assignment on the given instance
// to migration_required, recording the instance as migration source. Returns
// the number of assignments marked. Called by the lifecycle drain path; only
// active rows are touched so in-flight migrations are not clobbered.
func (s *GraphRegistry) MarkMigrationRequired(ctx context.Context, instanceID string) (int, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE graph_assignments
		 SET status = 'migration_required', migration_source = instance_id, updated_at = now()
		 WHERE instance_id = $1 AND status = 'active'`,
		instanceID,
	)
	if err != nil {
		return 0, fmt.Errorf("mark migration required for instance %s: %w", instanceID, err)
	}
	return int(tag.RowsAffected()), nil
}

// ClaimForMigration conditionally moves one assignment from
// migration_required to migrating. Reports whether this caller won the claim,
// so concurrent reassignment workers never migrate the same graph twice.
func (s *GraphRegistry) ClaimForMigration(ctx context.Context, graphID string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE graph_assignments SET status = 'migrating', updated_at = now()
		 WHERE graph_id = $1 AND status = 'migration_required'`,
		graphID,
	)
	if err != nil {
		return false, fmt.Errorf("claim graph %s for migration: %w", graphID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// CompleteMigration points a migrating assignment at its new instance and
// reactivates it. Conditional on status = migrating.
func (s *GraphRegistry) CompleteMigration(ctx context.Context, graphID, targetInstanceID string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE graph_assignments
		 SET instance_id = $1, status = 'active', migration_source = NULL, updated_at = now()
		 WHERE graph_id = $2 AND status = 'migrating'`,
		targetInstanceID, graphID,
	)
	if err != nil {
		return false, fmt.Errorf("complete migration for graph %s: %w", graphID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseMigrationClaim returns a migrating assignment to migration_required
// after a failed migration attempt so a later run can retry it.
func (s *GraphRegistry) ReleaseMigrationClaim(ctx context.Context, graphID string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE graph_assignments SET status = 'migration_required', updated_at = now()
		 WHERE graph_id = $1 AND status = 'migrating'`,
		graphID,
	)
	if err != nil {
		return fmt.Errorf("release migration claim for graph %s: %w", graphID, err)
	}
	return nil
}

// TouchLastAccessed records a successful resolution for access-recency
// reporting. Best effort; callers ignore the error.
func (s *GraphRegistry) TouchLastAccessed(ctx context.Context, graphID string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE graph_assignments SET last_accessed = now() WHERE graph_id = $1`, graphID,
	)
	if err != nil {
		return fmt.Errorf("touch last accessed for graph %s: %w", graphID, err)
	}
	return nil
}

func (s *GraphRegistry) Delete(ctx context.Context, graphID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM graph_assignments WHERE graph_id = $1`, graphID)
	if err != nil {
		return fmt.Errorf("delete assignment for graph %s: %w", graphID, err)
	}
	return nil
}

func (s *GraphRegistry) list(ctx context.Context, query string, args ...any) ([]model.GraphAssignment, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	var assignments []model.GraphAssignment
	for rows.Next() {
		var a model.GraphAssignment
		if err := rows.Scan(&a.GraphID, &a.InstanceID, &a.EntityID, &a.RepositoryType, &a.Status,
			&a.MigrationSource, &a.CurrentRegion, &a.ReplicationStatus, &a.LastAccessed,
			&a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assignments: %w", err)
	}
	return assignments, nil
}
