package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/edvin/graphfleet/internal/model"
)

const instanceColumns = `id, node_type, tier, region, endpoint, status, repository,
	database_count, max_databases, available_capacity_pct, cluster_group,
	last_health_check, created_at, updated_at`

// InstanceRegistry is the data-access layer for the instance table.
// Status transitions that race with other writers go through Transition,
// which is a conditional (compare-and-set) update.
type InstanceRegistry struct {
	db DB
}

func NewInstanceRegistry(db DB) *InstanceRegistry {
	return &InstanceRegistry{db: db}
}

// Register upserts an instance row. Instances self-register at boot and
// re-register on restart, so conflicts update the mutable fields in place.
func (s *InstanceRegistry) Register(ctx context.Context, inst *model.Instance) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO instances (id, node_type, tier, region, endpoint, status, repository,
		                        database_count, max_databases, available_capacity_pct, cluster_group,
		                        created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (id) DO UPDATE SET
		   node_type = EXCLUDED.node_type,
		   tier = EXCLUDED.tier,
		   region = EXCLUDED.region,
		   endpoint = EXCLUDED.endpoint,
		   status = EXCLUDED.status,
		   repository = EXCLUDED.repository,
		   max_databases = EXCLUDED.max_databases,
		   cluster_group = EXCLUDED.cluster_group,
		   updated_at = now()`,
		inst.ID, inst.NodeType, inst.Tier, inst.Region, inst.Endpoint, inst.Status,
		inst.Repository, inst.DatabaseCount, inst.MaxDatabases, inst.AvailableCapacityPct,
		inst.ClusterGroup, inst.CreatedAt, inst.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("register instance %s: %w", inst.ID, err)
	}
	return nil
}

func (s *InstanceRegistry) GetByID(ctx context.Context, id string) (*model.Instance, error) {
	var inst model.Instance
	err := s.db.QueryRow(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE id = $1`, id,
	).Scan(&inst.ID, &inst.NodeType, &inst.Tier, &inst.Region, &inst.Endpoint, &inst.Status,
		&inst.Repository, &inst.DatabaseCount, &inst.MaxDatabases, &inst.AvailableCapacityPct,
		&inst.ClusterGroup, &inst.LastHealthCheck, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get instance %s: %w", id, err)
	}
	return &inst, nil
}

// ListByRegion returns instances in a region, optionally filtered by tier and status.
func (s *InstanceRegistry) ListByRegion(ctx context.Context, region, tier, status string) ([]model.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances WHERE region = $1`
	args := []any{region}
	argIdx := 2

	if tier != "" {
		query += fmt.Sprintf(` AND tier = $%d`, argIdx)
		args = append(args, tier)
		argIdx++
	}
	if status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, status)
		argIdx++
	}
	query += ` ORDER BY id`

	return s.list(ctx, query, args...)
}

// ListAll returns every instance, ordered by id. Used by fleetctl status.
func (s *InstanceRegistry) ListAll(ctx context.Context) ([]model.Instance, error) {
	return s.list(ctx, `SELECT `+instanceColumns+` FROM instances ORDER BY id`)
}

// FindSharedMaster returns the current shared_master instance for a shared
// repository, regardless of health. Callers decide whether a non-healthy
// master is acceptable.
func (s *InstanceRegistry) FindSharedMaster(ctx context.Context, repository string) (*model.Instance, error) {
	var inst model.Instance
	err := s.db.QueryRow(ctx,
		`SELECT `+instanceColumns+` FROM instances
		 WHERE node_type = 'shared_master' AND repository = $1
		   AND status NOT IN ('terminating', 'terminated')`, repository,
	).Scan(&inst.ID, &inst.NodeType, &inst.Tier, &inst.Region, &inst.Endpoint, &inst.Status,
		&inst.Repository, &inst.DatabaseCount, &inst.MaxDatabases, &inst.AvailableCapacityPct,
		&inst.ClusterGroup, &inst.LastHealthCheck, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("find shared master for %s: %w", repository, err)
	}
	return &inst, nil
}

// FindPlacementCandidate returns the healthy writer with the most available
// capacity that still has room for another database, optionally constrained
// to a tier.
func (s *InstanceRegistry) FindPlacementCandidate(ctx context.Context, tier string) (*model.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances
	          WHERE node_type = 'writer' AND status = 'healthy'
	            AND database_count < max_databases`
	args := []any{}
	if tier != "" {
		query += ` AND tier = $1`
		args = append(args, tier)
	}
	query += ` ORDER BY available_capacity_pct DESC, database_count ASC LIMIT 1`

	candidates, err := s.list(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("find placement candidate: no healthy writer with capacity")
	}
	return &candidates[0], nil
}

// Transition performs a conditional status update and reports whether this
// caller won the transition. Concurrent writers racing on the same row see
// false and must re-read.
func (s *InstanceRegistry) Transition(ctx context.Context, id, from, to string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE instances SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`,
		to, id, from,
	)
	if err != nil {
		return false, fmt.Errorf("transition instance %s %s->%s: %w", id, from, to, err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetStatus unconditionally sets the status. Used for terminal transitions
// where clobbering is acceptable (terminated, unhealthy).
func (s *InstanceRegistry) SetStatus(ctx context.Context, id, status string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE instances SET status = $1, updated_at = now() WHERE id = $2`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("set instance %s status %s: %w", id, status, err)
	}
	return nil
}

// RecordHealth applies a health report: status, utilization, and heartbeat
// timestamp. Draining and terminating instances keep their lifecycle status;
// only the heartbeat and utilization fields are refreshed for them.
func (s *InstanceRegistry) RecordHealth(ctx context.Context, h *model.InstanceHealth) error {
	_, err := s.db.Exec(ctx,
		`UPDATE instances SET
		   status = CASE WHEN status IN ('draining', 'terminating', 'terminated') THEN status ELSE $1 END,
		   database_count = $2,
		   available_capacity_pct = $3,
		   last_health_check = $4,
		   updated_at = now()
		 WHERE id = $5`,
		h.Status, h.DatabaseCount, h.AvailableCapacityPct, h.ReportedAt, h.InstanceID,
	)
	if err != nil {
		return fmt.Errorf("record health for instance %s: %w", h.InstanceID, err)
	}
	return nil
}

// FindStaleHeartbeats returns healthy-looking instances whose last health
// check is older than the cutoff (or missing entirely).
func (s *InstanceRegistry) FindStaleHeartbeats(ctx context.Context, olderThan time.Duration) ([]model.Instance, error) {
	return s.list(ctx,
		`SELECT `+instanceColumns+` FROM instances
		 WHERE status IN ('initializing', 'healthy')
		   AND (last_health_check IS NULL OR last_health_check < now() - $1::interval)
		 ORDER BY id`,
		fmt.Sprintf("%d seconds", int(olderThan.Seconds())),
	)
}

// AdjustDatabaseCount increments or decrements the database count when a
// database is provisioned or decommissioned on the instance.
func (s *InstanceRegistry) AdjustDatabaseCount(ctx context.Context, id string, delta int) error {
	_, err := s.db.Exec(ctx,
		`UPDATE instances SET database_count = GREATEST(database_count + $1, 0), updated_at = now()
		 WHERE id = $2`,
		delta, id,
	)
	if err != nil {
		return fmt.Errorf("adjust database count for instance %s: %w", id, err)
	}
	return nil
}

func (s *InstanceRegistry) Delete(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM instances WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete instance %s: %w", id, err)
	}
	return nil
}

func (s *InstanceRegistry) list(ctx context.Context, query string, args ...any) ([]model.Instance, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	var instances []model.Instance
	for rows.Next() {
		var inst model.Instance
		if err := rows.Scan(&inst.ID, &inst.NodeType, &inst.Tier, &inst.Region, &inst.Endpoint,
			&inst.Status, &inst.Repository, &inst.DatabaseCount, &inst.MaxDatabases,
			&inst.AvailableCapacityPct, &inst.ClusterGroup, &inst.LastHealthCheck,
			&inst.CreatedAt, &inst.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		instances = append(instances, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate instances: %w", err)
	}
	return instances, nil
}
