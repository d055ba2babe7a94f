package registry

import (
	"context"
	"fmt"

	"github.com/edvin/graphfleet/internal/model"
)

const volumeColumns = `volume_id, instance_id, database_id, tier, size_gb, status, created_at, updated_at`

// VolumeRegistry is the data-access layer for volume assignments. Rows are
// written by the volume-provisioning pipeline; instances read them at boot
// to locate their data.
type VolumeRegistry struct {
	db DB
}

func NewVolumeRegistry(db DB) *VolumeRegistry {
	return &VolumeRegistry{db: db}
}

func (s *VolumeRegistry) Create(ctx context.Context, v *model.VolumeAssignment) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO volume_assignments (volume_id, instance_id, database_id, tier, size_gb, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		v.VolumeID, v.InstanceID, v.DatabaseID, v.Tier, v.SizeGB, v.Status, v.CreatedAt, v.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create volume %s: %w", v.VolumeID, err)
	}
	return nil
}

func (s *VolumeRegistry) GetByID(ctx context.Context, volumeID string) (*model.VolumeAssignment, error) {
	var v model.VolumeAssignment
	err := s.db.QueryRow(ctx,
		`SELECT `+volumeColumns+` FROM volume_assignments WHERE volume_id = $1`, volumeID,
	).Scan(&v.VolumeID, &v.InstanceID, &v.DatabaseID, &v.Tier, &v.SizeGB, &v.Status, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get volume %s: %w", volumeID, err)
	}
	return &v, nil
}

func (s *VolumeRegistry) ListByInstance(ctx context.Context, instanceID string) ([]model.VolumeAssignment, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+volumeColumns+` FROM volume_assignments WHERE instance_id = $1 ORDER BY volume_id`,
		instanceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list volumes for instance %s: %w", instanceID, err)
	}
	defer rows.Close()

	var volumes []model.VolumeAssignment
	for rows.Next() {
		var v model.VolumeAssignment
		if err := rows.Scan(&v.VolumeID, &v.InstanceID, &v.DatabaseID, &v.Tier, &v.SizeGB,
			&v.Status, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan volume: %w", err)
		}
		volumes = append(volumes, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate volumes: %w", err)
	}
	return volumes, nil
}

func (s *VolumeRegistry) SetStatus(ctx context.Context, volumeID, status string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE volume_assignments SET status = $1, updated_at = now() WHERE volume_id = $2`,
		status, volumeID,
	)
	if err != nil {
		return fmt.Errorf("set volume %s status %s: %w", volumeID, status, err)
	}
	return nil
}

func (s *VolumeRegistry) Delete(ctx context.Context, volumeID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM volume_assignments WHERE volume_id = $1`, volumeID)
	if err != nil {
		return fmt.Errorf("delete volume %s: %w", volumeID, err)
	}
	return nil
}
