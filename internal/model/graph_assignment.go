package model

import "time"

// GraphAssignment maps a logical graph to the instance that owns it.
// At most one non-migrating assignment exists per graph at any time
// (single writer per database).
type GraphAssignment struct {
	GraphID        string  `json:"graph_id" db:"graph_id"`
	InstanceID     string  `json:"instance_id" db:"instance_id"`
	EntityID       string  `json:"entity_id" db:"entity_id"`
	RepositoryType string  `json:"repository_type" db:"repository_type"`
	Status         string  `json:"status" db:"status"`
	// MigrationSource records the draining instance while the assignment is
	// migration_required/migrating.
	MigrationSource   *string    `json:"migration_source,omitempty" db:"migration_source"`
	CurrentRegion     string     `json:"current_region" db:"current_region"`
	ReplicationStatus string     `json:"replication_status" db:"replication_status"`
	LastAccessed      *time.Time `json:"last_accessed,omitempty" db:"last_accessed"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}
