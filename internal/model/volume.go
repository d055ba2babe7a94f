package model

import "time"

// VolumeAssignment maps a durable storage volume to an instance and database.
// Rows are created and mutated by the volume-provisioning pipeline; instances
// read them at boot to locate their data.
type VolumeAssignment struct {
	VolumeID   string    `json:"volume_id" db:"volume_id"`
	InstanceID string    `json:"instance_id" db:"instance_id"`
	DatabaseID string    `json:"database_id" db:"database_id"`
	Tier       string    `json:"tier" db:"tier"`
	SizeGB     int       `json:"size_gb" db:"size_gb"`
	Status     string    `json:"status" db:"status"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}
