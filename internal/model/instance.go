package model

import (
	"encoding/json"
	"time"
)

// Instance is one writer or replica node in the fleet: a single graph engine
// process on one host, registered by the instance itself at boot.
type Instance struct {
	ID                   string     `json:"id" db:"id"`
	NodeType             string     `json:"node_type" db:"node_type"`
	Tier                 string     `json:"tier" db:"tier"`
	Region               string     `json:"region" db:"region"`
	Endpoint             string     `json:"endpoint" db:"endpoint"`
	Status               string     `json:"status" db:"status"`
	// Repository is set for shared_master/shared_replica nodes and names the
	// shared repository they serve (e.g. "sec").
	Repository           *string    `json:"repository,omitempty" db:"repository"`
	DatabaseCount        int        `json:"database_count" db:"database_count"`
	MaxDatabases         int        `json:"max_databases" db:"max_databases"`
	AvailableCapacityPct float64    `json:"available_capacity_pct" db:"available_capacity_pct"`
	ClusterGroup         string     `json:"cluster_group" db:"cluster_group"`
	LastHealthCheck      *time.Time `json:"last_health_check,omitempty" db:"last_health_check"`
	CreatedAt            time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at" db:"updated_at"`
}

// InstanceHealth is the health report a graph-agent posts to the fleet API.
type InstanceHealth struct {
	InstanceID           string          `json:"instance_id" db:"instance_id"`
	Status               string          `json:"status" db:"status"`
	DatabaseCount        int             `json:"database_count" db:"database_count"`
	AvailableCapacityPct float64         `json:"available_capacity_pct" db:"available_capacity_pct"`
	Checks               json.RawMessage `json:"checks,omitempty" db:"checks"`
	ReportedAt           time.Time       `json:"reported_at" db:"reported_at"`
}
