package request

// RegisterInstance is posted by a graph-agent at boot.
type RegisterInstance struct {
	ID           string  `json:"id" validate:"required"`
	NodeType     string  `json:"node_type" validate:"required,oneof=writer shared_master shared_replica"`
	Tier         string  `json:"tier" validate:"required"`
	Region       string  `json:"region" validate:"required"`
	Endpoint     string  `json:"endpoint" validate:"required"`
	Repository   *string `json:"repository"`
	MaxDatabases int     `json:"max_databases" validate:"min=0"`
	ClusterGroup string  `json:"cluster_group"`
}

// CreateGraph provisions a new tenant graph.
type CreateGraph struct {
	GraphID  string `json:"graph_id" validate:"omitempty,graphid"`
	EntityID string `json:"entity_id" validate:"required"`
	Tier     string `json:"tier"`
	Region   string `json:"region" validate:"required"`
}

// CreateVolume records a storage volume attachment.
type CreateVolume struct {
	VolumeID   string `json:"volume_id" validate:"required"`
	InstanceID string `json:"instance_id" validate:"required"`
	DatabaseID string `json:"database_id"`
	Tier       string `json:"tier"`
	SizeGB     int    `json:"size_gb" validate:"required,min=1"`
}

// ExecuteQuery is the gateway request against a graph.
type ExecuteQuery struct {
	Query      string         `json:"query" validate:"required"`
	Parameters map[string]any `json:"parameters"`
	// Write marks the query as mutating; shared-repository routing sends
	// writes to the master and reads to replicas.
	Write bool   `json:"write"`
	Tier  string `json:"tier"`
}

// SetIngestionFlag flips the active-ingestion marker for an instance.
type SetIngestionFlag struct {
	Active bool `json:"active"`
}
