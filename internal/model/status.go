package model

// Instance status constants.
const (
	InstanceInitializing = "initializing"
	InstanceHealthy      = "healthy"
	InstanceUnhealthy    = "unhealthy"
	InstanceDraining     = "draining"
	InstanceTerminating  = "terminating"
	InstanceTerminated   = "terminated"
)

// Instance node types.
const (
	NodeTypeWriter        = "writer"
	NodeTypeSharedMaster  = "shared_master"
	NodeTypeSharedReplica = "shared_replica"
)

// Graph assignment status constants.
const (
	AssignmentActive            = "active"
	AssignmentMigrationRequired = "migration_required"
	AssignmentMigrating         = "migrating"
)

// Repository types.
const (
	RepositoryTenant = "tenant"
	RepositoryShared = "shared"
)

// Volume status constants.
const (
	VolumeAvailable = "available"
	VolumeAttached  = "attached"
	VolumeExpanding = "expanding"
)
