package workflow

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/graphfleet/internal/activity"
	"github.com/edvin/graphfleet/internal/model"
)

// MigrateGraphParams holds parameters for MigrateGraphWorkflow.
type MigrateGraphParams struct {
	GraphID string `json:"graph_id"`
	// TargetInstanceID is optional; when empty the workflow picks the
	// healthy writer with the most headroom in the source instance's tier.
	TargetInstanceID string `json:"target_instance_id"`
}

// MigrateGraphWorkflow moves one graph from its current instance to a target
// instance. It claims the assignment so concurrent reassignment runs never
// move the same graph twice, snapshots the database on the source, restores
// it on the target, and flips the assignment in the registry. A failure after
// the claim releases it so a later run retries.
func MigrateGraphWorkflow(ctx workflow.Context, params MigrateGraphParams) error {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    3,
			InitialInterval:    1 * time.Second,
			MaximumInterval:    10 * time.Second,
			BackoffCoefficient: 2.0,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	logger := workflow.GetLogger(ctx)

	graphID := params.GraphID

	var claimed bool
	err := workflow.ExecuteActivity(ctx, "ClaimGraphForMigration", graphID).Get(ctx, &claimed)
	if err != nil {
		return fmt.Errorf("claim graph %s: %w", graphID, err)
	}
	if !claimed {
		logger.Info("graph already claimed by another migration", "graph_id", graphID)
		return nil
	}

	var assignment model.GraphAssignment
	err = workflow.ExecuteActivity(ctx, "GetGraphAssignment", graphID).Get(ctx, &assignment)
	if err != nil {
		_ = releaseClaim(ctx, graphID)
		return fmt.Errorf("get assignment for %s: %w", graphID, err)
	}

	var source model.Instance
	err = workflow.ExecuteActivity(ctx, "GetInstance", assignment.InstanceID).Get(ctx, &source)
	if err != nil {
		_ = releaseClaim(ctx, graphID)
		return fmt.Errorf("get source instance %s: %w", assignment.InstanceID, err)
	}

	var target model.Instance
	if params.TargetInstanceID != "" {
		err = workflow.ExecuteActivity(ctx, "GetInstance", params.TargetInstanceID).Get(ctx, &target)
	} else {
		err = workflow.ExecuteActivity(ctx, "FindPlacementCandidate", source.Tier).Get(ctx, &target)
	}
	if err != nil {
		_ = releaseClaim(ctx, graphID)
		return fmt.Errorf("find target for %s: %w", graphID, err)
	}
	if target.ID == source.ID {
		_ = releaseClaim(ctx, graphID)
		return fmt.Errorf("no placement target for graph %s other than its current instance", graphID)
	}

	// Snapshot on the source, then create and restore on the target. A source
	// that is already gone cannot produce a fresh snapshot; the newest archive
	// it uploaded while decommissioning is the fallback.
	var snapshotKey string
	if sourceGone(source.Status) {
		err = workflow.ExecuteActivity(ctx, "FindLatestSnapshot", activity.FindLatestSnapshotParams{
			InstanceID: source.ID,
			DatabaseID: graphID,
		}).Get(ctx, &snapshotKey)
		if err != nil {
			_ = releaseClaim(ctx, graphID)
			return fmt.Errorf("locate snapshot for %s from terminated %s: %w", graphID, source.ID, err)
		}
		logger.Info("source gone, restoring from stored snapshot",
			"graph_id", graphID, "source", source.ID, "key", snapshotKey)
	} else {
		err = workflow.ExecuteActivity(ctx, "SnapshotDatabase", activity.AgentDatabaseParams{
			Endpoint:   source.Endpoint,
			DatabaseID: graphID,
		}).Get(ctx, &snapshotKey)
		if err != nil {
			_ = releaseClaim(ctx, graphID)
			return fmt.Errorf("snapshot graph %s on %s: %w", graphID, source.ID, err)
		}
	}

	err = workflow.ExecuteActivity(ctx, "CreateDatabase", activity.AgentDatabaseParams{
		Endpoint:   target.Endpoint,
		DatabaseID: graphID,
	}).Get(ctx, nil)
	if err != nil {
		_ = releaseClaim(ctx, graphID)
		return fmt.Errorf("create graph %s on %s: %w", graphID, target.ID, err)
	}

	err = workflow.ExecuteActivity(ctx, "RestoreDatabase", activity.RestoreDatabaseParams{
		Endpoint:    target.Endpoint,
		DatabaseID:  graphID,
		SnapshotKey: snapshotKey,
	}).Get(ctx, nil)
	if err != nil {
		_ = releaseClaim(ctx, graphID)
		return fmt.Errorf("restore graph %s on %s: %w", graphID, target.ID, err)
	}

	var completed bool
	err = workflow.ExecuteActivity(ctx, "CompleteGraphMigration", activity.CompleteGraphMigrationParams{
		GraphID:          graphID,
		TargetInstanceID: target.ID,
	}).Get(ctx, &completed)
	if err != nil {
		_ = releaseClaim(ctx, graphID)
		return fmt.Errorf("complete migration for %s: %w", graphID, err)
	}
	if !completed {
		return fmt.Errorf("migration claim for %s lost before completion", graphID)
	}

	// Count adjustments are best effort; the next health report corrects them.
	_ = workflow.ExecuteActivity(ctx, "AdjustDatabaseCount", activity.AdjustDatabaseCountParams{
		InstanceID: target.ID,
		Delta:      1,
	}).Get(ctx, nil)
	_ = workflow.ExecuteActivity(ctx, "AdjustDatabaseCount", activity.AdjustDatabaseCountParams{
		InstanceID: source.ID,
		Delta:      -1,
	}).Get(ctx, nil)

	logger.Info("graph migrated", "graph_id", graphID, "source", source.ID, "target", target.ID)
	return nil
}

// sourceGone reports whether the source instance can no longer serve a live
// snapshot request.
func sourceGone(status string) bool {
	return status == model.InstanceTerminating || status == model.InstanceTerminated
}

func releaseClaim(ctx workflow.Context, graphID string) error {
	return workflow.ExecuteActivity(ctx, "ReleaseMigrationClaim", graphID).Get(ctx, nil)
}
