package workflow

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/graphfleet/internal/model"
)

const reassignBatchSize = 20

// ReassignGraphsWorkflow runs on a cron schedule and drains the
// migration_required backlog: each pending assignment gets a child
// MigrateGraphWorkflow. Failed migrations stay in the backlog (the child
// releases its claim) and are retried on the next run.
func ReassignGraphsWorkflow(ctx workflow.Context) error {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 2,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	logger := workflow.GetLogger(ctx)

	var pending []model.GraphAssignment
	err := workflow.ExecuteActivity(ctx, "ListMigrationRequired", reassignBatchSize).Get(ctx, &pending)
	if err != nil {
		return fmt.Errorf("list pending migrations: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	logger.Info("reassigning graphs", "pending", len(pending))

	var failed int
	for _, assignment := range pending {
		cwo := workflow.ChildWorkflowOptions{
			WorkflowID: fmt.Sprintf("migrate-graph-%s", assignment.GraphID),
		}
		childCtx := workflow.WithChildOptions(ctx, cwo)

		err := workflow.ExecuteChildWorkflow(childCtx, MigrateGraphWorkflow, MigrateGraphParams{
			GraphID: assignment.GraphID,
		}).Get(ctx, nil)
		if err != nil {
			failed++
			logger.Warn("graph migration failed", "graph_id", assignment.GraphID, "error", err)
		}
	}

	if failed > 0 {
		logger.Warn("reassignment run finished with failures", "failed", failed, "total", len(pending))
	}
	return nil
}
