package workflow

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/graphfleet/internal/activity"
	"github.com/edvin/graphfleet/internal/model"
)

// staleHeartbeatCutoff is how long an instance may go without a health
// report before the fleet stops trusting it. Agents report every 5 minutes,
// so two missed reports mark the instance unhealthy.
const staleHeartbeatCutoff = 10 * time.Minute

// FleetHealthWorkflow runs on a cron schedule and marks instances whose
// agents have stopped reporting as unhealthy, taking them out of discovery
// until their next successful health report.
func FleetHealthWorkflow(ctx workflow.Context) error {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 2,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	logger := workflow.GetLogger(ctx)

	var stale []model.Instance
	err := workflow.ExecuteActivity(ctx, "FindStaleHeartbeats", staleHeartbeatCutoff).Get(ctx, &stale)
	if err != nil {
		return fmt.Errorf("find stale heartbeats: %w", err)
	}

	for _, inst := range stale {
		last := "never"
		if inst.LastHealthCheck != nil {
			last = inst.LastHealthCheck.Format(time.RFC3339)
		}
		logger.Warn("instance heartbeat stale, marking unhealthy",
			"instance_id", inst.ID, "last_health_check", last)

		err := workflow.ExecuteActivity(ctx, "SetInstanceStatus", activity.SetInstanceStatusParams{
			InstanceID: inst.ID,
			Status:     model.InstanceUnhealthy,
		}).Get(ctx, nil)
		if err != nil {
			logger.Error("failed to mark instance unhealthy", "instance_id", inst.ID, "error", err)
		}
	}

	return nil
}
