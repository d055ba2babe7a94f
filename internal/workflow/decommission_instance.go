package workflow

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/graphfleet/internal/model"
)

// DecommissionInstanceParams holds parameters for DecommissionInstanceWorkflow.
type DecommissionInstanceParams struct {
	InstanceID string `json:"instance_id"`
}

const (
	decommissionPollInterval = 15 * time.Second
	decommissionTimeout      = 30 * time.Minute
)

// DecommissionInstanceWorkflow retires an instance. The agent owns the
// shutdown sequence (drain, migration marking, snapshots, engine stop); this
// workflow triggers it and watches the registry until the instance reports
// terminated. The migration backlog created by the drain is picked up by the
// reassignment cron.
func DecommissionInstanceWorkflow(ctx workflow.Context, params DecommissionInstanceParams) error {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 1 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    3,
			InitialInterval:    2 * time.Second,
			MaximumInterval:    30 * time.Second,
			BackoffCoefficient: 2.0,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	logger := workflow.GetLogger(ctx)

	var inst model.Instance
	err := workflow.ExecuteActivity(ctx, "GetInstance", params.InstanceID).Get(ctx, &inst)
	if err != nil {
		return fmt.Errorf("get instance %s: %w", params.InstanceID, err)
	}

	switch inst.Status {
	case model.InstanceTerminated:
		return nil
	case model.InstanceHealthy, model.InstanceUnhealthy, model.InstanceDraining:
	default:
		return fmt.Errorf("instance %s is %s, refusing to decommission", inst.ID, inst.Status)
	}

	if inst.Status != model.InstanceDraining {
		err = workflow.ExecuteActivity(ctx, "DrainInstance", inst.Endpoint).Get(ctx, nil)
		if err != nil {
			return fmt.Errorf("trigger drain on %s: %w", inst.ID, err)
		}
		logger.Info("drain triggered", "instance_id", inst.ID)
	}

	deadline := workflow.Now(ctx).Add(decommissionTimeout)
	for {
		if err := workflow.Sleep(ctx, decommissionPollInterval); err != nil {
			return err
		}

		var current model.Instance
		err := workflow.ExecuteActivity(ctx, "GetInstance", params.InstanceID).Get(ctx, &current)
		if err != nil {
			return fmt.Errorf("poll instance %s: %w", params.InstanceID, err)
		}
		if current.Status == model.InstanceTerminated {
			logger.Info("instance decommissioned", "instance_id", params.InstanceID)
			return nil
		}
		if workflow.Now(ctx).After(deadline) {
			return fmt.Errorf("instance %s still %s after %s", params.InstanceID, current.Status, decommissionTimeout)
		}
	}
}
