package workflow

import (
	"go.temporal.io/sdk/testsuite"

	"github.com/edvin/graphfleet/internal/activity"
)

// registerActivities registers activity structs with the test workflow
// environment so parameter and return types deserialize correctly. The
// activities themselves are mocked via OnActivity in each test.
func registerActivities(env *testsuite.TestWorkflowEnvironment) {
	env.RegisterActivity(&activity.Registry{})
	env.RegisterActivity(&activity.AgentActivities{})
	env.RegisterActivity(&activity.StorageActivities{})
}
