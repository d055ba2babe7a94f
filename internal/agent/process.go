package agent

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/rs/zerolog"
)

// ProcessManager controls the local engine process. The health monitor uses
// Restart for its single recovery attempt before reporting an instance
// unhealthy; the lifecycle manager uses Stop at termination.
type ProcessManager interface {
	Restart(ctx context.Context) error
	Stop(ctx context.Context) error
}

// SystemdProcess restarts the engine through its systemd unit. Production
// instances run the engine as a unit named after the backend (kuzu-server,
// neo4j).
type SystemdProcess struct {
	unit   string
	logger zerolog.Logger
}

func NewSystemdProcess(unit string, logger zerolog.Logger) *SystemdProcess {
	return &SystemdProcess{
		unit:   unit,
		logger: logger.With().Str("component", "process-manager").Str("unit", unit).Logger(),
	}
}

func (p *SystemdProcess) Restart(ctx context.Context) error {
	p.logger.Info().Msg("restarting engine")
	cmd := exec.CommandContext(ctx, "systemctl", "restart", p.unit)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("systemctl restart %s: %w: %s", p.unit, err, string(output))
	}
	return nil
}

// Stop stops the engine unit. Used by the lifecycle manager at termination.
func (p *SystemdProcess) Stop(ctx context.Context) error {
	p.logger.Info().Msg("stopping engine")
	cmd := exec.CommandContext(ctx, "systemctl", "stop", p.unit)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("systemctl stop %s: %w: %s", p.unit, err, string(output))
	}
	return nil
}
