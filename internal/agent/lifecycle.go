package agent

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var lifecyclePhase = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "agent_lifecycle_phase",
	Help: "Current decommission phase (1 for the active phase)",
}, []string{"phase"})

// Lifecycle runs the graceful termination sequence: draining, marking
// databases for migration, waiting out in-flight connections, snapshotting,
// and finally stopping the engine. The instance must be able to terminate
// within bounded time, so every step past the migration marking logs and
// continues on error instead of aborting.
type Lifecycle struct {
	logger      zerolog.Logger
	instanceID  string
	client      *APIClient
	admission   *Admission
	process     ProcessManager
	snapshotter *Snapshotter
	drainWait   time.Duration

	pollInterval time.Duration

	mu      sync.Mutex
	started bool
}

func NewLifecycle(
	logger zerolog.Logger,
	instanceID string,
	client *APIClient,
	admission *Admission,
	process ProcessManager,
	snapshotter *Snapshotter,
	drainWait time.Duration,
) *Lifecycle {
	return &Lifecycle{
		logger:       logger.With().Str("component", "lifecycle").Logger(),
		instanceID:   instanceID,
		client:       client,
		admission:    admission,
		process:      process,
		snapshotter:  snapshotter,
		drainWait:    drainWait,
		pollInterval: 5 * time.Second,
	}
}

// Decommission runs the termination sequence once. Subsequent calls while a
// run is active (or after one finished) are no-ops.
func (l *Lifecycle) Decommission(ctx context.Context) {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		l.logger.Info().Msg("decommission already in progress")
		return
	}
	l.started = true
	l.mu.Unlock()

	l.logger.Info().Msg("decommission starting")

	// Draining and migration marking are the two steps that prevent stale
	// routing; they are attempted even if earlier parts failed.
	l.setPhase("draining")
	l.admission.StartDraining()
	if err := l.client.BeginDrain(ctx, l.instanceID); err != nil {
		l.logger.Error().Err(err).Msg("failed to mark instance draining in registry")
	}

	l.setPhase("migrating_databases")
	if marked, err := l.client.RequestMigration(ctx, l.instanceID); err != nil {
		l.logger.Error().Err(err).Msg("failed to mark databases for migration")
	} else {
		l.logger.Info().Int("marked", marked).Msg("databases marked for migration")
	}

	l.waitForDrain(ctx)

	l.setPhase("snapshotting")
	if l.snapshotter != nil {
		if err := l.snapshotter.SnapshotAll(ctx); err != nil {
			l.logger.Error().Err(err).Msg("snapshot incomplete, continuing termination")
		}
	}

	l.setPhase("terminated")
	if err := l.process.Stop(ctx); err != nil {
		l.logger.Error().Err(err).Msg("failed to stop engine")
	}
	if err := l.client.ReportTerminated(ctx, l.instanceID); err != nil {
		l.logger.Error().Err(err).Msg("failed to record terminated status")
	}
	l.logger.Info().Msg("decommission complete")
}

// waitForDrain polls the in-flight connection count until it reaches zero or
// the bounded wait elapses. Termination proceeds either way.
func (l *Lifecycle) waitForDrain(ctx context.Context) {
	deadline := time.Now().Add(l.drainWait)
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		active := l.admission.Active()
		if active == 0 {
			l.logger.Info().Msg("all connections drained")
			return
		}
		if time.Now().After(deadline) {
			l.logger.Warn().Int("active", active).Msg("drain wait elapsed with connections still open")
			return
		}
		l.logger.Debug().Int("active", active).Msg("waiting for connections to drain")

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (l *Lifecycle) setPhase(phase string) {
	lifecyclePhase.Reset()
	lifecyclePhase.WithLabelValues(phase).Set(1)
	l.logger.Info().Str("phase", phase).Msg("lifecycle phase")
}
