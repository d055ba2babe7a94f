package agent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/edvin/graphfleet/internal/agent/engine"
	"github.com/edvin/graphfleet/internal/model"
)

var (
	healthStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agent_health_status",
		Help: "Current engine health (1=healthy, 0=unhealthy)",
	})
	healthReportTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_health_report_total",
		Help: "Health reports sent",
	}, []string{"result"})
	engineRestartTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agent_engine_restarts_total",
		Help: "Engine restart attempts triggered by failed probes",
	})
)

// HealthMonitor probes the local engine and reports the result to fleet-api.
// The check is two-tier: an active-ingestion flag unconditionally wins over
// the liveness probe, because bulk ingestion can make the engine
// unresponsive to probes for long stretches of perfectly normal operation.
// Probe-only health would fail over instances that are merely busy.
type HealthMonitor struct {
	logger     zerolog.Logger
	instanceID string
	engine     engine.Engine
	process    ProcessManager
	client     *APIClient
	admission  *Admission
	interval   time.Duration
	maxDBs     int

	probeTimeout time.Duration
}

func NewHealthMonitor(
	logger zerolog.Logger,
	instanceID string,
	eng engine.Engine,
	process ProcessManager,
	client *APIClient,
	admission *Admission,
	interval time.Duration,
	maxDatabases int,
) *HealthMonitor {
	return &HealthMonitor{
		logger:       logger.With().Str("component", "health-monitor").Logger(),
		instanceID:   instanceID,
		engine:       eng,
		process:      process,
		client:       client,
		admission:    admission,
		interval:     interval,
		maxDBs:       maxDatabases,
		probeTimeout: 10 * time.Second,
	}
}

// RunLoop runs the periodic health check until the context ends. The first
// check fires immediately so a freshly registered instance does not sit in
// initializing for a whole interval before it becomes resolvable.
func (h *HealthMonitor) RunLoop(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.Check(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Check(ctx)
		}
	}
}

// Check performs one health check cycle and reports the result.
func (h *HealthMonitor) Check(ctx context.Context) {
	status := h.probe(ctx)

	if status == model.InstanceHealthy {
		healthStatus.Set(1)
	} else {
		healthStatus.Set(0)
	}

	checks, _ := json.Marshal(map[string]any{
		"active_connections": h.admission.Active(),
		"draining":           h.admission.Draining(),
	})

	report := &model.InstanceHealth{
		InstanceID:           h.instanceID,
		Status:               status,
		DatabaseCount:        h.databaseCount(ctx),
		AvailableCapacityPct: h.availableCapacityPct(ctx),
		Checks:               checks,
		ReportedAt:           time.Now().UTC(),
	}

	if err := h.client.ReportHealth(ctx, report); err != nil {
		healthReportTotal.WithLabelValues("failure").Inc()
		h.logger.Warn().Err(err).Msg("failed to report health")
		return
	}
	healthReportTotal.WithLabelValues("success").Inc()
	h.logger.Debug().Str("status", status).Msg("health reported")
}

func (h *HealthMonitor) probe(ctx context.Context) string {
	active, err := h.client.IngestionActive(ctx, h.instanceID)
	if err != nil {
		h.logger.Warn().Err(err).Msg("could not read ingestion flag, falling through to probe")
	} else if active {
		// Mid-ingestion the engine may legitimately not answer probes.
		h.logger.Debug().Msg("ingestion active, skipping liveness probe")
		return model.InstanceHealthy
	}

	if err := h.ping(ctx); err == nil {
		return model.InstanceHealthy
	} else {
		h.logger.Warn().Err(err).Msg("liveness probe failed, attempting engine restart")
	}

	engineRestartTotal.Inc()
	if err := h.process.Restart(ctx); err != nil {
		h.logger.Error().Err(err).Msg("engine restart failed")
		return model.InstanceUnhealthy
	}

	if err := h.ping(ctx); err != nil {
		h.logger.Error().Err(err).Msg("probe still failing after restart")
		return model.InstanceUnhealthy
	}
	h.logger.Info().Msg("engine recovered after restart")
	return model.InstanceHealthy
}

func (h *HealthMonitor) ping(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, h.probeTimeout)
	defer cancel()
	return h.engine.Ping(probeCtx)
}

func (h *HealthMonitor) databaseCount(ctx context.Context) int {
	dbs, err := h.engine.ListDatabases(ctx)
	if err != nil {
		h.logger.Debug().Err(err).Msg("could not count databases")
		return 0
	}
	return len(dbs)
}

func (h *HealthMonitor) availableCapacityPct(ctx context.Context) float64 {
	if h.maxDBs == 0 {
		return 0
	}
	used := float64(h.databaseCount(ctx)) / float64(h.maxDBs)
	return (1 - used) * 100
}
