package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/edvin/graphfleet/internal/activity"
	"github.com/edvin/graphfleet/internal/cache"
	"github.com/edvin/graphfleet/internal/config"
	"github.com/edvin/graphfleet/internal/db"
	"github.com/edvin/graphfleet/internal/logging"
	"github.com/edvin/graphfleet/internal/metrics"
	"github.com/edvin/graphfleet/internal/registry"
	"github.com/edvin/graphfleet/internal/routing"
	"github.com/edvin/graphfleet/internal/workflow"
)

const taskQueue = "graphfleet-tasks"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg.ServiceName = "worker"

	if err := cfg.Validate("worker"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registryPool, err := db.NewRegistryPool(ctx, cfg.RegistryDatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to registry database")
	}
	defer registryPool.Close()
	metrics.RegisterPgxPoolMetrics(registryPool, "worker")

	tlsConfig, err := cfg.TemporalTLS()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure temporal TLS")
	}
	dialOpts := temporalclient.Options{HostPort: cfg.TemporalAddress}
	if tlsConfig != nil {
		dialOpts.ConnectionOptions = temporalclient.ConnectionOptions{TLS: tlsConfig}
		logger.Info().Msg("temporal mTLS enabled")
	}
	tc, err := temporalclient.Dial(dialOpts)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to temporal")
	}
	defer tc.Close()

	w := worker.New(tc, taskQueue, worker.Options{})

	// Register activities. Agent HTTP calls share the fleet's routing
	// configuration (retries, breakers, timeouts).
	services := registry.NewServices(registryPool)
	resolver := routing.NewResolver(services.Instances, services.Graphs, cache.NewMemory(),
		cfg.LocationCacheTTL, cfg.SharedMasterCacheTTL, logger)
	factory := routing.NewFactory(cfg, resolver,
		routing.NewBreakerSet(cfg.BreakerThreshold, cfg.BreakerTimeout), logger)

	w.RegisterActivity(activity.NewRegistry(services))
	w.RegisterActivity(activity.NewAgentActivities(factory))
	w.RegisterActivity(activity.NewStorageActivities(cfg))

	// Register workflows
	w.RegisterWorkflow(workflow.MigrateGraphWorkflow)
	w.RegisterWorkflow(workflow.ReassignGraphsWorkflow)
	w.RegisterWorkflow(workflow.FleetHealthWorkflow)
	w.RegisterWorkflow(workflow.DecommissionInstanceWorkflow)

	if cfg.MetricsAddr != "" {
		metricsSrv := metrics.NewServer(cfg.MetricsAddr)
		go func() {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("starting metrics server")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	go func() {
		logger.Info().Str("taskQueue", taskQueue).Msg("starting temporal worker")
		if err := w.Run(worker.InterruptCh()); err != nil {
			logger.Fatal().Err(err).Msg("worker failed")
		}
	}()

	// Register cron schedules. Errors for already-existing schedules are
	// ignored so that re-deploys do not fail.
	registerCronSchedules(ctx, tc, taskQueue, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down worker")
	cancel()
}

type cronSchedule struct {
	id       string
	cron     string
	workflow interface{}
	args     []interface{}
}

func registerCronSchedules(ctx context.Context, tc temporalclient.Client, taskQueue string, logger zerolog.Logger) {
	schedules := []cronSchedule{
		{
			id:       "reassign-graphs-cron",
			cron:     "*/5 * * * *",
			workflow: workflow.ReassignGraphsWorkflow,
		},
		{
			id:       "fleet-health-cron",
			cron:     "*/10 * * * *",
			workflow: workflow.FleetHealthWorkflow,
		},
	}

	scheduleClient := tc.ScheduleClient()

	for _, s := range schedules {
		_, err := scheduleClient.Create(ctx, temporalclient.ScheduleOptions{
			ID: s.id,
			Spec: temporalclient.ScheduleSpec{
				CronExpressions: []string{s.cron},
			},
			Action: &temporalclient.ScheduleWorkflowAction{
				ID:        s.id,
				Workflow:  s.workflow,
				Args:      s.args,
				TaskQueue: taskQueue,
			},
		})
		if err != nil {
			if strings.Contains(err.Error(), "already exists") || strings.Contains(err.Error(), "AlreadyExists") || strings.Contains(err.Error(), "already registered") {
				logger.Info().Str("id", s.id).Msg("cron schedule already exists, skipping")
			} else {
				logger.Fatal().Err(err).Str("id", s.id).Msg("failed to create cron schedule")
			}
		} else {
			logger.Info().Str("id", s.id).Str("cron", s.cron).Msg("created cron schedule")
		}
	}
}
