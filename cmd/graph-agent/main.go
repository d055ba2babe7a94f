package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/edvin/graphfleet/internal/agent"
	"github.com/edvin/graphfleet/internal/agent/engine"
	"github.com/edvin/graphfleet/internal/config"
	"github.com/edvin/graphfleet/internal/logging"
	"github.com/edvin/graphfleet/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg.ServiceName = "graph-agent"

	if err := cfg.Validate("graph-agent"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	eng, err := engine.New(cfg.EngineBackend, cfg.EngineEndpoint, cfg.EngineAPIKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure engine")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := agent.NewAPIClient(cfg.FleetAPIURL, cfg.FleetAPIKey, logger)

	registerCtx, registerCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := agent.Register(registerCtx, logger, cfg, client); err != nil {
		registerCancel()
		logger.Fatal().Err(err).Msg("failed to register with fleet API")
	}
	registerCancel()

	admission := agent.NewAdmission(cfg.ConnectionCap, cfg.QueueDepthLimit)
	process := agent.NewSystemdProcess(cfg.EngineBackend, logger)

	var snapshotter *agent.Snapshotter
	if cfg.SnapshotBucket != "" {
		snapshotter = agent.NewSnapshotter(logger, cfg.InstanceID, cfg.DataDir,
			cfg.SnapshotBucket, cfg.SnapshotEndpoint, cfg.SnapshotRegion,
			cfg.SnapshotAccessKey, cfg.SnapshotSecretKey)
	}

	lifecycle := agent.NewLifecycle(logger, cfg.InstanceID, client, admission, process,
		snapshotter, cfg.DrainTimeout)
	monitor := agent.NewHealthMonitor(logger, cfg.InstanceID, eng, process, client,
		admission, cfg.HealthInterval, cfg.MaxDatabases)
	srv := agent.NewServer(logger, cfg, eng, admission, lifecycle, snapshotter)

	if cfg.MetricsAddr != "" {
		metricsSrv := metrics.NewServer(cfg.MetricsAddr)
		go func() {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("starting metrics server")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.HealthChecksEnabled {
		g.Go(func() error {
			monitor.RunLoop(gctx)
			return nil
		})
	} else {
		logger.Warn().Msg("health checks disabled; instance will stay in its registered status")
	}
	g.Go(func() error {
		return srv.ListenAndServe()
	})
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
			logger.Info().Msg("shutting down agent")
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	if err := g.Wait(); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("agent failed")
	}
}
