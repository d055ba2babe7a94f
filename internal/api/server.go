package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/edvin/graphfleet/internal/api/handler"
	mw "github.com/edvin/graphfleet/internal/api/middleware"
	"github.com/edvin/graphfleet/internal/cache"
	"github.com/edvin/graphfleet/internal/config"
	"github.com/edvin/graphfleet/internal/registry"
	"github.com/edvin/graphfleet/internal/routing"
)

type Server struct {
	router       chi.Router
	logger       zerolog.Logger
	services     *registry.Services
	registryPool *pgxpool.Pool
	cache        cache.Cache
	factory      *routing.Factory
	cfg          *config.Config
}

func NewServer(logger zerolog.Logger, registryPool *pgxpool.Pool, c cache.Cache, cfg *config.Config) *Server {
	services := registry.NewServices(registryPool)
	resolver := routing.NewResolver(services.Instances, services.Graphs, c,
		cfg.LocationCacheTTL, cfg.SharedMasterCacheTTL, logger)
	breakers := routing.NewBreakerSet(cfg.BreakerThreshold, cfg.BreakerTimeout)
	factory := routing.NewFactory(cfg, resolver, breakers, logger)

	s := &Server{
		router:       chi.NewRouter(),
		logger:       logger,
		services:     services,
		registryPool: registryPool,
		cache:        c,
		factory:      factory,
		cfg:          cfg,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	// Prometheus metrics endpoint
	s.router.Handle("/metrics", promhttp.Handler())

	// Health check endpoints
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	// Operator surface.
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.Auth(s.registryPool))

		instance := handler.NewInstance(s.services.Instances, s.services.Volumes, s.factory, s.logger)
		r.Get("/instances", instance.List)
		r.Get("/instances/{instanceID}", instance.Get)
		r.Get("/instances/{instanceID}/volumes", instance.ListVolumes)
		r.Post("/instances/{instanceID}/drain", instance.Drain)
		r.Delete("/instances/{instanceID}", instance.Delete)

		graph := handler.NewGraph(s.services.Graphs, s.services.Instances, s.factory, s.logger)
		r.Get("/graphs", graph.List)
		r.Post("/graphs", graph.Create)
		r.Get("/graphs/{graphID}", graph.Get)
		r.Delete("/graphs/{graphID}", graph.Delete)
		r.Post("/graphs/{graphID}/query", graph.Query)

		volume := handler.NewVolume(s.services.Volumes, s.logger)
		r.Post("/volumes", volume.Create)
		r.Get("/volumes/{volumeID}", volume.Get)
		r.Delete("/volumes/{volumeID}", volume.Delete)
	})

	// Agent surface. Agents never write the registry directly; everything
	// flows through these endpoints.
	s.router.Route("/internal/v1", func(r chi.Router) {
		r.Use(mw.Auth(s.registryPool))

		internal := handler.NewInternal(s.cfg, s.services.Instances, s.services.Graphs, s.cache, s.logger)
		r.Post("/instances/register", internal.Register)
		r.Post("/instances/{instanceID}/health", internal.ReportHealth)
		r.Get("/instances/{instanceID}/ingestion", internal.IngestionFlag)
		r.Post("/instances/{instanceID}/ingestion", internal.SetIngestionFlag)
		r.Post("/instances/{instanceID}/drain", internal.BeginDrain)
		r.Post("/instances/{instanceID}/migrations", internal.MarkMigrations)
		r.Post("/instances/{instanceID}/terminated", internal.ReportTerminated)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := s.registryPool.Ping(ctx); err != nil {
		checks["registry_db"] = err.Error()
		healthy = false
	} else {
		checks["registry_db"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
