package agent

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/edvin/graphfleet/internal/agent/engine"
	"github.com/edvin/graphfleet/internal/config"
	"github.com/edvin/graphfleet/internal/model"
)

// Server exposes the instance HTTP surface the routing client consumes.
// Authentication runs before admission control so unauthenticated traffic
// never holds a connection slot.
type Server struct {
	logger      zerolog.Logger
	cfg         *config.Config
	engine      engine.Engine
	admission   *Admission
	lifecycle   *Lifecycle
	snapshotter *Snapshotter
	router      chi.Router
}

func NewServer(logger zerolog.Logger, cfg *config.Config, eng engine.Engine, admission *Admission, lifecycle *Lifecycle, snapshotter *Snapshotter) *Server {
	s := &Server{
		logger:      logger.With().Str("component", "agent-server").Logger(),
		cfg:         cfg,
		engine:      eng,
		admission:   admission,
		lifecycle:   lifecycle,
		snapshotter: snapshotter,
	}
	s.setupRoutes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) ListenAndServe() error {
	s.logger.Info().Str("addr", s.cfg.AgentListenAddr).Msg("agent server listening")
	return s.httpServer().ListenAndServe()
}

func (s *Server) httpServer() *http.Server {
	return &http.Server{
		Addr:         s.cfg.AgentListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.authenticate)

	r.Post("/databases", s.handleCreateDatabase)
	r.Post("/databases/{databaseID}/query", s.handleQuery)
	r.Get("/status", s.handleStatus)
	r.Get("/info", s.handleInfo)
	r.Post("/admin/drain", s.handleDrain)
	r.Get("/admin/connections", s.handleConnections)
	r.Post("/admin/snapshots/{databaseID}", s.handleSnapshot)
	r.Post("/admin/restore/{databaseID}", s.handleRestore)

	s.router = r
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.AgentAPIKey)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleCreateDatabase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		s.writeError(w, http.StatusBadRequest, "missing database id")
		return
	}

	if s.admission.Draining() {
		s.writeUnavailable(w, 0, "instance is draining")
		return
	}

	if err := s.engine.CreateDatabase(r.Context(), req.ID); err != nil {
		s.logger.Error().Err(err).Str("database", req.ID).Msg("create database failed")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info().Str("database", req.ID).Msg("database created")
	s.writeJSON(w, http.StatusCreated, map[string]string{"id": req.ID})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	databaseID := chi.URLParam(r, "databaseID")

	var req model.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
		s.writeError(w, http.StatusBadRequest, "missing query")
		return
	}

	release, err := s.admission.Acquire(r.Context(), databaseID)
	if err != nil {
		var rejected *RejectedError
		switch {
		case errors.As(err, &rejected):
			s.writeUnavailable(w, rejected.RetryAfter, rejected.Error())
		case errors.Is(err, ErrDraining):
			s.writeUnavailable(w, 0, "instance is draining")
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	defer release()

	result, err := s.engine.Query(r.Context(), databaseID, &req)
	if err != nil {
		s.writeEngineError(w, databaseID, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := model.StatusSnapshot{
		Status:            model.InstanceHealthy,
		ActiveConnections: s.admission.Active(),
		Draining:          s.admission.Draining(),
	}
	if s.admission.Draining() {
		snap.Status = model.InstanceDraining
	}
	if dbs, err := s.engine.ListDatabases(r.Context()); err == nil {
		snap.DatabaseCount = len(dbs)
		if s.cfg.MaxDatabases > 0 {
			snap.AvailableCapacityPct = (1 - float64(len(dbs))/float64(s.cfg.MaxDatabases)) * 100
		}
	} else {
		snap.Status = model.InstanceUnhealthy
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, model.NodeInfo{
		InstanceID:    s.cfg.InstanceID,
		NodeType:      s.cfg.NodeType,
		Tier:          s.cfg.Tier,
		Region:        s.cfg.Region,
		EngineBackend: s.cfg.EngineBackend,
	})
}

func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	// Decommission runs detached from the request; the drain wait alone can
	// take minutes.
	go s.lifecycle.Decommission(context.WithoutCancel(r.Context()))
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "draining"})
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, model.ConnectionCount{Active: s.admission.Active()})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.snapshotter == nil {
		s.writeError(w, http.StatusNotImplemented, "snapshot storage not configured")
		return
	}
	databaseID := chi.URLParam(r, "databaseID")
	key, err := s.snapshotter.Snapshot(r.Context(), databaseID)
	if err != nil {
		s.logger.Error().Err(err).Str("database", databaseID).Msg("snapshot failed")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, model.SnapshotRef{Key: key})
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	if s.snapshotter == nil {
		s.writeError(w, http.StatusNotImplemented, "snapshot storage not configured")
		return
	}
	databaseID := chi.URLParam(r, "databaseID")

	var req model.SnapshotRef
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" {
		s.writeError(w, http.StatusBadRequest, "missing snapshot key")
		return
	}
	if err := s.snapshotter.Restore(r.Context(), databaseID, req.Key); err != nil {
		s.logger.Error().Err(err).Str("database", databaseID).Str("key", req.Key).Msg("restore failed")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "restored"})
}

func (s *Server) writeEngineError(w http.ResponseWriter, databaseID string, err error) {
	var syntaxErr *engine.SyntaxError
	switch {
	case errors.As(err, &syntaxErr):
		s.writeError(w, http.StatusBadRequest, syntaxErr.Detail)
	case errors.Is(err, engine.ErrDatabaseNotFound):
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("database %s not found", databaseID))
	default:
		s.logger.Error().Err(err).Str("database", databaseID).Msg("query failed")
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) writeUnavailable(w http.ResponseWriter, retryAfter time.Duration, msg string) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
	}
	s.writeError(w, http.StatusServiceUnavailable, msg)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
