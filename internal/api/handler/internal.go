package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/edvin/graphfleet/internal/api/request"
	"github.com/edvin/graphfleet/internal/api/response"
	"github.com/edvin/graphfleet/internal/cache"
	"github.com/edvin/graphfleet/internal/config"
	"github.com/edvin/graphfleet/internal/model"
	"github.com/edvin/graphfleet/internal/registry"
)

// Internal serves the /internal/v1 surface: the endpoints graph-agents and
// the ingestion pipeline call. Agents never touch the registry directly;
// every state change flows through here so the registry stays the single
// synchronization point.
type Internal struct {
	cfg       *config.Config
	instances *registry.InstanceRegistry
	graphs    *registry.GraphRegistry
	cache     cache.Cache
	logger    zerolog.Logger
}

func NewInternal(cfg *config.Config, instances *registry.InstanceRegistry, graphs *registry.GraphRegistry, c cache.Cache, logger zerolog.Logger) *Internal {
	return &Internal{cfg: cfg, instances: instances, graphs: graphs, cache: c, logger: logger}
}

// Register upserts an instance row at agent boot.
func (h *Internal) Register(w http.ResponseWriter, r *http.Request) {
	var req request.RegisterInstance
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	inst := &model.Instance{
		ID:           req.ID,
		NodeType:     req.NodeType,
		Tier:         req.Tier,
		Region:       req.Region,
		Endpoint:     req.Endpoint,
		Status:       model.InstanceInitializing,
		Repository:   req.Repository,
		MaxDatabases: req.MaxDatabases,
		ClusterGroup: req.ClusterGroup,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := h.instances.Register(r.Context(), inst); err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.logger.Info().Str("instance_id", inst.ID).Str("node_type", inst.NodeType).
		Str("region", inst.Region).Msg("instance registered")
	response.WriteJSON(w, http.StatusOK, inst)
}

// ReportHealth records an agent health report and refreshes the health cache
// entry the routing layer consults before handing out clients.
func (h *Internal) ReportHealth(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceID")

	var report model.InstanceHealth
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		response.WriteError(w, http.StatusBadRequest, "invalid health report")
		return
	}
	report.InstanceID = instanceID
	if report.ReportedAt.IsZero() {
		report.ReportedAt = time.Now().UTC()
	}
	switch report.Status {
	case model.InstanceHealthy, model.InstanceUnhealthy, model.InstanceDraining:
	default:
		response.WriteError(w, http.StatusBadRequest, "unknown status "+report.Status)
		return
	}

	if err := h.instances.RecordHealth(r.Context(), &report); err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.cache.Set(r.Context(), cache.HealthKey(instanceID), report.Status, h.cfg.HealthCacheTTL)
	response.WriteJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

// IngestionFlag reports whether bulk ingestion is active on the instance.
// The marker has no TTL; the pipeline sets and clears it explicitly.
func (h *Internal) IngestionFlag(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceID")
	_, active := h.cache.Get(r.Context(), cache.IngestionActiveKey(instanceID))
	response.WriteJSON(w, http.StatusOK, map[string]bool{"active": active})
}

// SetIngestionFlag is called by the ingestion pipeline around bulk loads.
func (h *Internal) SetIngestionFlag(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceID")

	var req request.SetIngestionFlag
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := cache.IngestionActiveKey(instanceID)
	if req.Active {
		h.cache.Set(r.Context(), key, strconv.FormatInt(time.Now().Unix(), 10), 0)
	} else {
		h.cache.Delete(r.Context(), key)
	}
	h.logger.Info().Str("instance_id", instanceID).Bool("active", req.Active).
		Msg("ingestion flag updated")
	response.WriteJSON(w, http.StatusOK, map[string]bool{"active": req.Active})
}

// BeginDrain transitions an instance healthy -> draining. The transition is
// conditional so two concurrent decommissions cannot both claim the change.
func (h *Internal) BeginDrain(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceID")

	won, err := h.instances.Transition(r.Context(), instanceID, model.InstanceHealthy, model.InstanceDraining)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !won {
		inst, err := h.instances.GetByID(r.Context(), instanceID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				response.WriteError(w, http.StatusNotFound, "instance not found")
				return
			}
			response.WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		// Already draining (or further along) is fine; anything else is a
		// state the caller should not drain from.
		switch inst.Status {
		case model.InstanceDraining, model.InstanceTerminating, model.InstanceTerminated:
			response.WriteJSON(w, http.StatusOK, map[string]string{"status": inst.Status})
			return
		default:
			response.WriteError(w, http.StatusConflict, "instance is "+inst.Status)
			return
		}
	}

	h.cache.Set(r.Context(), cache.HealthKey(instanceID), model.InstanceDraining, h.cfg.HealthCacheTTL)
	h.logger.Info().Str("instance_id", instanceID).Msg("instance draining")
	response.WriteJSON(w, http.StatusOK, map[string]string{"status": model.InstanceDraining})
}

// MarkMigrations flags every active assignment on the instance as
// migration_required and invalidates their cached locations so readers
// re-resolve. Returns the number of assignments marked.
func (h *Internal) MarkMigrations(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceID")

	marked, err := h.graphs.MarkMigrationRequired(r.Context(), instanceID)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	assignments, err := h.graphs.ListByInstance(r.Context(), instanceID)
	if err != nil {
		h.logger.Warn().Err(err).Str("instance_id", instanceID).
			Msg("location cache not invalidated after migration marking")
	} else {
		for _, a := range assignments {
			h.cache.Delete(r.Context(), cache.LocationKey(a.GraphID))
		}
	}

	h.logger.Info().Str("instance_id", instanceID).Int("marked", marked).
		Msg("migrations marked")
	response.WriteJSON(w, http.StatusOK, map[string]int{"marked": marked})
}

// ReportTerminated is the agent's final call before its process exits.
func (h *Internal) ReportTerminated(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceID")

	if err := h.instances.SetStatus(r.Context(), instanceID, model.InstanceTerminated); err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.cache.Set(r.Context(), cache.HealthKey(instanceID), model.InstanceTerminated, h.cfg.HealthCacheTTL)
	h.logger.Info().Str("instance_id", instanceID).Msg("instance terminated")
	response.WriteJSON(w, http.StatusOK, map[string]string{"status": model.InstanceTerminated})
}
