package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/edvin/graphfleet/internal/api/request"
	"github.com/edvin/graphfleet/internal/api/response"
	"github.com/edvin/graphfleet/internal/model"
	"github.com/edvin/graphfleet/internal/platform"
	"github.com/edvin/graphfleet/internal/registry"
	"github.com/edvin/graphfleet/internal/routing"
)

type Graph struct {
	graphs    *registry.GraphRegistry
	instances *registry.InstanceRegistry
	factory   *routing.Factory
	logger    zerolog.Logger
}

func NewGraph(graphs *registry.GraphRegistry, instances *registry.InstanceRegistry, factory *routing.Factory, logger zerolog.Logger) *Graph {
	return &Graph{graphs: graphs, instances: instances, factory: factory, logger: logger}
}

// Create places a new tenant graph: pick the healthy writer with the most
// headroom, create the database on it, then record the assignment.
func (h *Graph) Create(w http.ResponseWriter, r *http.Request) {
	var req request.CreateGraph
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	graphID := req.GraphID
	if graphID == "" {
		graphID = platform.NewName("kg_")
	}

	instance, err := h.instances.FindPlacementCandidate(r.Context(), req.Tier)
	if err != nil {
		h.logger.Warn().Err(err).Str("tier", req.Tier).Msg("no placement candidate")
		response.WriteError(w, http.StatusServiceUnavailable, "no instance with capacity available")
		return
	}

	client := h.factory.ClientFor(instance.Endpoint)
	if err := client.CreateDatabase(r.Context(), graphID); err != nil {
		h.logger.Error().Err(err).Str("graph_id", graphID).Str("instance_id", instance.ID).
			Msg("database creation failed")
		writeRoutingError(w, err)
		return
	}

	now := time.Now().UTC()
	assignment := &model.GraphAssignment{
		GraphID:           graphID,
		InstanceID:        instance.ID,
		EntityID:          req.EntityID,
		RepositoryType:    model.RepositoryTenant,
		Status:            model.AssignmentActive,
		CurrentRegion:     req.Region,
		ReplicationStatus: "none",
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := h.graphs.Create(r.Context(), assignment); err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := h.instances.AdjustDatabaseCount(r.Context(), instance.ID, 1); err != nil {
		h.logger.Warn().Err(err).Str("instance_id", instance.ID).Msg("database count not adjusted")
	}

	h.logger.Info().Str("graph_id", graphID).Str("instance_id", instance.ID).Msg("graph created")
	response.WriteJSON(w, http.StatusCreated, assignment)
}

func (h *Graph) Get(w http.ResponseWriter, r *http.Request) {
	graphID := chi.URLParam(r, "graphID")
	assignment, err := h.graphs.GetByGraphID(r.Context(), graphID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.WriteError(w, http.StatusNotFound, "graph not found")
			return
		}
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, assignment)
}

func (h *Graph) List(w http.ResponseWriter, r *http.Request) {
	entityID := r.URL.Query().Get("entity_id")
	instanceID := r.URL.Query().Get("instance_id")

	var (
		assignments []model.GraphAssignment
		err         error
	)
	switch {
	case entityID != "":
		assignments, err = h.graphs.ListByEntity(r.Context(), entityID)
	case instanceID != "":
		assignments, err = h.graphs.ListByInstance(r.Context(), instanceID)
	default:
		response.WriteError(w, http.StatusBadRequest, "entity_id or instance_id filter required")
		return
	}
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, assignments)
}

// Query is the gateway path: resolve the graph's instance through the
// routing layer and proxy one query to it.
func (h *Graph) Query(w http.ResponseWriter, r *http.Request) {
	graphID := chi.URLParam(r, "graphID")

	var req request.ExecuteQuery
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	op := routing.OperationRead
	if req.Write {
		op = routing.OperationWrite
	}

	client, err := h.factory.ForGraph(r.Context(), graphID, op, req.Tier)
	if err != nil {
		writeRoutingError(w, err)
		return
	}

	result, err := client.Query(r.Context(), graphID, &model.QueryRequest{
		Query:      req.Query,
		Parameters: req.Parameters,
	})
	if err != nil {
		// The instance no longer hosts the graph: the cached location is
		// stale, drop it so the next request re-resolves.
		var ce *routing.CallError
		if errors.As(err, &ce) && ce.Kind == routing.KindNotFound {
			h.factory.Invalidate(r.Context(), graphID)
		}
		writeRoutingError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, result)
}

func (h *Graph) Delete(w http.ResponseWriter, r *http.Request) {
	graphID := chi.URLParam(r, "graphID")
	assignment, err := h.graphs.GetByGraphID(r.Context(), graphID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.WriteError(w, http.StatusNotFound, "graph not found")
			return
		}
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := h.graphs.Delete(r.Context(), graphID); err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := h.instances.AdjustDatabaseCount(r.Context(), assignment.InstanceID, -1); err != nil {
		h.logger.Warn().Err(err).Str("instance_id", assignment.InstanceID).Msg("database count not adjusted")
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeRoutingError maps routing-layer failures onto gateway responses.
// Discovery failures and open breakers are 503-equivalents; caller faults
// pass through with their original status.
func writeRoutingError(w http.ResponseWriter, err error) {
	var coe *routing.CircuitOpenError
	if errors.As(err, &coe) {
		response.WriteUnavailable(w, coe.RetryAfter, "instance temporarily unavailable")
		return
	}
	if errors.Is(err, routing.ErrNotFound) {
		response.WriteError(w, http.StatusNotFound, "no instance hosts this graph")
		return
	}
	if errors.Is(err, routing.ErrServiceUnavailable) {
		response.WriteError(w, http.StatusServiceUnavailable, "no healthy instance available")
		return
	}

	var ce *routing.CallError
	if errors.As(err, &ce) {
		switch ce.Kind {
		case routing.KindSyntax:
			response.WriteError(w, http.StatusBadRequest, ce.Message)
		case routing.KindNotFound:
			response.WriteError(w, http.StatusNotFound, ce.Message)
		case routing.KindUnavailable:
			response.WriteUnavailable(w, ce.RetryAfter, ce.Message)
		case routing.KindAuth:
			// The gateway's key was rejected by the instance; that is an
			// upstream misconfiguration, not the caller's fault.
			response.WriteError(w, http.StatusBadGateway, "instance rejected gateway credentials")
		default:
			response.WriteError(w, http.StatusBadGateway, ce.Message)
		}
		return
	}
	response.WriteError(w, http.StatusInternalServerError, err.Error())
}
