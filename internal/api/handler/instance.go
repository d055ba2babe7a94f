package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/edvin/graphfleet/internal/api/response"
	"github.com/edvin/graphfleet/internal/model"
	"github.com/edvin/graphfleet/internal/registry"
	"github.com/edvin/graphfleet/internal/routing"
)

type Instance struct {
	instances *registry.InstanceRegistry
	volumes   *registry.VolumeRegistry
	factory   *routing.Factory
	logger    zerolog.Logger
}

func NewInstance(instances *registry.InstanceRegistry, volumes *registry.VolumeRegistry, factory *routing.Factory, logger zerolog.Logger) *Instance {
	return &Instance{instances: instances, volumes: volumes, factory: factory, logger: logger}
}

func (h *Instance) List(w http.ResponseWriter, r *http.Request) {
	region := r.URL.Query().Get("region")
	tier := r.URL.Query().Get("tier")
	status := r.URL.Query().Get("status")

	var (
		instances []model.Instance
		err       error
	)
	if region != "" {
		instances, err = h.instances.ListByRegion(r.Context(), region, tier, status)
	} else {
		instances, err = h.instances.ListAll(r.Context())
	}
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, instances)
}

func (h *Instance) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "instanceID")
	instance, err := h.instances.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.WriteError(w, http.StatusNotFound, "instance not found")
			return
		}
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, instance)
}

func (h *Instance) ListVolumes(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "instanceID")
	volumes, err := h.volumes.ListByInstance(r.Context(), id)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, volumes)
}

// Drain starts decommission for an instance: the agent runs the lifecycle
// sequence and reports back through the internal endpoints.
func (h *Instance) Drain(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "instanceID")
	instance, err := h.instances.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.WriteError(w, http.StatusNotFound, "instance not found")
			return
		}
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if instance.Status == model.InstanceDraining || instance.Status == model.InstanceTerminating ||
		instance.Status == model.InstanceTerminated {
		response.WriteJSON(w, http.StatusOK, map[string]string{"status": instance.Status})
		return
	}

	client := h.factory.ClientFor(instance.Endpoint)
	if err := client.Drain(r.Context()); err != nil {
		h.logger.Error().Err(err).Str("instance_id", id).Msg("drain signal failed")
		response.WriteError(w, http.StatusBadGateway, "could not reach instance: "+err.Error())
		return
	}
	h.logger.Info().Str("instance_id", id).Msg("drain initiated")
	response.WriteJSON(w, http.StatusAccepted, map[string]string{"status": model.InstanceDraining})
}

func (h *Instance) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "instanceID")
	instance, err := h.instances.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.WriteError(w, http.StatusNotFound, "instance not found")
			return
		}
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if instance.Status != model.InstanceTerminated {
		response.WriteError(w, http.StatusConflict, "only terminated instances can be deleted")
		return
	}
	if err := h.instances.Delete(r.Context(), id); err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
