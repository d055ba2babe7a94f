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
	"github.com/edvin/graphfleet/internal/registry"
)

type Volume struct {
	volumes *registry.VolumeRegistry
	logger  zerolog.Logger
}

func NewVolume(volumes *registry.VolumeRegistry, logger zerolog.Logger) *Volume {
	return &Volume{volumes: volumes, logger: logger}
}

func (h *Volume) Create(w http.ResponseWriter, r *http.Request) {
	var req request.CreateVolume
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	volume := &model.VolumeAssignment{
		VolumeID:   req.VolumeID,
		InstanceID: req.InstanceID,
		DatabaseID: req.DatabaseID,
		Tier:       req.Tier,
		SizeGB:     req.SizeGB,
		Status:     model.VolumeAttached,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := h.volumes.Create(r.Context(), volume); err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.logger.Info().Str("volume_id", volume.VolumeID).Str("instance_id", volume.InstanceID).
		Msg("volume recorded")
	response.WriteJSON(w, http.StatusCreated, volume)
}

func (h *Volume) Get(w http.ResponseWriter, r *http.Request) {
	volumeID := chi.URLParam(r, "volumeID")
	volume, err := h.volumes.GetByID(r.Context(), volumeID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.WriteError(w, http.StatusNotFound, "volume not found")
			return
		}
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, volume)
}

func (h *Volume) Delete(w http.ResponseWriter, r *http.Request) {
	volumeID := chi.URLParam(r, "volumeID")
	if err := h.volumes.Delete(r.Context(), volumeID); err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
