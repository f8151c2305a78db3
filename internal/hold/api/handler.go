package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ms-boxoffice/internal/hold"
	"ms-boxoffice/internal/logger"
	"ms-boxoffice/internal/models"
	"ms-boxoffice/internal/utils"
)

type Handler struct {
	Holds  hold.Manager
	Logger *logger.Logger
}

func NewHandler(holds hold.Manager, log *logger.Logger) *Handler {
	return &Handler{Holds: holds, Logger: log}
}

// Acquire handles POST /api/v1/holds.
func (h *Handler) Acquire(w http.ResponseWriter, r *http.Request) {
	var req models.AcquireHoldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request body", "bad_json"))
		return
	}

	result, err := h.Holds.Acquire(r.Context(), hold.AcquireParams{
		Tenant:        req.TenantID,
		PerformanceID: req.PerformanceID,
		SeatIDs:       req.SeatIDs,
		Owner:         req.Owner,
		Version:       req.Version,
		TTL:           millisToDuration(req.TTLMillis),
	})
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("Acquire: %v", err))
		utils.WriteError(w, err)
		return
	}

	if !result.OK {
		utils.WriteJSON(w, http.StatusConflict, utils.SuccessResponse("seats contended", models.AcquireHoldResponse{
			Acquired:  false,
			Conflicts: result.Conflicts,
		}))
		return
	}

	token := hold.Token{Version: req.Version, Owner: req.Owner}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("seats held", models.AcquireHoldResponse{
		Acquired:  true,
		Token:     token.String(),
		TTLMillis: result.TTL.Milliseconds(),
	}))
}

// Extend handles POST /api/v1/holds/extend.
func (h *Handler) Extend(w http.ResponseWriter, r *http.Request) {
	var req models.HoldKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request body", "bad_json"))
		return
	}

	applied, err := h.Holds.Extend(r.Context(), hold.ExtendParams{
		Tenant:        req.TenantID,
		PerformanceID: req.PerformanceID,
		SeatID:        req.SeatID,
		Owner:         req.Owner,
		Version:       req.Version,
		TTL:           millisToDuration(req.TTLMillis),
	})
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("Extend: %v", err))
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("extend processed", models.HoldOpResponse{Applied: applied}))
}

// Release handles POST /api/v1/holds/release.
func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	var req models.HoldKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request body", "bad_json"))
		return
	}

	applied, err := h.Holds.Release(r.Context(), hold.ReleaseParams{
		Tenant:        req.TenantID,
		PerformanceID: req.PerformanceID,
		SeatID:        req.SeatID,
		Owner:         req.Owner,
		Version:       req.Version,
	})
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("Release: %v", err))
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("release processed", models.HoldOpResponse{Applied: applied}))
}

func millisToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
