package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"ms-boxoffice/internal/keyring"
	"ms-boxoffice/internal/logger"
	"ms-boxoffice/internal/models"
	"ms-boxoffice/internal/ticket"
	"ms-boxoffice/internal/utils"
)

const headerTenant = "X-Tenant-ID"

type Handler struct {
	Redeemer *ticket.Redeemer
	Keyring  *keyring.Keyring
	Logger   *logger.Logger
}

func NewHandler(redeemer *ticket.Redeemer, kr *keyring.Keyring, log *logger.Logger) *Handler {
	return &Handler{Redeemer: redeemer, Keyring: kr, Logger: log}
}

// Redeem handles POST /api/v1/tickets/redeem.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req models.RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request body", "bad_json"))
		return
	}
	if req.Token == "" {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("token is required", "missing_token"))
		return
	}

	resp, err := h.Redeemer.Redeem(r.Context(), req.Token, r.Header.Get(headerTenant), req.Gate)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("Redeem: %v", err))
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("ticket redeemed", resp))
}

// KeySet handles GET /api/v1/tickets/keys: the published public keys
// for offline verification.
func (h *Handler) KeySet(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, h.Keyring.KeySet())
}

// Rotate handles POST /api/v1/keyring/rotate.
func (h *Handler) Rotate(w http.ResponseWriter, r *http.Request) {
	kid, err := h.Keyring.Rotate()
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("Rotate: %v", err))
		utils.WriteError(w, err)
		return
	}
	h.Logger.Info("KEYRING", "rotated active key to "+kid)
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("key rotated", map[string]string{"kid": kid}))
}
