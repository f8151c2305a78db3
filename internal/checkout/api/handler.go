package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"ms-boxoffice/internal/checkout"
	"ms-boxoffice/internal/logger"
	"ms-boxoffice/internal/models"
	"ms-boxoffice/internal/utils"
	"ms-boxoffice/internal/webhook"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerHoldToken      = "X-Seat-Hold-Token"
	// Tenant resolution normally comes from the auth layer; the
	// header is the contract with it.
	headerTenant = "X-Tenant-ID"
)

type Handler struct {
	Checkout   *checkout.Service
	Reconciler *webhook.Reconciler
	Logger     *logger.Logger
}

func NewHandler(svc *checkout.Service, rec *webhook.Reconciler, log *logger.Logger) *Handler {
	return &Handler{Checkout: svc, Reconciler: rec, Logger: log}
}

// CreateCheckout handles POST /api/v1/checkout.
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("failed to read request body", "bad_body"))
		return
	}

	var req models.CheckoutRequest
	if err := json.Unmarshal(rawBody, &req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request body", "bad_json"))
		return
	}

	outcome, err := h.Checkout.Checkout(r.Context(), checkout.Input{
		Tenant:         r.Header.Get(headerTenant),
		IdempotencyKey: r.Header.Get(headerIdempotencyKey),
		RequestID:      uuid.NewString(),
		HoldToken:      r.Header.Get(headerHoldToken),
		Request:        req,
		RawBody:        rawBody,
	})
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("CreateCheckout: %v", err))
		utils.WriteError(w, err)
		return
	}

	if outcome.InProgress {
		utils.WriteJSON(w, outcome.Status, utils.ErrorResponse("request is already in progress", "in_progress"))
		return
	}
	utils.WriteJSON(w, outcome.Status, utils.SuccessResponse("checkout processed", outcome.Response))
}

// GetOrder handles GET /api/v1/orders/{orderId}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	tenant := r.Header.Get(headerTenant)

	order, err := checkout.GetOrder(r.Context(), h.Checkout.DB, tenant, orderID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetOrder: %v", err))
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("order found", order))
}

// StripeWebhook handles POST /api/v1/webhooks/stripe. The endpoint
// acknowledges deduped redeliveries with the same success body.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("failed to read webhook payload", "bad_body"))
		return
	}

	if err := h.Reconciler.Handle(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		h.Logger.Error("API", fmt.Sprintf("StripeWebhook: %v", err))
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, models.WebhookResponse{Received: true})
}
