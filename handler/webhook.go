package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/paymux/paymux/infra/response"
	"github.com/paymux/paymux/provider"
	"github.com/paymux/paymux/webhook"
)

// maxWebhookBody bounds inbound delivery payloads
const maxWebhookBody = 1 << 20

// WebhookIngestorInterface is the inbound pipeline the handler drives
type WebhookIngestorInterface interface {
	Process(ctx context.Context, providerName string, payload []byte, headers http.Header) (*webhook.Result, error)
}

// WebhookHandler receives provider deliveries and exposes the audit trail
type WebhookHandler struct {
	ingestor   WebhookIngestorInterface
	deliveries webhook.DeliveryStore
}

// NewWebhookHandler creates a new webhook handler. deliveries may be nil
// when the audit endpoints are not mounted.
func NewWebhookHandler(ingestor WebhookIngestorInterface, deliveries webhook.DeliveryStore) *WebhookHandler {
	return &WebhookHandler{ingestor: ingestor, deliveries: deliveries}
}

// Receive runs one provider delivery through the ingestion pipeline. The
// HTTP status tells the provider whether to redeliver: 2xx settles the
// delivery (including duplicates and skipped types), 5xx asks for a retry.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	providerName := chi.URLParam(r, "provider")

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Failed to read payload", err)
		return
	}
	if len(payload) > maxWebhookBody {
		response.Error(w, http.StatusRequestEntityTooLarge, "Payload too large", nil)
		return
	}

	result, err := h.ingestor.Process(ctx, providerName, payload, r.Header)
	if err != nil {
		writeIngestError(w, err)
		return
	}

	response.Success(w, http.StatusOK, "Delivery "+string(result.Delivery.Status), map[string]string{
		"deliveryId": result.Delivery.ID,
		"status":     string(result.Delivery.Status),
	})
}

// ListDeliveries returns the most recent deliveries for a provider
func (h *WebhookHandler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	if h.deliveries == nil {
		response.Error(w, http.StatusNotFound, "Delivery audit is not enabled", nil)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			response.Error(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = parsed
	}

	deliveries, err := h.deliveries.ListByProvider(r.Context(), chi.URLParam(r, "provider"), limit)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to list deliveries", err)
		return
	}
	response.Success(w, http.StatusOK, "Deliveries", deliveries)
}

// GetDelivery returns one recorded delivery by id
func (h *WebhookHandler) GetDelivery(w http.ResponseWriter, r *http.Request) {
	if h.deliveries == nil {
		response.Error(w, http.StatusNotFound, "Delivery audit is not enabled", nil)
		return
	}

	d, err := h.deliveries.GetByID(r.Context(), chi.URLParam(r, "deliveryID"))
	if err != nil {
		response.Error(w, http.StatusNotFound, "Delivery not found", err)
		return
	}
	response.Success(w, http.StatusOK, "Delivery", d)
}

// writeIngestError maps pipeline failures onto the status codes providers
// key their redelivery behavior on
func writeIngestError(w http.ResponseWriter, err error) {
	var authErr *webhook.AuthenticationError
	var handlerErr *webhook.HandlerFailure

	switch {
	case errors.As(err, &authErr):
		response.Error(w, http.StatusUnauthorized, "Signature verification failed", err)
	case errors.Is(err, webhook.ErrUnknownProvider):
		response.Error(w, http.StatusNotFound, "Unknown provider", err)
	case errors.As(err, &handlerErr):
		response.Error(w, http.StatusInternalServerError, "Event handling failed", err)
	case provider.IsTransient(err):
		response.Error(w, http.StatusServiceUnavailable, "Temporarily unavailable", err)
	default:
		response.Error(w, http.StatusBadRequest, "Invalid delivery", err)
	}
}
