package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/paymux/paymux/billing"
	"github.com/paymux/paymux/event"
	"github.com/paymux/paymux/infra/response"
	"github.com/paymux/paymux/infra/validate"
	"github.com/paymux/paymux/plugin"
	"github.com/paymux/paymux/provider"
)

// PaymentServiceInterface defines the outbound payment operations the
// handlers depend on
type PaymentServiceInterface interface {
	CreateCheckout(ctx context.Context, providerName string, request provider.CheckoutRequest) (*provider.CheckoutSession, error)
	Capture(ctx context.Context, providerName, sessionID string) (*provider.CaptureResult, error)
	CreateSubscription(ctx context.Context, providerName string, request provider.SubscriptionRequest) (*provider.SubscriptionSession, error)
	GetSubscriptionStatus(ctx context.Context, providerName, providerSubscriptionID string) (provider.SubscriptionStatus, error)
	Refund(ctx context.Context, providerName string, request provider.RefundRequest) (*provider.RefundResult, error)
}

// PaymentHandler handles checkout, capture, refund and subscription requests
type PaymentHandler struct {
	payments      PaymentServiceInterface
	invoices      billing.InvoiceStore
	subscriptions billing.SubscriptionStore
	plans         billing.PlanStore
	bus           *event.Bus
	validate      *validator.Validate
	checkoutTTL   time.Duration
}

// NewPaymentHandler creates a new payment handler. checkoutTTL bounds the
// invoice expiry when the provider does not report a session expiry itself.
func NewPaymentHandler(payments PaymentServiceInterface, invoices billing.InvoiceStore, subscriptions billing.SubscriptionStore, plans billing.PlanStore, bus *event.Bus, v *validator.Validate, checkoutTTL time.Duration) *PaymentHandler {
	if checkoutTTL <= 0 {
		checkoutTTL = 24 * time.Hour
	}
	return &PaymentHandler{
		payments:      payments,
		invoices:      invoices,
		subscriptions: subscriptions,
		plans:         plans,
		bus:           bus,
		validate:      v,
		checkoutTTL:   checkoutTTL,
	}
}

// CheckoutAPIRequest is the inbound payload for opening a checkout
type CheckoutAPIRequest struct {
	Provider    string            `json:"provider" validate:"required,provider_name"`
	UserID      string            `json:"userId" validate:"required"`
	Mode        string            `json:"mode" validate:"required,checkout_mode"`
	PlanID      string            `json:"planId,omitempty"`
	Amount      float64           `json:"amount,omitempty"`
	Currency    string            `json:"currency,omitempty" validate:"omitempty,currency_code"`
	Description string            `json:"description,omitempty"`
	SuccessURL  string            `json:"successUrl,omitempty" validate:"omitempty,url"`
	CancelURL   string            `json:"cancelUrl,omitempty" validate:"omitempty,url"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// CheckoutAPIResponse pairs the created invoice with the provider session
type CheckoutAPIResponse struct {
	Invoice *billing.Invoice          `json:"invoice"`
	Session *provider.CheckoutSession `json:"session"`
}

// CreateCheckout opens a provider checkout session and records the invoice
// behind it. Subscription checkouts also create the pending subscription
// record; it stays inactive until the payment webhook arrives.
func (h *PaymentHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	var req CheckoutAPIRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, http.StatusBadRequest, validate.FormatErrors(err), err)
		return
	}

	now := time.Now().UTC()
	amount := req.Amount
	currency := req.Currency
	subscriptionID := ""

	if req.Mode == string(provider.ModeSubscription) {
		if req.PlanID == "" {
			response.Error(w, http.StatusBadRequest, "planId is required for subscription checkouts", nil)
			return
		}
		plan, err := h.plans.GetByID(ctx, req.PlanID)
		if err != nil {
			response.Error(w, http.StatusNotFound, "Unknown plan", err)
			return
		}
		amount = plan.Amount
		currency = plan.Currency

		sub := &billing.Subscription{
			ID:        uuid.New().String(),
			UserID:    req.UserID,
			PlanID:    plan.ID,
			Status:    billing.SubscriptionInactive,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := h.subscriptions.Create(ctx, sub); err != nil {
			response.Error(w, http.StatusInternalServerError, "Failed to create subscription", err)
			return
		}
		subscriptionID = sub.ID
	} else if amount <= 0 || currency == "" {
		response.Error(w, http.StatusBadRequest, "amount and currency are required for one-time checkouts", nil)
		return
	}

	invoiceID := uuid.New().String()
	metadata := make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata["invoice_id"] = invoiceID

	session, err := h.payments.CreateCheckout(ctx, req.Provider, provider.CheckoutRequest{
		Amount:      amount,
		Currency:    currency,
		Mode:        provider.CheckoutMode(req.Mode),
		PlanRef:     req.PlanID,
		CustomerRef: req.UserID,
		Description: req.Description,
		SuccessURL:  req.SuccessURL,
		CancelURL:   req.CancelURL,
		Metadata:    metadata,
	})
	if err != nil {
		writeProviderError(w, "Checkout failed", err)
		return
	}

	expires := now.Add(h.checkoutTTL)
	if session.ExpiresAt != nil {
		expires = session.ExpiresAt.UTC()
	}

	inv := &billing.Invoice{
		ID:                invoiceID,
		Number:            billing.NewInvoiceNumber(now),
		UserID:            req.UserID,
		PlanID:            req.PlanID,
		SubscriptionID:    subscriptionID,
		Amount:            amount,
		Currency:          currency,
		Status:            billing.InvoiceInvoiced,
		Provider:          req.Provider,
		ProviderSessionID: session.SessionID,
		InvoicedAt:        now,
		ExpiresAt:         &expires,
	}
	if err := h.invoices.Create(ctx, inv); err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to record invoice", err)
		return
	}

	h.bus.Publish(ctx, event.Event{
		Kind:           event.KindCheckoutInitiated,
		Provider:       req.Provider,
		SessionID:      session.SessionID,
		InvoiceID:      inv.ID,
		SubscriptionID: subscriptionID,
		Amount:         amount,
		Currency:       currency,
		OccurredAt:     now,
	})

	response.Success(w, http.StatusCreated, "Checkout created", CheckoutAPIResponse{Invoice: inv, Session: session})
}

// Capture finalizes (or, for auto-capture providers, queries) a payment
func (h *PaymentHandler) Capture(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	providerName := chi.URLParam(r, "provider")
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		response.Error(w, http.StatusBadRequest, "Missing session ID", nil)
		return
	}

	result, err := h.payments.Capture(ctx, providerName, sessionID)
	if err != nil {
		writeProviderError(w, "Capture failed", err)
		return
	}

	response.Success(w, http.StatusOK, "Capture processed", result)
}

// RefundAPIRequest is the inbound payload for a refund
type RefundAPIRequest struct {
	Provider   string  `json:"provider" validate:"required,provider_name"`
	PaymentRef string  `json:"paymentRef" validate:"required"`
	Amount     float64 `json:"amount,omitempty" validate:"omitempty,gt=0"`
	Currency   string  `json:"currency,omitempty" validate:"omitempty,currency_code"`
	Reason     string  `json:"reason,omitempty"`
}

// Refund issues a full or partial refund
func (h *PaymentHandler) Refund(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	var req RefundAPIRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, http.StatusBadRequest, validate.FormatErrors(err), err)
		return
	}

	result, err := h.payments.Refund(ctx, req.Provider, provider.RefundRequest{
		PaymentRef: req.PaymentRef,
		Amount:     req.Amount,
		Currency:   req.Currency,
		Reason:     req.Reason,
	})
	if err != nil {
		writeProviderError(w, "Refund failed", err)
		return
	}

	h.bus.Publish(ctx, event.Event{
		Kind:       event.KindRefundRequested,
		Provider:   req.Provider,
		PaymentRef: req.PaymentRef,
		Amount:     req.Amount,
		Currency:   req.Currency,
	})

	response.Success(w, http.StatusOK, "Refund processed", result)
}

// SubscriptionAPIRequest is the inbound payload for a direct subscription,
// used when the customer already exists at the provider
type SubscriptionAPIRequest struct {
	Provider    string            `json:"provider" validate:"required,provider_name"`
	UserID      string            `json:"userId" validate:"required"`
	PlanID      string            `json:"planId" validate:"required"`
	CustomerRef string            `json:"customerRef" validate:"required"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// CreateSubscription starts a provider subscription for an existing
// customer. The local record stays inactive until the activation or payment
// webhook arrives; the provider subscription id is stored now so that
// webhook can find it.
func (h *PaymentHandler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	var req SubscriptionAPIRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, http.StatusBadRequest, validate.FormatErrors(err), err)
		return
	}

	plan, err := h.plans.GetByID(ctx, req.PlanID)
	if err != nil {
		response.Error(w, http.StatusNotFound, "Unknown plan", err)
		return
	}

	session, err := h.payments.CreateSubscription(ctx, req.Provider, provider.SubscriptionRequest{
		PlanRef:     plan.ID,
		CustomerRef: req.CustomerRef,
		Metadata:    req.Metadata,
	})
	if err != nil {
		writeProviderError(w, "Subscription failed", err)
		return
	}

	now := time.Now().UTC()
	sub := &billing.Subscription{
		ID:                     uuid.New().String(),
		UserID:                 req.UserID,
		PlanID:                 plan.ID,
		Status:                 billing.SubscriptionInactive,
		Provider:               req.Provider,
		ProviderSubscriptionID: session.ProviderSubscriptionID,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := h.subscriptions.Create(ctx, sub); err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to record subscription", err)
		return
	}

	h.bus.Publish(ctx, event.Event{
		Kind:                   event.KindSubscriptionCreated,
		Provider:               req.Provider,
		ProviderSubscriptionID: session.ProviderSubscriptionID,
		SubscriptionID:         sub.ID,
		OccurredAt:             now,
	})

	response.Success(w, http.StatusCreated, "Subscription created", map[string]any{
		"subscription": sub,
		"redirectUrl":  session.RedirectURL,
	})
}

// GetInvoice returns one invoice by id
func (h *PaymentHandler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.invoices.GetByID(r.Context(), chi.URLParam(r, "invoiceID"))
	if err != nil {
		if errors.Is(err, billing.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "Invoice not found", err)
			return
		}
		response.Error(w, http.StatusInternalServerError, "Failed to load invoice", err)
		return
	}
	response.Success(w, http.StatusOK, "Invoice", inv)
}

// GetSubscription returns one subscription by id
func (h *PaymentHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.subscriptions.GetByID(r.Context(), chi.URLParam(r, "subscriptionID"))
	if err != nil {
		if errors.Is(err, billing.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "Subscription not found", err)
			return
		}
		response.Error(w, http.StatusInternalServerError, "Failed to load subscription", err)
		return
	}
	response.Success(w, http.StatusOK, "Subscription", sub)
}

// GetSubscriptionProviderStatus queries the provider-side view of a
// subscription; useful when webhooks are suspected lost.
func (h *PaymentHandler) GetSubscriptionProviderStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	sub, err := h.subscriptions.GetByID(ctx, chi.URLParam(r, "subscriptionID"))
	if err != nil {
		if errors.Is(err, billing.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "Subscription not found", err)
			return
		}
		response.Error(w, http.StatusInternalServerError, "Failed to load subscription", err)
		return
	}
	if sub.ProviderSubscriptionID == "" {
		response.Error(w, http.StatusConflict, "Subscription has no provider identity yet", nil)
		return
	}

	status, err := h.payments.GetSubscriptionStatus(ctx, sub.Provider, sub.ProviderSubscriptionID)
	if err != nil {
		writeProviderError(w, "Provider status query failed", err)
		return
	}

	response.Success(w, http.StatusOK, "Provider subscription status", map[string]string{
		"subscriptionId": sub.ID,
		"providerStatus": string(status),
	})
}

// CancelSubscription cancels an active subscription. The already-paid
// period keeps running until its expiry.
func (h *PaymentHandler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	id := chi.URLParam(r, "subscriptionID")
	sub, err := h.subscriptions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, billing.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "Subscription not found", err)
			return
		}
		response.Error(w, http.StatusInternalServerError, "Failed to load subscription", err)
		return
	}

	now := time.Now().UTC()
	updated, err := h.subscriptions.Cancel(ctx, id, now)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to cancel subscription", err)
		return
	}
	if !updated {
		response.Error(w, http.StatusConflict, "Subscription is not active", nil)
		return
	}

	h.bus.Publish(ctx, event.Event{
		Kind:                   event.KindSubscriptionCancelled,
		Provider:               sub.Provider,
		ProviderSubscriptionID: sub.ProviderSubscriptionID,
		SubscriptionID:         sub.ID,
		OccurredAt:             now,
	})

	sub, err = h.subscriptions.GetByID(ctx, id)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to load subscription", err)
		return
	}
	response.Success(w, http.StatusOK, "Subscription cancelled", sub)
}

// ListPlans returns the plan catalog
func (h *PaymentHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.plans.List(r.Context())
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to list plans", err)
		return
	}
	response.Success(w, http.StatusOK, "Plans", plans)
}

// writeProviderError maps outbound provider failures onto HTTP statuses
func writeProviderError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, provider.ErrDuplicateOperation):
		status = http.StatusConflict
	case errors.Is(err, plugin.ErrNotRegistered), errors.Is(err, plugin.ErrNotActive):
		status = http.StatusNotFound
	case provider.IsPermanent(err):
		status = http.StatusUnprocessableEntity
	case provider.IsTransient(err):
		status = http.StatusBadGateway
	}
	response.Error(w, status, message, err)
}
