package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/paymux/paymux/infra/response"
	"github.com/paymux/paymux/plugin"
	"github.com/paymux/paymux/provider"
)

// PluginHandler exposes the provider plugin lifecycle over HTTP
type PluginHandler struct {
	host *plugin.Host
}

// NewPluginHandler creates a new plugin handler
func NewPluginHandler(host *plugin.Host) *PluginHandler {
	return &PluginHandler{host: host}
}

// List returns every registered provider with its lifecycle state
func (h *PluginHandler) List(w http.ResponseWriter, r *http.Request) {
	response.Success(w, http.StatusOK, "Providers", h.host.Discover())
}

// Get returns one provider's state, capabilities and config schema
func (h *PluginHandler) Get(w http.ResponseWriter, r *http.Request) {
	desc, err := h.host.Describe(chi.URLParam(r, "name"))
	if err != nil {
		writePluginError(w, "Failed to describe provider", err)
		return
	}
	response.Success(w, http.StatusOK, "Provider", desc)
}

// Configure stores (or merges) a provider's configuration. Secrets use
// test_/live_ prefixed keys; an active provider picks the new material up
// on its next adapter build.
func (h *PluginHandler) Configure(w http.ResponseWriter, r *http.Request) {
	var cfg map[string]string
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if len(cfg) == 0 {
		response.Error(w, http.StatusBadRequest, "Configuration is empty", nil)
		return
	}

	name := chi.URLParam(r, "name")
	if err := h.host.Configure(name, cfg); err != nil {
		if errors.Is(err, plugin.ErrNotRegistered) {
			response.Error(w, http.StatusNotFound, "Unknown provider", err)
			return
		}
		// everything else is a schema rejection
		response.Error(w, http.StatusBadRequest, "Configuration rejected", err)
		return
	}

	desc, err := h.host.Describe(name)
	if err != nil {
		writePluginError(w, "Failed to describe provider", err)
		return
	}
	response.Success(w, http.StatusOK, "Provider configured", desc)
}

// Activate builds the provider's adapter and opens it for traffic. Bad
// credentials fail here, not on the first payment.
func (h *PluginHandler) Activate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.host.Activate(name); err != nil {
		writePluginError(w, "Activation failed", err)
		return
	}

	desc, err := h.host.Describe(name)
	if err != nil {
		writePluginError(w, "Failed to describe provider", err)
		return
	}
	response.Success(w, http.StatusOK, "Provider activated", desc)
}

// Deactivate takes a provider out of traffic without touching its
// configuration
func (h *PluginHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.host.Deactivate(name); err != nil {
		writePluginError(w, "Deactivation failed", err)
		return
	}

	desc, err := h.host.Describe(name)
	if err != nil {
		writePluginError(w, "Failed to describe provider", err)
		return
	}
	response.Success(w, http.StatusOK, "Provider deactivated", desc)
}

// Uninstall removes a provider's configuration. The provider must be
// deactivated first.
func (h *PluginHandler) Uninstall(w http.ResponseWriter, r *http.Request) {
	if err := h.host.Uninstall(chi.URLParam(r, "name")); err != nil {
		writePluginError(w, "Uninstall failed", err)
		return
	}
	response.Success(w, http.StatusOK, "Provider uninstalled", nil)
}

// writePluginError maps lifecycle failures onto HTTP statuses
func writePluginError(w http.ResponseWriter, message string, err error) {
	var missingCred *provider.MissingCredentialError

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, plugin.ErrNotRegistered):
		status = http.StatusNotFound
	case errors.Is(err, plugin.ErrNotConfigured), errors.Is(err, plugin.ErrNotActive), errors.Is(err, plugin.ErrStillActive):
		status = http.StatusConflict
	case errors.As(err, &missingCred):
		status = http.StatusUnprocessableEntity
	}
	response.Error(w, status, message, err)
}
