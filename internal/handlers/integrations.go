package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"credsync/internal/credstore"
)

// Integration management handlers

type createIntegrationRequest struct {
	TenantID string `json:"tenant_id"`
	Provider string `json:"provider,omitempty"`
	OfficeID string `json:"office_id"`
	Secret   string `json:"secret"`
}

// GetIntegrations returns all integration credentials
// @Summary List integrations
// @Description Returns all integration credentials. Token material is never serialized.
// @Tags integrations
// @Produce json
// @Security BearerAuth
// @Success 200 {array} credstore.Credential "Integrations"
// @Failure 500 {string} string "Internal server error"
// @Router /api/integrations [get]
func (h *Handlers) GetIntegrations(w http.ResponseWriter, r *http.Request) {
	creds, err := h.store.List(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to list integrations: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(creds)
}

// GetIntegration returns one tenant's integration credential
// @Summary Get integration
// @Description Returns the integration credential for a tenant.
// @Tags integrations
// @Produce json
// @Security BearerAuth
// @Param tenantId path string true "Tenant ID"
// @Param provider query string false "Provider name (defaults to pms)"
// @Success 200 {object} credstore.Credential "Integration"
// @Failure 404 {string} string "Integration not found"
// @Router /api/integrations/{tenantId} [get]
func (h *Handlers) GetIntegration(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenantId"]
	provider := r.URL.Query().Get("provider")
	if provider == "" {
		provider = credstore.DefaultProvider
	}

	cred, err := h.store.Get(r.Context(), tenantID, provider)
	if err != nil {
		if credstore.IsNotFound(err) {
			http.Error(w, "Integration not found", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to get integration: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(cred)
}

// CreateIntegration seeds a new integration credential
// @Summary Create integration
// @Description Seeds a tenant's integration with the long-lived office credentials. The first refresh batch performs the initial authorization grant.
// @Tags integrations
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param integration body createIntegrationRequest true "Integration seed"
// @Success 201 {object} credstore.Credential "Created integration"
// @Failure 400 {string} string "Invalid request"
// @Failure 500 {string} string "Internal server error"
// @Router /api/integrations [post]
func (h *Handlers) CreateIntegration(w http.ResponseWriter, r *http.Request) {
	var req createIntegrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	if req.TenantID == "" {
		http.Error(w, "tenant_id is required", http.StatusBadRequest)
		return
	}
	if req.OfficeID == "" || req.Secret == "" {
		http.Error(w, "office_id and secret are required", http.StatusBadRequest)
		return
	}
	if req.Provider == "" {
		req.Provider = credstore.DefaultProvider
	}

	cred := &credstore.Credential{
		TenantID:  req.TenantID,
		Provider:  req.Provider,
		Status:    credstore.StatusNeedsSetup,
		OfficeID:  req.OfficeID,
		Secret:    req.Secret,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	if err := h.store.Upsert(r.Context(), cred); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create integration: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(cred)
}

// DeleteIntegration removes a tenant's integration credential
// @Summary Delete integration
// @Description Removes the integration credential for a tenant.
// @Tags integrations
// @Security BearerAuth
// @Param tenantId path string true "Tenant ID"
// @Param provider query string false "Provider name (defaults to pms)"
// @Success 204 "Deleted"
// @Failure 404 {string} string "Integration not found"
// @Router /api/integrations/{tenantId} [delete]
func (h *Handlers) DeleteIntegration(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenantId"]
	provider := r.URL.Query().Get("provider")
	if provider == "" {
		provider = credstore.DefaultProvider
	}

	if err := h.store.Delete(r.Context(), tenantID, provider); err != nil {
		if credstore.IsNotFound(err) {
			http.Error(w, "Integration not found", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to delete integration: %v", err), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
