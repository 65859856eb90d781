package handlers

import (
	"crypto/subtle"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"credsync/internal/refresh"
)

// refreshSecretHeader carries the shared trigger secret for external cron
// callers that cannot set query parameters.
const refreshSecretHeader = "X-Refresh-Secret"

type refreshSummaryBody struct {
	Total     int       `json:"total"`
	Success   int       `json:"success"`
	Failed    int       `json:"failed"`
	Timestamp time.Time `json:"timestamp"`
}

type refreshResponse struct {
	Success bool                   `json:"success"`
	Summary refreshSummaryBody     `json:"summary"`
	Results []refresh.TenantResult `json:"results"`
}

// TriggerRefresh runs a refresh batch on behalf of an external scheduler
// @Summary Trigger a credential refresh batch
// @Description Runs a refresh batch across all due tenants. Intended for an external cron caller authenticated by the shared trigger secret.
// @Tags refresh
// @Produce json
// @Param X-Refresh-Secret header string false "Shared trigger secret"
// @Param secret query string false "Shared trigger secret (alternative to the header)"
// @Param force query boolean false "Refresh every eligible tenant regardless of expiry"
// @Success 200 {object} refreshResponse "Batch summary"
// @Failure 401 {string} string "Unauthorized"
// @Failure 409 {string} string "A batch is already running"
// @Failure 500 {string} string "Credential store unreachable"
// @Router /api/refresh [post]
func (h *Handlers) TriggerRefresh(w http.ResponseWriter, r *http.Request) {
	if !h.authorizeTrigger(r) {
		// No detail: the caller learns nothing about trigger configuration
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	mode := refresh.ModeDue
	if r.URL.Query().Get("force") == "true" {
		mode = refresh.ModeForceAll
	}

	summary, err := h.coordinator.Run(r.Context(), mode)
	if err != nil {
		if stderrors.Is(err, refresh.ErrBatchInProgress) {
			http.Error(w, "A refresh batch is already running", http.StatusConflict)
			return
		}
		h.logger.Error("Triggered refresh batch failed", err)
		http.Error(w, "Failed to run refresh batch", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(refreshResponse{
		Success: summary.Failed == 0,
		Summary: refreshSummaryBody{
			Total:     summary.Total,
			Success:   summary.Succeeded,
			Failed:    summary.Failed,
			Timestamp: summary.StartedAt,
		},
		Results: summary.Results,
	})
}

// authorizeTrigger checks the shared secret from the header or query param
// with a constant-time compare. An unconfigured secret disables the endpoint.
func (h *Handlers) authorizeTrigger(r *http.Request) bool {
	configured := h.config.RefreshTriggerSecret
	if configured == "" {
		return false
	}

	provided := r.Header.Get(refreshSecretHeader)
	if provided == "" {
		provided = r.URL.Query().Get("secret")
	}

	return subtle.ConstantTimeCompare([]byte(provided), []byte(configured)) == 1
}

// GetLastRefresh returns the most recent batch summary
// @Summary Get the last refresh batch summary
// @Description Returns the summary of the most recent refresh batch, local or shared via Redis.
// @Tags refresh
// @Produce json
// @Security BearerAuth
// @Success 200 {object} refresh.Summary "Last batch summary"
// @Failure 404 {string} string "No batch has run yet"
// @Router /api/refresh/last [get]
func (h *Handlers) GetLastRefresh(w http.ResponseWriter, r *http.Request) {
	summary, ok := h.coordinator.LastSummary(r.Context())
	if !ok {
		http.Error(w, "No refresh batch has run yet", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}
