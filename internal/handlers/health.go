package handlers

import (
	"encoding/json"
	"net/http"
	"time"
)

type healthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// HealthCheck reports service health
// @Summary Health check
// @Description Reports the health of the service and its dependencies.
// @Tags health
// @Produce json
// @Success 200 {object} healthResponse "Healthy"
// @Failure 503 {object} healthResponse "A dependency is unhealthy"
// @Router /health [get]
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Checks:    map[string]string{},
	}
	code := http.StatusOK

	if err := h.store.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Checks["store"] = err.Error()
		code = http.StatusServiceUnavailable
	} else {
		resp.Checks["store"] = "ok"
	}

	if h.config.SelfScheduleEnabled {
		resp.Checks["scheduler"] = "self-armed"
	} else {
		resp.Checks["scheduler"] = "external"
	}

	if h.redisHealth != nil {
		if err := h.redisHealth.Health(); err != nil {
			// Coordination is optional; a Redis outage degrades but does not fail
			resp.Checks["redis"] = err.Error()
			if resp.Status == "ok" {
				resp.Status = "degraded"
			}
		} else {
			resp.Checks["redis"] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}
