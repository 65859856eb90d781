package app

import (
	"net/http"

	"github.com/gorilla/mux"

	"credsync/internal/handlers"
)

// SetupRoutes configures all HTTP routes for the application
func SetupRoutes(router *mux.Router, h *handlers.Handlers, authMiddleware func(http.Handler) http.Handler) {
	// Health check (no auth required)
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")

	// External refresh trigger, authenticated by the shared secret
	router.HandleFunc("/api/refresh", h.TriggerRefresh).Methods("POST")

	// Admin endpoints - require a bearer token
	protected := router.NewRoute().Subrouter()
	protected.Use(authMiddleware)

	api := protected.PathPrefix("/api").Subrouter()
	api.HandleFunc("/refresh/last", h.GetLastRefresh).Methods("GET")
	api.HandleFunc("/integrations", h.GetIntegrations).Methods("GET")
	api.HandleFunc("/integrations", h.CreateIntegration).Methods("POST")
	api.HandleFunc("/integrations/{tenantId}", h.GetIntegration).Methods("GET")
	api.HandleFunc("/integrations/{tenantId}", h.DeleteIntegration).Methods("DELETE")
}
