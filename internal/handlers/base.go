// Package handlers implements the HTTP API: the refresh trigger endpoint,
// integration management and health.
package handlers

import (
	"context"

	"credsync/internal/common/logging"
	"credsync/internal/config"
	"credsync/internal/credstore"
	"credsync/internal/refresh"
)

// RefreshRunner is the coordinator surface the handlers need.
type RefreshRunner interface {
	Run(ctx context.Context, mode refresh.Mode) (*refresh.Summary, error)
	LastSummary(ctx context.Context) (*refresh.Summary, bool)
}

// HealthChecker reports on an optional dependency.
type HealthChecker interface {
	Health() error
}

type Handlers struct {
	store       credstore.Store
	coordinator RefreshRunner
	config      *config.Config
	redisHealth HealthChecker
	logger      logging.Logger
}

// New creates the handler set. redisHealth may be nil when Redis is not
// configured.
func New(store credstore.Store, coordinator RefreshRunner, cfg *config.Config, redisHealth HealthChecker, logger logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Handlers{
		store:       store,
		coordinator: coordinator,
		config:      cfg,
		redisHealth: redisHealth,
		logger:      logger,
	}
}
