package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credsync/internal/auth"
	"credsync/internal/config"
	"credsync/internal/credstore"
	"credsync/internal/handlers"
	"credsync/internal/refresh"
)

type noopRunner struct{}

func (noopRunner) Run(ctx context.Context, mode refresh.Mode) (*refresh.Summary, error) {
	return &refresh.Summary{}, nil
}

func (noopRunner) LastSummary(ctx context.Context) (*refresh.Summary, bool) {
	return nil, false
}

func newTestRouter(t *testing.T) (*mux.Router, *auth.Auth) {
	t.Helper()

	cfg := &config.Config{RefreshTriggerSecret: "trigger-secret"}
	a := auth.New("jwt-secret-that-is-long-enough!!!", nil)
	h := handlers.New(credstore.NewMemoryStore(), noopRunner{}, cfg, nil, nil)

	router := mux.NewRouter()
	SetupRoutes(router, h, a.RequireAuth)
	return router, a
}

func TestRoutes_AuthBoundaries(t *testing.T) {
	router, a := newTestRouter(t)

	do := func(method, path string, header http.Header) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		for k, v := range header {
			req.Header[k] = v
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	// Health is open
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/health", nil).Code)

	// Trigger uses the shared secret, not the bearer token
	rec := do(http.MethodPost, "/api/refresh", http.Header{"X-Refresh-Secret": {"trigger-secret"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(http.MethodPost, "/api/refresh", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Admin endpoints need a bearer token
	assert.Equal(t, http.StatusUnauthorized, do(http.MethodGet, "/api/integrations", nil).Code)

	token, err := a.IssueToken("ops", time.Hour)
	require.NoError(t, err)
	rec = do(http.MethodGet, "/api/integrations", http.Header{"Authorization": {"Bearer " + token}})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(http.MethodGet, "/api/refresh/last", http.Header{"Authorization": {"Bearer " + token}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
