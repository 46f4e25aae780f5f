package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/blocktree/backend/internal/infrastructure/config"
)

func TestNewServerServesHealthAndMetrics(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Level = "error"
	cfg.Resolver.Endpoints = map[string]string{"CLIENT": "http://127.0.0.1:1"}

	srv, err := NewServer(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"BLOCK"`)
	assert.Contains(t, w.Body.String(), `"CLIENT"`)

	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "# HELP"), "prometheus exposition expected")
}

func TestBuildResolversRejectsBlockEndpoint(t *testing.T) {
	cfg := config.Default()
	cfg.Resolver.Endpoints = map[string]string{"BLOCK": "http://127.0.0.1:1"}

	_, err := NewServer(cfg)
	assert.Error(t, err)
}
