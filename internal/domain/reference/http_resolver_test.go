package reference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/blocktree/backend/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/blocktree/backend/internal/infrastructure/tracing"
)

func testConfig(url string) HTTPConfig {
	cfg := DefaultHTTPConfig(url)
	cfg.Retries = 0
	cfg.Timeout = time.Second
	return cfg
}

func TestHTTPResolverFetch(t *testing.T) {
	var traceID atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/batch", r.URL.Path)
		traceID.Store(r.Header.Get(tracing.HeaderTraceID))

		var req batchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var items []map[string]any
		for _, id := range req.IDs {
			if id != "missing" {
				items = append(items, map[string]any{"id": id, "name": "client " + id})
			}
		}
		// an id nobody asked for is ignored
		items = append(items, map[string]any{"id": "stray"})
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"items": items})
	}))
	defer srv.Close()

	res := NewHTTPResolver(client, testConfig(srv.URL))
	assert.Equal(t, client, res.EntityType())

	ctx := tracing.WithTraceContext(context.Background(), "trace-1", "span-1")
	out, err := res.Fetch(ctx, []string{"c1", "missing", "c2"})
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Equal(t, "client c1", out["c1"]["name"])
	assert.NotContains(t, out, "stray")
	assert.Equal(t, "trace-1", traceID.Load())
}

func TestHTTPResolverNotFoundMeansNoMatches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	out, err := NewHTTPResolver(client, testConfig(srv.URL)).Fetch(context.Background(), []string{"c1"})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestHTTPResolverRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"id":"c1"}]}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Retries = 2
	cfg.MinWait = time.Millisecond
	cfg.MaxWait = 5 * time.Millisecond

	out, err := NewHTTPResolver(client, cfg).Fetch(context.Background(), []string{"c1"})
	require.NoError(t, err)
	assert.Contains(t, out, "c1")
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPResolverBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	res := NewHTTPResolver(client, testConfig(srv.URL))
	for i := 0; i < 5; i++ {
		_, err := res.Fetch(context.Background(), []string{"c1"})
		require.Error(t, err)
	}
	assert.Equal(t, resilience.StateOpen, res.Breaker().State())

	_, err := res.Fetch(context.Background(), []string{"c1"})
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(5), calls.Load())
}

func TestHTTPResolverEmptyIDs(t *testing.T) {
	res := NewHTTPResolver(client, testConfig("http://127.0.0.1:1"))
	out, err := res.Fetch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestResolversRegistry(t *testing.T) {
	r := NewResolvers(NewBlockResolver(nil))
	assert.Error(t, r.Register(NewHTTPResolver("", testConfig("http://x"))))

	require.NoError(t, r.Register(NewHTTPResolver(project, testConfig("http://x"))))
	_, ok := r.Get(project)
	assert.True(t, ok)
	assert.Len(t, r.Types(), 2)

	r.Unregister(project)
	_, ok = r.Get(project)
	assert.False(t, ok)
}
