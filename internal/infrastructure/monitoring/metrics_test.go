package monitoring

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func TestInstancesDoNotCollide(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.RecordResolverCall("CLIENT", "ok", time.Millisecond)
	assert.Contains(t, scrape(t, a), `blocktree_resolver_calls_total{entity_type="CLIENT",status="ok"} 1`)
	assert.NotContains(t, scrape(t, b), `blocktree_resolver_calls_total{entity_type="CLIENT"`)
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordChildOp("add_child", "success", time.Millisecond)
		m.RecordResolverCall("CLIENT", "ok", time.Millisecond)
		m.IncRenumberRepairs()
		m.RecordLintIssue("ERROR")
		NewTimer(m, "move").Stop(errors.New("x"))
	})
	assert.Equal(t, MetricsSnapshot{}, m.Snapshot())
}

func TestSnapshot(t *testing.T) {
	m := NewMetrics()
	m.RecordHTTPRequest("GET", "/block/:id", "200", 10*time.Millisecond, 0, 100)
	m.RecordHTTPRequest("GET", "/block/:id", "404", 30*time.Millisecond, 0, 100)
	m.RecordResolverCall("CLIENT", "error", time.Millisecond)
	m.IncRenumberRepairs()

	s := m.Snapshot()
	assert.Equal(t, int64(2), s.TotalRequests)
	assert.Equal(t, int64(1), s.TotalErrors)
	assert.InDelta(t, 0.02, s.AverageLatency, 0.0001)
	assert.Equal(t, int64(1), s.ResolverErrors)
	assert.Equal(t, int64(1), s.RenumberRepairs)
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics()

	router := gin.New()
	router.Use(Middleware(m))
	router.GET("/block/:id", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	router.GET("/metrics", gin.WrapH(m.Handler()))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/block/blk_1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, w.Body.String(), `blocktree_http_requests_total{method="GET",path="/block/:id",status="200"} 1`)
	assert.Contains(t, w.Body.String(), "blocktree_uptime_seconds")
}
