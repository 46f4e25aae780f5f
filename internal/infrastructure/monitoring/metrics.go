package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. Every method is safe on a nil receiver
// so services can run without instrumentation.
type Metrics struct {
	Registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Children metrics
	ChildOps        *prometheus.CounterVec
	ChildOpDuration *prometheus.HistogramVec
	RenumberRepairs prometheus.Counter

	// Reference metrics
	ResolverCalls     *prometheus.CounterVec
	ResolverDuration  *prometheus.HistogramVec
	ReferenceWarnings *prometheus.CounterVec
	StaleSweeps       prometheus.Counter

	// Display metrics
	LintIssues  *prometheus.CounterVec
	RenderNodes prometheus.Histogram
	Expressions *prometheus.CounterVec

	// Registry metrics
	BlockTypesCached prometheus.Gauge

	// Resilience metrics
	BreakerState *prometheus.GaugeVec

	startTime time.Time
	snapshot  MetricsSnapshot
	mu        sync.RWMutex
}

// MetricsSnapshot holds current metric values for the health endpoint
type MetricsSnapshot struct {
	TotalRequests   int64   `json:"total_requests"`
	TotalErrors     int64   `json:"total_errors"`
	AverageLatency  float64 `json:"average_latency_seconds"`
	ResolverCalls   int64   `json:"resolver_calls"`
	ResolverErrors  int64   `json:"resolver_errors"`
	RenumberRepairs int64   `json:"renumber_repairs"`
	UptimeSeconds   float64 `json:"uptime_seconds"`

	totalDuration float64
}

// NewMetrics creates a collector with its own registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		Registry:  reg,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blocktree_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blocktree_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blocktree_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blocktree_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),

		ChildOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blocktree_child_operations_total",
				Help: "Ownership operations by outcome",
			},
			[]string{"op", "outcome"},
		),
		ChildOpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blocktree_child_operation_duration_seconds",
				Help:    "Ownership operation duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"op"},
		),
		RenumberRepairs: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "blocktree_renumber_repairs_total",
				Help: "Slots found non-contiguous on read and renumbered",
			},
		),

		ResolverCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blocktree_resolver_calls_total",
				Help: "Resolver fetches by entity type and status",
			},
			[]string{"entity_type", "status"},
		),
		ResolverDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blocktree_resolver_duration_seconds",
				Help:    "Resolver fetch duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"entity_type"},
		),
		ReferenceWarnings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blocktree_reference_warnings_total",
				Help: "References left unresolved by warning kind",
			},
			[]string{"warning"},
		),
		StaleSweeps: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "blocktree_stale_reference_rows_removed_total",
				Help: "Stored references removed because their entity was deleted",
			},
		),

		LintIssues: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blocktree_lint_issues_total",
				Help: "Display lint issues by level",
			},
			[]string{"level"},
		),
		RenderNodes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "blocktree_render_nodes",
				Help:    "Nodes produced per render",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
		Expressions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blocktree_visibility_expressions_total",
				Help: "Visibility expression evaluations by outcome",
			},
			[]string{"outcome"},
		),

		BlockTypesCached: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "blocktree_block_types_cached",
				Help: "Block type versions held in the registry cache",
			},
		),

		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "blocktree_breaker_state",
				Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"name"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "blocktree_uptime_seconds",
			Help: "Process uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.totalDuration += duration.Seconds()
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordChildOp records an ownership operation
func (m *Metrics) RecordChildOp(op, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ChildOps.WithLabelValues(op, outcome).Inc()
	m.ChildOpDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// IncRenumberRepairs counts a slot repaired on read
func (m *Metrics) IncRenumberRepairs() {
	if m == nil {
		return
	}
	m.RenumberRepairs.Inc()
	m.mu.Lock()
	m.snapshot.RenumberRepairs++
	m.mu.Unlock()
}

// RecordResolverCall records one batched resolver fetch
func (m *Metrics) RecordResolverCall(entityType, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ResolverCalls.WithLabelValues(entityType, status).Inc()
	m.ResolverDuration.WithLabelValues(entityType).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.ResolverCalls++
	if status != "ok" {
		m.snapshot.ResolverErrors++
	}
	m.mu.Unlock()
}

// RecordReferenceWarning counts a reference left with a warning
func (m *Metrics) RecordReferenceWarning(warning string) {
	if m == nil {
		return
	}
	m.ReferenceWarnings.WithLabelValues(warning).Inc()
}

// AddStaleRemoved counts stored references removed by a stale sweep
func (m *Metrics) AddStaleRemoved(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.StaleSweeps.Add(float64(n))
}

// RecordLintIssue counts a lint issue by level
func (m *Metrics) RecordLintIssue(level string) {
	if m == nil {
		return
	}
	m.LintIssues.WithLabelValues(level).Inc()
}

// ObserveRenderNodes records the size of a render
func (m *Metrics) ObserveRenderNodes(count int) {
	if m == nil {
		return
	}
	m.RenderNodes.Observe(float64(count))
}

// RecordExpression counts a visibility expression evaluation
func (m *Metrics) RecordExpression(outcome string) {
	if m == nil {
		return
	}
	m.Expressions.WithLabelValues(outcome).Inc()
}

// SetBlockTypesCached sets the registry cache size
func (m *Metrics) SetBlockTypesCached(count int) {
	if m == nil {
		return
	}
	m.BlockTypesCached.Set(float64(count))
}

// SetBreakerState publishes a breaker state
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}

// Snapshot returns the current summary values
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.snapshot
	if s.TotalRequests > 0 {
		s.AverageLatency = s.totalDuration / float64(s.TotalRequests)
	}
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
