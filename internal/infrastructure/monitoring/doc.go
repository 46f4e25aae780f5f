/*
Package monitoring provides Prometheus metrics for the block backend.

# Overview

Each Metrics value owns a private registry, so several servers (or tests) can
coexist in one process without duplicate-registration panics.

# Metrics

- HTTP request metrics (latency, throughput, size) labelled by route template
- Ownership operation outcomes and durations, renumber repairs
- Resolver fan-out calls and durations per entity type, reference warnings
- Lint issues by level, render sizes, visibility expression outcomes
- Registry cache size and circuit breaker states

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	timer := monitoring.NewTimer(metrics, "add_child")
	err := doWork()
	timer.Stop(err)
*/
package monitoring
