// Package main is the entry point for the blocktree backend server.
//
// The server stores schema-driven content blocks, the ownership tree between
// them and their references to external entities, and renders a block's
// display structure into a prop tree.
//
// Architecture:
//
//	Client → gin API → block / children / reference services → store (memory | PostgreSQL)
//	                                      ↘ entity resolvers (local BLOCK, remote REST)
//
// The server provides:
//   - REST API for blocks, block types, children and references
//   - Render endpoint evaluating visibility rules in a goja sandbox
//   - Block type seeding from YAML, TOML or JSON files
//   - Prometheus metrics, rate limiting and CORS
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	# In-memory store
//	./server -port 8000
//
//	# PostgreSQL with seeded system types
//	STORE_DRIVER=postgres DATABASE_DSN=postgres://... ./server -types ./block-types
//
//	# Development mode (colored logs, debug level)
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
