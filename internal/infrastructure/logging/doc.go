// Package logging provides structured logging using uber/zap.
//
// Two modes:
//   - Production: JSON output for machine parsing
//   - Development: colored console output
//
// Domain services take a plain *zap.Logger; the server hands each one a named
// child via Component so every line carries its subsystem.
//
// Example Usage:
//
//	logger := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Development)
//	children := children.NewService(st).WithLogger(logger.Component("children"))
//	logger.Info("Server starting", zap.String("port", "8000"))
package logging
