// Package logging provides structured logging for the SmartConnect server.
//
// It wraps log/slog so every entry carries the service name and version,
// with JSON output for production and text output for development.
//
// Logging is configured via the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("ingest").Info("csv processed", "device_id", id)
//
// Device pull credentials are never logged.
package logging
