// Package api implements the HTTP REST API of the SmartConnect server.
//
// This package provides:
//   - Device registration by first successful pull, manual pulls and CSV uploads
//   - Device settings, sensors and reading history queries
//   - Auto-pull task control and status
//   - Health, system and Prometheus endpoints
//   - Middleware stack (request ID, logging, recovery, CORS, metrics)
//
// # Errors
//
// Failures are returned as RFC 7807 application/problem+json bodies. The
// problem type tells validation, device, not-found, database and internal
// errors apart; device errors also carry the boitier's error code.
//
// # Graceful Degradation
//
// MQTT and InfluxDB are optional. Their state is reported by the health
// endpoint but never blocks device or sensor operations.
package api
