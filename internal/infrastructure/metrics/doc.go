// Package metrics exposes Prometheus instrumentation for pulls, ingestion
// and the HTTP API.
//
// Metrics live on a private registry so tests can create as many
// instances as they need. A nil *Metrics is valid and records nothing.
package metrics
