package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// maxRequestBodySize is the maximum allowed JSON request body size (1 MB).
const maxRequestBodySize = 1 << 20

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.metricsMiddleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeNotFound(w, r, "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, Problem{
			Type:   ProblemValidation,
			Title:  "Method not allowed",
			Status: http.StatusMethodNotAllowed,
			Detail: r.Method + " is not supported on " + r.URL.Path,
		})
	})

	// Prometheus scrape endpoint
	r.Handle("/metrics", s.metrics.Handler())

	jsonBody := s.bodySizeLimitMiddleware(maxRequestBodySize)
	csvBody := s.bodySizeLimitMiddleware(s.cfg.MaxCSVBytes)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/system", s.handleSystem)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.With(jsonBody).Post("/connect", s.handleConnectDevice)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.With(jsonBody).Patch("/", s.handleUpdateDevice)
				r.Delete("/", s.handleDeleteDevice)
				r.Post("/pull", s.handlePullDevice)
				r.With(csvBody).Post("/csv", s.handleUploadCSV)
				r.Get("/sensors", s.handleListDeviceSensors)

				r.Route("/autopull", func(r chi.Router) {
					r.Get("/", s.handleAutoPullStatus)
					r.Post("/start", s.handleStartAutoPull)
					r.Post("/stop", s.handleStopAutoPull)
				})
			})
		})

		r.Get("/sensors/history", s.handleSensorHistory)
		r.Get("/autopull/status", s.handleAutoPullOverview)
	})

	return r
}
