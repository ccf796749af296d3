package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nomanocra/SmartConnectServer/internal/autopull"
	"github.com/nomanocra/SmartConnectServer/internal/device"
	"github.com/nomanocra/SmartConnectServer/internal/infrastructure/config"
	"github.com/nomanocra/SmartConnectServer/internal/infrastructure/database"
	"github.com/nomanocra/SmartConnectServer/internal/infrastructure/logging"
	"github.com/nomanocra/SmartConnectServer/internal/infrastructure/metrics"
	"github.com/nomanocra/SmartConnectServer/internal/maintenance"
	"github.com/nomanocra/SmartConnectServer/internal/sensor"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// defaultConnectWindow is how far back the first pull of a device reaches
// when Deps.ConnectWindow is unset.
const defaultConnectWindow = 24 * time.Hour

// SensorLister lists the sensors of a device.
type SensorLister interface {
	ListByDevice(ctx context.Context, deviceID int64) ([]sensor.Sensor, error)
}

// HistoryReader queries reading history.
type HistoryReader interface {
	History(ctx context.Context, q sensor.HistoryQuery) ([]sensor.HistoryEntry, error)
}

// HealthChecker is implemented by optional infrastructure clients.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// JobLister reports the housekeeping jobs.
type JobLister interface {
	Jobs() []maintenance.JobStatus
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	Logger    *logging.Logger
	DB        *database.DB
	Devices   *device.Registry
	Sensors   SensorLister
	Readings  HistoryReader
	Scheduler *autopull.Scheduler
	Fetcher   autopull.Fetcher
	Ingester  autopull.Ingester
	Metrics   *metrics.Metrics // optional
	Jobs      JobLister        // optional

	// Checks are reported by the health endpoint next to the database.
	// A failing check degrades the status without failing it.
	Checks map[string]HealthChecker

	// ConnectWindow is how far back a device's first pull reaches.
	ConnectWindow time.Duration
	Version       string
}

// Server is the HTTP API server of the SmartConnect server.
//
// The server is created with New() and started with Start().
type Server struct {
	cfg           config.APIConfig
	logger        *logging.Logger
	db            *database.DB
	devices       *device.Registry
	sensors       SensorLister
	readings      HistoryReader
	scheduler     *autopull.Scheduler
	fetcher       autopull.Fetcher
	ingester      autopull.Ingester
	metrics       *metrics.Metrics
	jobs          JobLister
	checks        map[string]HealthChecker
	connectWindow time.Duration
	version       string
	startTime     time.Time
	now           func() time.Time
	server        *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger is required")
	case deps.Devices == nil:
		return nil, fmt.Errorf("device registry is required")
	case deps.Sensors == nil || deps.Readings == nil:
		return nil, fmt.Errorf("sensor stores are required")
	case deps.Scheduler == nil:
		return nil, fmt.Errorf("auto-pull scheduler is required")
	case deps.Fetcher == nil || deps.Ingester == nil:
		return nil, fmt.Errorf("fetcher and ingester are required")
	}

	window := deps.ConnectWindow
	if window <= 0 {
		window = defaultConnectWindow
	}

	return &Server{
		cfg:           deps.Config,
		logger:        deps.Logger,
		db:            deps.DB,
		devices:       deps.Devices,
		sensors:       deps.Sensors,
		readings:      deps.Readings,
		scheduler:     deps.Scheduler,
		fetcher:       deps.Fetcher,
		ingester:      deps.Ingester,
		metrics:       deps.Metrics,
		jobs:          deps.Jobs,
		checks:        deps.Checks,
		connectWindow: window,
		version:       deps.Version,
		startTime:     time.Now(),
		now:           time.Now,
	}, nil
}

// Handler returns the router with all routes and middleware.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
