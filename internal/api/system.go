package api

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/nomanocra/SmartConnectServer/internal/maintenance"
)

// healthCheckTimeout bounds each dependency check of the health endpoint.
const healthCheckTimeout = 2 * time.Second

// Health statuses.
const (
	healthOK        = "ok"
	healthDegraded  = "degraded"
	healthUnhealthy = "unhealthy"
)

// HealthResponse reports the server and its dependencies.
type HealthResponse struct {
	Status      string            `json:"status"`
	Version     string            `json:"version"`
	Checks      map[string]string `json:"checks"`
	ActiveTasks int               `json:"activeTasks"`
}

// SystemInfo is the JSON operational snapshot of the server.
type SystemInfo struct {
	Timestamp     string                  `json:"timestamp"`
	Version       string                  `json:"version"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	Runtime       RuntimeInfo             `json:"runtime"`
	Devices       DeviceInfo              `json:"devices"`
	AutoPull      AutoPullInfo            `json:"auto_pull"`
	Database      *DatabaseInfo           `json:"database,omitempty"`
	Jobs          []maintenance.JobStatus `json:"jobs,omitempty"`
}

// RuntimeInfo contains Go runtime statistics.
type RuntimeInfo struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// DeviceInfo counts registered devices.
type DeviceInfo struct {
	Total     int `json:"total"`
	Connected int `json:"connected"`
	AutoPull  int `json:"auto_pull"`
}

// AutoPullInfo summarises the scheduler.
type AutoPullInfo struct {
	ActiveTasks int `json:"active_tasks"`
	Pulling     int `json:"pulling"`
	Failing     int `json:"failing"`
}

// DatabaseInfo contains database connection pool statistics.
type DatabaseInfo struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleHealth checks the database and the optional dependencies.
// A database failure answers 503; any other failing check only
// degrades the status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:      healthOK,
		Version:     s.version,
		Checks:      make(map[string]string),
		ActiveTasks: s.scheduler.ActiveCount(),
	}
	code := http.StatusOK

	if s.db != nil {
		if err := runCheck(r.Context(), s.db); err != nil {
			resp.Checks["database"] = err.Error()
			resp.Status = healthUnhealthy
			code = http.StatusServiceUnavailable
		} else {
			resp.Checks["database"] = healthOK
		}
	}

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := runCheck(r.Context(), s.checks[name]); err != nil {
			resp.Checks[name] = err.Error()
			if resp.Status == healthOK {
				resp.Status = healthDegraded
			}
			continue
		}
		resp.Checks[name] = healthOK
	}

	writeJSON(w, code, resp)
}

func runCheck(ctx context.Context, c HealthChecker) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	return c.HealthCheck(ctx)
}

// handleSystem returns runtime, device, scheduler and database statistics.
func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	info := SystemInfo{
		Timestamp:     s.now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeInfo{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
	}

	devices, err := s.devices.ListDevices(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	info.Devices.Total = len(devices)
	for i := range devices {
		if devices[i].IsConnected {
			info.Devices.Connected++
		}
		if devices[i].AutoPull {
			info.Devices.AutoPull++
		}
	}

	tasks := s.scheduler.TasksStatus()
	info.AutoPull.ActiveTasks = len(tasks)
	for _, t := range tasks {
		if t.Pulling {
			info.AutoPull.Pulling++
		}
		if t.LastError != "" {
			info.AutoPull.Failing++
		}
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		info.Database = &DatabaseInfo{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	if s.jobs != nil {
		info.Jobs = s.jobs.Jobs()
	}

	writeJSON(w, http.StatusOK, info)
}
