package autopull

import (
	"context"
	"time"

	"github.com/nomanocra/SmartConnectServer/internal/device"
	"github.com/nomanocra/SmartConnectServer/internal/devicepull"
	"github.com/nomanocra/SmartConnectServer/internal/ingest"
)

// DefaultRetryDelay is the wait before retrying a failed pull.
const DefaultRetryDelay = 10 * time.Minute

// DefaultRestoreConcurrency bounds parallel task starts in RestoreAll.
const DefaultRestoreConcurrency = 4

// Devices loads device configuration and records pull outcomes.
// Implemented by device.Registry.
type Devices interface {
	GetDevice(ctx context.Context, id int64) (*device.Device, error)
	ListAutoPullDevices(ctx context.Context) ([]device.Device, error)
	RecordPull(ctx context.Context, id int64, at time.Time, ok bool) error
}

// Fetcher downloads CSV telemetry. Implemented by devicepull.Client.
type Fetcher interface {
	Fetch(ctx context.Context, req devicepull.Request) (string, error)
}

// Ingester stores CSV telemetry. Implemented by ingest.Ingestor.
type Ingester interface {
	Process(ctx context.Context, csvText string, deviceID int64) (ingest.Stats, error)
}

// Recorder observes pull outcomes.
type Recorder interface {
	ObservePull(deviceID int64, duration time.Duration, err error)
}

// Logger defines the logging interface used by the Scheduler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds scheduler settings.
type Config struct {
	// RetryDelay replaces the interval after a failed pull.
	RetryDelay time.Duration

	// RestoreConcurrency bounds how many tasks RestoreAll starts at once.
	RestoreConcurrency int
}

// TaskStatus is a read-only view of one task.
type TaskStatus struct {
	DeviceID        int64      `json:"deviceId"`
	IsRunning       bool       `json:"isRunning"`
	Pulling         bool       `json:"pulling"`
	IntervalMinutes int        `json:"intervalMinutes"`
	LastRun         *time.Time `json:"lastRun"`
	NextRun         *time.Time `json:"nextRun"`
	LastError       string     `json:"lastError,omitempty"`
}

// RestoreResult summarises RestoreAll.
type RestoreResult struct {
	Total   int `json:"total"`
	Started int `json:"started"`
	Failed  int `json:"failed"`
}

// ReconcileResult summarises Reconcile.
type ReconcileResult struct {
	Started   int `json:"started"`
	Restarted int `json:"restarted"`
	Stopped   int `json:"stopped"`
	Failed    int `json:"failed"`
}

// PullResult is the outcome of one pull.
type PullResult struct {
	DeviceID    int64        `json:"deviceId"`
	WindowStart time.Time    `json:"windowStart"`
	Bytes       int          `json:"bytes"`
	Stats       ingest.Stats `json:"stats"`
}
