package autopull

import "errors"

var (
	// ErrTaskStopped is returned when a task was stopped or replaced
	// before it could run.
	ErrTaskStopped = errors.New("auto-pull task stopped")

	// ErrNotConfigured is returned when a device no longer qualifies for
	// auto-pull (disabled or missing credentials).
	ErrNotConfigured = errors.New("auto-pull not configured for device")
)

// ErrSchedulerClosed is returned by Start after StopAll.
var ErrSchedulerClosed = errors.New("auto-pull scheduler closed")
