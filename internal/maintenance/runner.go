package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nomanocra/SmartConnectServer/internal/autopull"
)

// Job names.
const (
	JobReconcile = "reconcile"
	JobRetention = "retention"
)

// ErrRetentionDisabled is returned by RunRetention when no retention
// period is configured.
var ErrRetentionDisabled = errors.New("maintenance: retention disabled")

// Reconciler aligns auto-pull tasks with stored devices.
// Implemented by autopull.Scheduler.
type Reconciler interface {
	Reconcile(ctx context.Context) (autopull.ReconcileResult, error)
}

// Pruner deletes readings recorded before cutoff.
// Implemented by sensor.SQLiteReadingRepository.
type Pruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Logger defines the logging interface used by the Runner.
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

// Config holds job schedules in robfig/cron syntax ("@every 5m",
// "0 3 * * *", ...).
type Config struct {
	ReconcileSchedule string
	RetentionSchedule string
	RetentionDays     int
}

// JobStatus describes one scheduled job.
type JobStatus struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next"`
	Prev     time.Time `json:"prev,omitempty"`
}

// Runner owns the cron scheduler and the housekeeping jobs.
type Runner struct {
	cron       *cron.Cron
	reconciler Reconciler
	pruner     Pruner
	retention  time.Duration

	base   context.Context
	cancel context.CancelFunc
	now    func() time.Time

	loggerMu sync.RWMutex
	logger   Logger

	jobs map[string]jobEntry
}

type jobEntry struct {
	id       cron.EntryID
	schedule string
}

// New registers the configured jobs. The cron scheduler does not run
// until Start.
func New(cfg Config, reconciler Reconciler, pruner Pruner) (*Runner, error) {
	base, cancel := context.WithCancel(context.Background())
	r := &Runner{
		reconciler: reconciler,
		pruner:     pruner,
		retention:  time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		base:       base,
		cancel:     cancel,
		now:        time.Now,
		logger:     noopLogger{},
		jobs:       make(map[string]jobEntry),
	}

	cl := cronLogger{r: r}
	r.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	if cfg.ReconcileSchedule != "" && reconciler != nil {
		if err := r.add(JobReconcile, cfg.ReconcileSchedule, func(ctx context.Context) error {
			_, err := r.RunReconcile(ctx)
			return err
		}); err != nil {
			cancel()
			return nil, err
		}
	}
	if cfg.RetentionSchedule != "" && cfg.RetentionDays > 0 && pruner != nil {
		if err := r.add(JobRetention, cfg.RetentionSchedule, func(ctx context.Context) error {
			_, err := r.RunRetention(ctx)
			return err
		}); err != nil {
			cancel()
			return nil, err
		}
	}

	return r, nil
}

// SetLogger sets the logger for the runner and the cron scheduler.
func (r *Runner) SetLogger(logger Logger) {
	r.loggerMu.Lock()
	r.logger = logger
	r.loggerMu.Unlock()
}

func (r *Runner) getLogger() Logger {
	r.loggerMu.RLock()
	defer r.loggerMu.RUnlock()
	return r.logger
}

func (r *Runner) add(name, schedule string, job func(context.Context) error) error {
	id, err := r.cron.AddFunc(schedule, func() {
		start := time.Now()
		if err := job(r.base); err != nil {
			r.getLogger().Error("maintenance job failed", "job", name, "error", err)
			return
		}
		r.getLogger().Debug("maintenance job finished", "job", name, "duration", time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("scheduling %s job %q: %w", name, schedule, err)
	}
	r.jobs[name] = jobEntry{id: id, schedule: schedule}
	return nil
}

// Start runs the cron scheduler in its own goroutine.
func (r *Runner) Start() {
	r.cron.Start()
	r.getLogger().Info("maintenance jobs started", "jobs", len(r.jobs))
}

// Stop stops scheduling and waits for running jobs. If ctx expires first,
// running jobs are cancelled.
func (r *Runner) Stop(ctx context.Context) error {
	done := r.cron.Stop()
	select {
	case <-done.Done():
		r.cancel()
		r.getLogger().Info("maintenance jobs stopped")
		return nil
	case <-ctx.Done():
		r.cancel()
		return fmt.Errorf("waiting for maintenance jobs: %w", ctx.Err())
	}
}

// RunReconcile runs the reconcile job once.
func (r *Runner) RunReconcile(ctx context.Context) (autopull.ReconcileResult, error) {
	if r.reconciler == nil {
		return autopull.ReconcileResult{}, nil
	}
	return r.reconciler.Reconcile(ctx)
}

// RunRetention deletes readings older than the retention period.
func (r *Runner) RunRetention(ctx context.Context) (int64, error) {
	if r.retention <= 0 || r.pruner == nil {
		return 0, ErrRetentionDisabled
	}

	cutoff := r.now().Add(-r.retention)
	n, err := r.pruner.PruneBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning readings before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if n > 0 {
		r.getLogger().Info("old readings pruned", "deleted", n, "cutoff", cutoff)
	}
	return n, nil
}

// Jobs returns the registered jobs with their next run time.
func (r *Runner) Jobs() []JobStatus {
	out := make([]JobStatus, 0, len(r.jobs))
	for _, name := range []string{JobReconcile, JobRetention} {
		j, ok := r.jobs[name]
		if !ok {
			continue
		}
		e := r.cron.Entry(j.id)
		out = append(out, JobStatus{Name: name, Schedule: j.schedule, Next: e.Next, Prev: e.Prev})
	}
	return out
}

// cronLogger adapts the runner's logger to cron.Logger.
type cronLogger struct {
	r *Runner
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.r.getLogger().Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.r.getLogger().Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
