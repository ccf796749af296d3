package autopull

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nomanocra/SmartConnectServer/internal/device"
	"github.com/nomanocra/SmartConnectServer/internal/devicepull"
)

// task is the in-memory state of one device's auto-pull.
// All fields except deviceID and stop are guarded by Scheduler.mu.
type task struct {
	deviceID int64
	stop     chan struct{}

	device  *device.Device // configuration the task currently runs with
	stopped bool
	pulling bool
	lastRun time.Time
	nextRun time.Time
	lastErr error
}

// Scheduler runs one auto-pull task per device.
type Scheduler struct {
	devices  Devices
	fetcher  Fetcher
	ingester Ingester

	retryDelay         time.Duration
	restoreConcurrency int

	now   func() time.Time
	after func(time.Duration) <-chan time.Time

	logger   Logger
	recorder Recorder

	// base is the context of timer-driven pulls. Cancelled only when
	// StopAll gives up waiting for in-flight pulls.
	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	tasks  map[int64]*task
	locks  map[int64]*sync.Mutex // per-device pull serialization, outlives tasks
	closed bool

	wg sync.WaitGroup
}

// New creates a Scheduler. No task runs until Start or RestoreAll.
func New(cfg Config, devices Devices, fetcher Fetcher, ingester Ingester) *Scheduler {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.RestoreConcurrency <= 0 {
		cfg.RestoreConcurrency = DefaultRestoreConcurrency
	}

	base, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		devices:            devices,
		fetcher:            fetcher,
		ingester:           ingester,
		retryDelay:         cfg.RetryDelay,
		restoreConcurrency: cfg.RestoreConcurrency,
		now:                time.Now,
		after:              time.After,
		logger:             noopLogger{},
		base:               base,
		cancel:             cancel,
		tasks:              make(map[int64]*task),
		locks:              make(map[int64]*sync.Mutex),
	}
}

// SetLogger sets the logger for the scheduler.
func (s *Scheduler) SetLogger(logger Logger) {
	s.logger = logger
}

// SetRecorder sets the pull outcome recorder.
func (s *Scheduler) SetRecorder(r Recorder) {
	s.recorder = r
}

// Start (re)starts the auto-pull task of a device and pulls once before
// returning. It returns false without error when the device has auto-pull
// disabled or lacks credentials, and ErrTaskStopped when the task was
// stopped or replaced while its first pull ran. A failed first pull does not prevent the
// task from starting; it is retried after the retry delay.
func (s *Scheduler) Start(ctx context.Context, deviceID int64) (bool, error) {
	d, err := s.devices.GetDevice(ctx, deviceID)
	if err != nil {
		return false, fmt.Errorf("loading device %d: %w", deviceID, err)
	}
	if !d.CanAutoPull() {
		s.logger.Info("auto-pull not configured, task not started", "device_id", deviceID)
		return false, nil
	}

	t := &task{
		deviceID: deviceID,
		stop:     make(chan struct{}),
		device:   d,
		nextRun:  s.now(),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, ErrSchedulerClosed
	}
	if old := s.tasks[deviceID]; old != nil {
		s.stopLocked(old)
	}
	s.tasks[deviceID] = t
	lock := s.lockLocked(deviceID)
	s.mu.Unlock()

	// Blocking: waits for a pull of a replaced task to finish.
	lock.Lock()
	_, err = s.executePull(ctx, t)
	lock.Unlock()
	if err != nil && !errors.Is(err, ErrTaskStopped) {
		s.logger.Warn("initial auto-pull failed", "device_id", deviceID, "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentLocked(t) {
		switch {
		case errors.Is(err, device.ErrDeviceNotFound):
			return false, fmt.Errorf("loading device %d: %w", deviceID, err)
		case errors.Is(err, ErrNotConfigured):
			return false, nil
		}
		return false, ErrTaskStopped
	}
	s.wg.Add(1)
	go s.run(t)

	s.logger.Info("auto-pull started",
		"device_id", deviceID,
		"device", d.Name,
		"interval_minutes", d.UpdateStamp,
		"next_run", t.nextRun,
	)
	return true, nil
}

// Stop stops the task of a device. An in-flight pull runs to completion.
// Returns false when no task was active.
func (s *Scheduler) Stop(deviceID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.tasks[deviceID]
	if t == nil {
		return false
	}
	s.stopLocked(t)
	delete(s.tasks, deviceID)
	s.logger.Info("auto-pull stopped", "device_id", deviceID)
	return true
}

// IsTaskActive reports whether a task is running for the device.
func (s *Scheduler) IsTaskActive(deviceID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tasks[deviceID]
	return t != nil && !t.stopped
}

// ActiveCount returns the number of running tasks.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// TasksStatus returns the state of every task, ordered by device ID.
func (s *Scheduler) TasksStatus() []TaskStatus {
	s.mu.Lock()
	out := make([]TaskStatus, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, statusLocked(t))
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// TaskStatus returns the state of one task.
func (s *Scheduler) TaskStatus(deviceID int64) (TaskStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tasks[deviceID]
	if t == nil {
		return TaskStatus{DeviceID: deviceID}, false
	}
	return statusLocked(t), true
}

// RestoreAll starts a task for every device with auto-pull enabled and
// credentials set. Devices are started concurrently, bounded by
// Config.RestoreConcurrency.
func (s *Scheduler) RestoreAll(ctx context.Context) (RestoreResult, error) {
	devices, err := s.devices.ListAutoPullDevices(ctx)
	if err != nil {
		return RestoreResult{}, fmt.Errorf("listing auto-pull devices: %w", err)
	}

	var started, failed atomic.Int32
	var g errgroup.Group
	g.SetLimit(s.restoreConcurrency)
	for _, d := range devices {
		g.Go(func() error {
			ok, err := s.Start(ctx, d.ID)
			switch {
			case err != nil:
				failed.Add(1)
				s.logger.Error("restoring auto-pull failed", "device_id", d.ID, "error", err)
			case !ok:
				failed.Add(1)
			default:
				started.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := RestoreResult{Total: len(devices), Started: int(started.Load()), Failed: int(failed.Load())}
	s.logger.Info("auto-pull tasks restored", "total", res.Total, "started", res.Started, "failed", res.Failed)
	return res, nil
}

// Reconcile aligns running tasks with the device table: it starts missing
// tasks, restarts tasks whose schedule changed and stops tasks of devices
// that no longer qualify.
func (s *Scheduler) Reconcile(ctx context.Context) (ReconcileResult, error) {
	devices, err := s.devices.ListAutoPullDevices(ctx)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("listing auto-pull devices: %w", err)
	}

	wanted := make(map[int64]struct{}, len(devices))
	var toStart, toRestart []int64

	s.mu.Lock()
	for i := range devices {
		d := &devices[i]
		wanted[d.ID] = struct{}{}
		t := s.tasks[d.ID]
		switch {
		case t == nil:
			toStart = append(toStart, d.ID)
		case !t.device.SameSchedule(d):
			toRestart = append(toRestart, d.ID)
		}
	}
	var toStop []int64
	for id := range s.tasks {
		if _, ok := wanted[id]; !ok {
			toStop = append(toStop, id)
		}
	}
	s.mu.Unlock()

	var res ReconcileResult
	for _, id := range toStop {
		if s.Stop(id) {
			res.Stopped++
		}
	}

	var started, restarted, failed atomic.Int32
	var g errgroup.Group
	g.SetLimit(s.restoreConcurrency)
	launch := func(id int64, counter *atomic.Int32) {
		g.Go(func() error {
			ok, err := s.Start(ctx, id)
			if err != nil || !ok {
				failed.Add(1)
				if err != nil {
					s.logger.Warn("reconcile start failed", "device_id", id, "error", err)
				}
				return nil
			}
			counter.Add(1)
			return nil
		})
	}
	for _, id := range toStart {
		launch(id, &started)
	}
	for _, id := range toRestart {
		launch(id, &restarted)
	}
	_ = g.Wait()

	res.Started = int(started.Load())
	res.Restarted = int(restarted.Load())
	res.Failed = int(failed.Load())
	if res != (ReconcileResult{}) {
		s.logger.Info("auto-pull tasks reconciled",
			"started", res.Started, "restarted", res.Restarted,
			"stopped", res.Stopped, "failed", res.Failed)
	}
	return res, nil
}

// StopAll stops every task and refuses new ones, then waits for in-flight
// pulls. If ctx expires first, in-flight pulls are cancelled.
func (s *Scheduler) StopAll(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	n := len(s.tasks)
	for id, t := range s.tasks {
		s.stopLocked(t)
		delete(s.tasks, id)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.logger.Info("all auto-pull tasks stopped", "count", n)
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return fmt.Errorf("waiting for in-flight pulls: %w", ctx.Err())
	}
}

// PullNow pulls a device outside its schedule, waiting for any running
// pull of the same device. A zero since requests one interval back.
func (s *Scheduler) PullNow(ctx context.Context, deviceID int64, since time.Time) (PullResult, error) {
	d, err := s.devices.GetDevice(ctx, deviceID)
	if err != nil {
		return PullResult{}, fmt.Errorf("loading device %d: %w", deviceID, err)
	}
	if !d.HasCredentials() {
		return PullResult{}, device.ErrMissingCredentials
	}
	if since.IsZero() {
		since = s.now().Add(-d.PullInterval())
	}

	s.mu.Lock()
	lock := s.lockLocked(deviceID)
	s.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return s.pull(ctx, d, since)
}

// run fires the task's pulls until it is stopped.
func (s *Scheduler) run(t *task) {
	defer s.wg.Done()

	s.mu.Lock()
	lock := s.lockLocked(t.deviceID)
	s.mu.Unlock()

	for {
		s.mu.Lock()
		wait := t.nextRun.Sub(s.now())
		s.mu.Unlock()
		if wait < 0 {
			wait = 0
		}

		select {
		case <-t.stop:
			return
		case <-s.after(wait):
		}

		select {
		case <-t.stop:
			return
		default:
		}

		if !lock.TryLock() {
			s.mu.Lock()
			t.nextRun = s.now().Add(t.device.PullInterval())
			s.mu.Unlock()
			s.logger.Warn("previous pull still running, tick skipped", "device_id", t.deviceID)
			continue
		}
		_, err := s.executePull(s.base, t)
		lock.Unlock()
		if err != nil && !errors.Is(err, ErrTaskStopped) {
			s.logger.Debug("scheduled pull failed", "device_id", t.deviceID, "error", err)
		}
	}
}

// executePull runs one scheduled pull. The caller holds the device lock.
func (s *Scheduler) executePull(ctx context.Context, t *task) (PullResult, error) {
	if !s.isCurrent(t) {
		return PullResult{}, ErrTaskStopped
	}

	d, err := s.devices.GetDevice(ctx, t.deviceID)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			s.selfStop(t, "device deleted")
			return PullResult{}, err
		}
		s.finish(t, err)
		return PullResult{}, fmt.Errorf("reloading device %d: %w", t.deviceID, err)
	}
	if !d.CanAutoPull() {
		s.selfStop(t, "auto-pull no longer configured")
		return PullResult{}, ErrNotConfigured
	}

	s.mu.Lock()
	if !t.device.SameSchedule(d) {
		s.logger.Info("device configuration changed, task follows it",
			"device_id", t.deviceID,
			"interval_minutes", d.UpdateStamp,
		)
	}
	t.device = d
	t.pulling = true
	s.mu.Unlock()

	res, err := s.pull(ctx, d, s.now().Add(-d.PullInterval()))
	s.finish(t, err)
	return res, err
}

// pull fetches and ingests one window. The caller holds the device lock.
func (s *Scheduler) pull(ctx context.Context, d *device.Device, since time.Time) (PullResult, error) {
	start := time.Now()
	user, pass := d.Credentials()
	res := PullResult{DeviceID: d.ID, WindowStart: since}

	s.logger.Debug("pulling device data", "device_id", d.ID, "address", d.Serial, "since", since)

	body, err := s.fetcher.Fetch(ctx, devicepull.Request{
		Address:     d.Serial,
		Username:    user,
		Password:    pass,
		WindowStart: since,
	})
	if err == nil {
		res.Bytes = len(body)
		res.Stats, err = s.ingester.Process(ctx, body, d.ID)
	}

	if s.recorder != nil {
		s.recorder.ObservePull(d.ID, time.Since(start), err)
	}
	if rerr := s.devices.RecordPull(ctx, d.ID, s.now(), err == nil); rerr != nil {
		s.logger.Warn("recording pull outcome failed", "device_id", d.ID, "error", rerr)
	}

	if err != nil {
		return res, err
	}
	s.logger.Info("device pull completed",
		"device_id", d.ID,
		"bytes", res.Bytes,
		"processed_lines", res.Stats.ProcessedLines,
		"sensors_created", res.Stats.SensorsCreated,
		"readings_inserted", res.Stats.ReadingsInserted,
	)
	return res, nil
}

// finish records the outcome of a scheduled pull and plans the next one.
func (s *Scheduler) finish(t *task, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	t.pulling = false
	t.lastRun = now
	t.lastErr = err
	if err != nil {
		t.nextRun = now.Add(s.retryDelay)
		s.logger.Warn("auto-pull failed, retry scheduled",
			"device_id", t.deviceID, "error", err, "next_run", t.nextRun)
		return
	}
	t.nextRun = now.Add(t.device.PullInterval())
}

func (s *Scheduler) selfStop(t *task, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tasks[t.deviceID] == t {
		delete(s.tasks, t.deviceID)
	}
	s.stopLocked(t)
	s.logger.Info("auto-pull task stopped itself", "device_id", t.deviceID, "reason", reason)
}

func (s *Scheduler) isCurrent(t *task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked(t)
}

func (s *Scheduler) currentLocked(t *task) bool {
	return s.tasks[t.deviceID] == t && !t.stopped
}

func (s *Scheduler) stopLocked(t *task) {
	if !t.stopped {
		t.stopped = true
		t.pulling = false
		close(t.stop)
	}
}

func (s *Scheduler) lockLocked(deviceID int64) *sync.Mutex {
	l := s.locks[deviceID]
	if l == nil {
		l = &sync.Mutex{}
		s.locks[deviceID] = l
	}
	return l
}

func statusLocked(t *task) TaskStatus {
	st := TaskStatus{
		DeviceID:        t.deviceID,
		IsRunning:       !t.stopped,
		Pulling:         t.pulling,
		IntervalMinutes: t.device.UpdateStamp,
	}
	if !t.lastRun.IsZero() {
		lr := t.lastRun
		st.LastRun = &lr
	}
	if !t.nextRun.IsZero() {
		nr := t.nextRun
		st.NextRun = &nr
	}
	if t.lastErr != nil {
		st.LastError = t.lastErr.Error()
	}
	return st
}
