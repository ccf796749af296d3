package autopull

import "github.com/nomanocra/SmartConnectServer/internal/device"

// DeviceHooks returns registry hooks that keep tasks in line with device
// rows: a deleted device loses its task before the row goes, and a device
// that no longer qualifies for auto-pull is stopped at once instead of at
// its next tick. Starting or restarting stays with the caller, since it
// pulls synchronously and needs a request context.
func (s *Scheduler) DeviceHooks() device.Hooks {
	return device.Hooks{
		BeforeDelete: func(id int64) {
			s.Stop(id)
		},
		AfterUpdate: func(d *device.Device) {
			if !d.CanAutoPull() {
				s.Stop(d.ID)
			}
		},
	}
}
