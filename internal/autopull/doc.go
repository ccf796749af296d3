// Package autopull runs recurring CSV pulls for devices with auto-pull
// enabled.
//
// The Scheduler owns one task per device. A task pulls once when it is
// started, then again every UpdateStamp minutes. A failed pull is retried
// after a fixed delay (10 minutes by default) instead of the configured
// interval. Pulls for one device never overlap: a tick that finds the
// previous pull still running is skipped. Different devices pull in
// parallel.
//
// Stopping a task prevents further ticks but lets an in-flight pull finish.
// Tasks live in memory only; RestoreAll rebuilds them from the device table
// at boot and StopAll tears them down on shutdown.
package autopull
