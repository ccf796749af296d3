// Package device manages SmartConnect boitiers: the remote devices whose CSV
// telemetry is pulled over HTTP.
//
// A Device is identified by its normalised network address (the serial),
// carries optional pull credentials and, when auto-pull is enabled, a poll
// interval in minutes bounded to [5, 240].
//
// # Key Types
//
//   - Device: a registered boitier and its pull settings
//   - Repository: persistence contract, implemented by SQLiteRepository
//   - Registry: validating facade with lifecycle hooks used by the API
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db)
//	registry := device.NewRegistry(repo)
//	registry.SetLogger(log)
//	registry.SetHooks(device.Hooks{
//	    BeforeDelete: func(id int64) { scheduler.StopAutoPull(id) },
//	})
//
// Deleting a device cascades to its sensors and readings in the store.
package device
