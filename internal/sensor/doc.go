// Package sensor stores the sensors discovered in device telemetry and
// their reading history.
//
// A Sensor belongs to one device and is keyed by (device, type), where the
// type is the CSV Device_Name value such as "Temperature". Its durable
// identifier has the form "{type}_{rowID}". Readings are unique per
// (sensor, recordedAt), so re-ingesting an overlapping pull window never
// stores a reading twice.
//
// Registry.Resolve is the create-or-reuse entry point used by ingestion.
package sensor
