// Package ingest turns raw CSV telemetry from a SmartConnect boitier into
// sensor readings.
//
// The CSV carries a header row. Device_Name and Value are required columns,
// Unit is optional, and the timestamp column is the first of Timestamp,
// Date or Time present. Each data row is resolved to a sensor of the
// device, stored as a reading unless that (sensor, recordedAt) pair already
// exists, and the newest value per sensor in the batch becomes the sensor's
// latest value.
//
// Ingestion for one device is serialised; different devices proceed in
// parallel.
package ingest
