package sensor

import "errors"

var (
	// ErrSensorNotFound is returned when no sensor matches the lookup.
	ErrSensorNotFound = errors.New("sensor: not found")

	// ErrSensorExists is returned when a sensor already exists for the
	// (device, type) pair or the durable identifier is taken.
	ErrSensorExists = errors.New("sensor: already exists")

	// ErrInvalidType is returned when the sensor type is empty.
	ErrInvalidType = errors.New("sensor: invalid type")
)
