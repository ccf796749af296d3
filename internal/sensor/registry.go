package sensor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Logger defines the logging interface used by the Registry.
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

// Registry resolves the sensor for a (device, type) pair, creating it on
// first sight.
type Registry struct {
	repo   Repository
	logger Logger
}

// NewRegistry creates a sensor registry over repo.
func NewRegistry(repo Repository) *Registry {
	return &Registry{repo: repo, logger: noopLogger{}}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Resolve returns the sensor of deviceID with the given type, creating it
// when missing. A non-empty unit that differs from the stored one replaces
// it. created reports whether a new sensor was stored.
//
// A new sensor starts with an empty value, no alert and no lastUpdate. It
// is inserted under a provisional identifier and renamed to
// "{typeName}_{rowID}" in the same transaction. When a concurrent caller
// wins the (device, type) race, its sensor is returned instead.
func (r *Registry) Resolve(ctx context.Context, deviceID int64, typeName, unit string) (s *Sensor, created bool, err error) {
	typeName = strings.TrimSpace(typeName)
	if typeName == "" {
		return nil, false, ErrInvalidType
	}

	s, err = r.repo.FindByDeviceAndType(ctx, deviceID, typeName)
	switch {
	case err == nil:
		if unit != "" && s.UnitOrEmpty() != unit {
			if err := r.repo.UpdateUnit(ctx, s.ID, unit); err != nil {
				return nil, false, fmt.Errorf("refreshing unit of %s: %w", s.SensorID, err)
			}
			s.Unit = &unit
		}
		return s, false, nil
	case !errors.Is(err, ErrSensorNotFound):
		return nil, false, err
	}

	s = &Sensor{
		SensorID: "tmp_" + uuid.NewString(),
		DeviceID: deviceID,
		Name:     typeName,
		Type:     typeName,
	}
	if unit != "" {
		s.Unit = &unit
	}

	err = r.repo.Create(ctx, s, func(rowID int64) string { return DurableID(typeName, rowID) })
	if errors.Is(err, ErrSensorExists) {
		existing, findErr := r.repo.FindByDeviceAndType(ctx, deviceID, typeName)
		if findErr != nil {
			return nil, false, fmt.Errorf("re-reading sensor after conflict: %w", findErr)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	r.logger.Info("sensor created", "device_id", deviceID, "sensor_id", s.SensorID, "type", typeName)
	return s, true, nil
}
