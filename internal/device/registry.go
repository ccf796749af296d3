package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
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

// Hooks let the owner of the auto-pull scheduler react to device changes
// without this package depending on it. Nil hooks are skipped.
type Hooks struct {
	// BeforeDelete runs before the device row is removed.
	BeforeDelete func(id int64)

	// AfterUpdate runs after settings were persisted.
	AfterUpdate func(d *Device)
}

// Registry validates device changes and fires lifecycle hooks around the
// Repository. It holds no cache: the scheduler reloads devices on every tick
// and must see committed settings.
//
// All public methods are safe for concurrent use.
type Registry struct {
	repo   Repository
	hooks  Hooks
	logger Logger
}

// NewRegistry creates a new device registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetHooks installs lifecycle hooks. Call before serving requests.
func (r *Registry) SetHooks(h Hooks) {
	r.hooks = h
}

// GetDevice returns ErrDeviceNotFound if the device does not exist.
func (r *Registry) GetDevice(ctx context.Context, id int64) (*Device, error) {
	return r.repo.GetByID(ctx, id)
}

// ListDevices returns all devices.
func (r *Registry) ListDevices(ctx context.Context) ([]Device, error) {
	return r.repo.List(ctx)
}

// ListAutoPullDevices returns devices eligible for an auto-pull task.
func (r *Registry) ListAutoPullDevices(ctx context.Context) ([]Device, error) {
	return r.repo.ListAutoPull(ctx)
}

// Registration describes a device reached for the first time.
type Registration struct {
	Address  string
	Name     string
	Username string
	Password string
}

// Register creates the device for reg.Address, or refreshes the stored
// credentials of the device already registered under that address.
// The address is normalised before lookup. A new device starts with
// auto-pull off and the default interval.
func (r *Registry) Register(ctx context.Context, reg Registration) (*Device, bool, error) {
	serial := NormalizeAddress(reg.Address)
	name := strings.TrimSpace(reg.Name)
	if name == "" {
		name = serial
	}

	existing, err := r.repo.GetBySerial(ctx, serial)
	switch {
	case err == nil:
		existing.Username = stringPtr(reg.Username)
		existing.Password = stringPtr(reg.Password)
		if strings.TrimSpace(reg.Name) != "" {
			existing.Name = name
		}
		if err := ValidateDevice(existing); err != nil {
			return nil, false, err
		}
		if err := r.repo.Update(ctx, existing); err != nil {
			return nil, false, fmt.Errorf("updating device: %w", err)
		}
		r.fireAfterUpdate(existing)
		return existing, false, nil
	case !errors.Is(err, ErrDeviceNotFound):
		return nil, false, err
	}

	d := &Device{
		Serial:      serial,
		Name:        name,
		UpdateStamp: DefaultUpdateStamp,
		Username:    stringPtr(reg.Username),
		Password:    stringPtr(reg.Password),
	}
	if err := ValidateDevice(d); err != nil {
		return nil, false, err
	}
	if err := r.repo.Create(ctx, d); err != nil {
		return nil, false, err
	}

	r.logger.Info("device registered", "device_id", d.ID, "serial", d.Serial)
	return d, true, nil
}

// UpdateSettings applies a partial update after validating the result.
// The AfterUpdate hook sees the persisted device.
func (r *Registry) UpdateSettings(ctx context.Context, id int64, s Settings) (*Device, error) {
	d, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.Apply(d)
	if err := ValidateDevice(d); err != nil {
		return nil, err
	}
	if d.AutoPull && !d.HasCredentials() {
		return nil, fmt.Errorf("%w: %w: auto-pull needs a username and password", ErrInvalidDevice, ErrMissingCredentials)
	}

	if err := r.repo.Update(ctx, d); err != nil {
		return nil, err
	}

	r.logger.Info("device settings updated",
		"device_id", d.ID, "auto_pull", d.AutoPull, "update_stamp", d.UpdateStamp)
	r.fireAfterUpdate(d)
	return d, nil
}

// DeleteDevice runs the BeforeDelete hook, then removes the device.
func (r *Registry) DeleteDevice(ctx context.Context, id int64) error {
	if _, err := r.repo.GetByID(ctx, id); err != nil {
		return err
	}

	if r.hooks.BeforeDelete != nil {
		r.hooks.BeforeDelete(id)
	}

	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.logger.Info("device deleted", "device_id", id)
	return nil
}

// RecordPull stores the connectivity outcome of a pull.
func (r *Registry) RecordPull(ctx context.Context, id int64, at time.Time, ok bool) error {
	return r.repo.RecordPull(ctx, id, at, ok)
}

func (r *Registry) fireAfterUpdate(d *Device) {
	if r.hooks.AfterUpdate != nil {
		r.hooks.AfterUpdate(d)
	}
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
