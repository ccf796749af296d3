package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, device.ErrInvalidInterval) {
//	    // reject the request
//	}
var (
	// ErrDeviceNotFound is returned when a device ID or serial does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when creating a device whose serial is taken.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDevice is the parent of every validation failure below.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidName is returned when a device name is empty or too long.
	ErrInvalidName = errors.New("device: invalid name")

	// ErrInvalidSerial is returned when the device address is empty after normalisation.
	ErrInvalidSerial = errors.New("device: invalid serial")

	// ErrInvalidInterval is returned when auto-pull is on and the interval is outside [5, 240] minutes.
	ErrInvalidInterval = errors.New("device: invalid auto-pull interval")

	// ErrMissingCredentials is returned when an operation needs pull credentials the device lacks.
	ErrMissingCredentials = errors.New("device: missing pull credentials")
)

// IsValidation reports whether err is a device validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidDevice)
}
