package devicepull

import (
	"errors"
	"fmt"
)

// ErrDevice matches every *DeviceError with errors.Is.
var ErrDevice = errors.New("devicepull: device error")

// Device error codes, mirroring the HTTP status an API should answer with.
const (
	CodeNotTelemetry = 400 // reachable, but the body is not CSV telemetry
	CodeUnauthorized = 401
	CodeNotFound     = 404 // host name does not resolve
	CodeBadGateway   = 502 // device answered with an unexpected HTTP status
	CodeUnavailable  = 503 // connection refused or host unreachable
	CodeTimeout      = 504
)

// DeviceError describes why a device could not deliver telemetry.
type DeviceError struct {
	Code    int
	Address string
	Message string
	Err     error
}

func (e *DeviceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("device %s: %s (%d): %v", e.Address, e.Message, e.Code, e.Err)
	}
	return fmt.Sprintf("device %s: %s (%d)", e.Address, e.Message, e.Code)
}

// Unwrap exposes ErrDevice and the underlying cause.
func (e *DeviceError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDevice}
	}
	return []error{ErrDevice, e.Err}
}

// Transport reports whether the request never got an HTTP answer.
func (e *DeviceError) Transport() bool {
	switch e.Code {
	case CodeNotFound, CodeUnavailable, CodeTimeout:
		return true
	default:
		return false
	}
}

// Code returns the DeviceError code carried by err, or 0.
func Code(err error) int {
	var de *DeviceError
	if errors.As(err, &de) {
		return de.Code
	}
	return 0
}
