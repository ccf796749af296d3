package device

import (
	"fmt"
	"strings"
)

const maxNameLength = 100

// ValidateDevice checks a device before it is persisted.
// Returns an error wrapping ErrInvalidDevice describing the first failure.
func ValidateDevice(d *Device) error {
	if d == nil {
		return ErrInvalidDevice
	}
	if err := ValidateName(d.Name); err != nil {
		return err
	}
	if NormalizeAddress(d.Serial) == "" {
		return fmt.Errorf("%w: %w: address is required", ErrInvalidDevice, ErrInvalidSerial)
	}
	if d.AutoPull {
		if err := ValidateUpdateStamp(d.UpdateStamp); err != nil {
			return err
		}
	}
	return nil
}

// ValidateName checks a display name.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: %w: name is required", ErrInvalidDevice, ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: %w: name exceeds %d characters", ErrInvalidDevice, ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateUpdateStamp checks an auto-pull interval in minutes.
func ValidateUpdateStamp(minutes int) error {
	if minutes < MinUpdateStamp || minutes > MaxUpdateStamp {
		return fmt.Errorf("%w: %w: %d minutes is outside [%d, %d]",
			ErrInvalidDevice, ErrInvalidInterval, minutes, MinUpdateStamp, MaxUpdateStamp)
	}
	return nil
}

// NormalizeAddress reduces a device address to its identity form:
// surrounding whitespace, a leading http:// or https:// scheme, a leading
// "www." and trailing slashes are removed.
//
//	NormalizeAddress("https://www.boitier.example.com/") // "boitier.example.com"
func NormalizeAddress(address string) string {
	a := strings.TrimSpace(address)
	lower := strings.ToLower(a)
	for _, scheme := range []string{"http://", "https://"} {
		if strings.HasPrefix(lower, scheme) {
			a = a[len(scheme):]
			lower = lower[len(scheme):]
			break
		}
	}
	if strings.HasPrefix(lower, "www.") {
		a = a[len("www."):]
	}
	return strings.TrimRight(a, "/")
}

// ExplicitScheme returns "http" or "https" when address starts with that
// scheme, or "" when the caller gave none.
func ExplicitScheme(address string) string {
	lower := strings.ToLower(strings.TrimSpace(address))
	switch {
	case strings.HasPrefix(lower, "https://"):
		return "https"
	case strings.HasPrefix(lower, "http://"):
		return "http"
	default:
		return ""
	}
}
