package device

import "time"

// Auto-pull interval bounds, in minutes.
const (
	MinUpdateStamp     = 5
	MaxUpdateStamp     = 240
	DefaultUpdateStamp = 15
)

// Device is a registered SmartConnect boitier.
type Device struct {
	ID     int64  `json:"id"`
	Serial string `json:"deviceSerial"`
	Name   string `json:"name"`

	// IsConnected reflects the outcome of the most recent pull.
	IsConnected bool `json:"isConnected"`

	AutoPull bool `json:"autoPull"`
	// UpdateStamp is the auto-pull interval in minutes.
	UpdateStamp int `json:"updateStamp"`

	Username *string `json:"username,omitempty"`
	Password *string `json:"-"`

	LastPullAt *time.Time `json:"lastPullAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// HasCredentials reports whether both pull username and password are set.
func (d *Device) HasCredentials() bool {
	return d.Username != nil && *d.Username != "" &&
		d.Password != nil && *d.Password != ""
}

// CanAutoPull reports whether the scheduler may run a task for this device.
func (d *Device) CanAutoPull() bool {
	return d.AutoPull && d.HasCredentials()
}

// PullInterval returns UpdateStamp as a duration.
func (d *Device) PullInterval() time.Duration {
	return time.Duration(d.UpdateStamp) * time.Minute
}

// Credentials returns the pull username and password, empty when unset.
func (d *Device) Credentials() (username, password string) {
	if d.Username != nil {
		username = *d.Username
	}
	if d.Password != nil {
		password = *d.Password
	}
	return username, password
}

// SameSchedule reports whether other would run the same auto-pull task as d.
// The scheduler uses it to detect configuration changes between ticks.
func (d *Device) SameSchedule(other *Device) bool {
	if other == nil {
		return false
	}
	u1, p1 := d.Credentials()
	u2, p2 := other.Credentials()
	return d.AutoPull == other.AutoPull &&
		d.UpdateStamp == other.UpdateStamp &&
		d.Serial == other.Serial &&
		u1 == u2 && p1 == p2
}

// Settings is a partial update of a device. Nil fields are left unchanged.
type Settings struct {
	Name        *string `json:"name,omitempty"`
	AutoPull    *bool   `json:"autoPull,omitempty"`
	UpdateStamp *int    `json:"updateStamp,omitempty"`
	Username    *string `json:"username,omitempty"`
	Password    *string `json:"password,omitempty"`
}

// Apply copies the non-nil fields of s onto d.
func (s Settings) Apply(d *Device) {
	if s.Name != nil {
		d.Name = *s.Name
	}
	if s.AutoPull != nil {
		d.AutoPull = *s.AutoPull
	}
	if s.UpdateStamp != nil {
		d.UpdateStamp = *s.UpdateStamp
	}
	if s.Username != nil {
		d.Username = s.Username
	}
	if s.Password != nil {
		d.Password = s.Password
	}
}
