package sensor

import (
	"strconv"
	"time"
)

// Sensor is a measured quantity of one device.
type Sensor struct {
	ID       int64  `json:"id"`
	SensorID string `json:"sensorId"`
	DeviceID int64  `json:"smartDeviceId"`
	Name     string `json:"name"`
	Type     string `json:"type"`

	// Value is the raw string of the most recent reading.
	Value string  `json:"value"`
	Unit  *string `json:"unit,omitempty"`

	IsAlert    bool       `json:"isAlert"`
	LastUpdate *time.Time `json:"lastUpdate,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// UnitOrEmpty returns the stored unit, or "" when none is known.
func (s *Sensor) UnitOrEmpty() string {
	if s.Unit == nil {
		return ""
	}
	return *s.Unit
}

// DurableID returns the stable sensor identifier for a type and row id.
func DurableID(typeName string, rowID int64) string {
	return typeName + "_" + strconv.FormatInt(rowID, 10)
}

// Reading is one time-series point of a sensor.
type Reading struct {
	ID         int64     `json:"id"`
	SensorID   int64     `json:"-"`
	Value      string    `json:"value"`
	RecordedAt time.Time `json:"recordedAt"`
	CreatedAt  time.Time `json:"createdAt"`
}

// HistoryEntry is a reading joined with its sensor's identity.
type HistoryEntry struct {
	Reading
	SensorKey string  `json:"sensorId"`
	Type      string  `json:"type"`
	Unit      *string `json:"unit,omitempty"`
}

// HistoryQuery filters the reading history.
type HistoryQuery struct {
	// SensorIDs are durable identifiers. Empty means all sensors.
	SensorIDs []string
	Start     *time.Time
	End       *time.Time
	// Limit defaults to DefaultHistoryLimit and is capped at MaxHistoryLimit.
	Limit int
}

// History limits.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 1000
)

// timeLayout is fixed-width so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTime renders t in the storage layout, in UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
