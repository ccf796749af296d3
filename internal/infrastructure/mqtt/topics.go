package mqtt

import (
	"strconv"
	"strings"
)

// DefaultTopicPrefix is used when the configured prefix is empty.
const DefaultTopicPrefix = "smartconnect"

// Topics builds the topic names of this server.
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return strings.TrimRight(t.Prefix, "/")
}

// ServerStatus returns the retained online/offline status topic.
//
// Example: smartconnect/server/status
func (t Topics) ServerStatus() string {
	return t.prefix() + "/server/status"
}

// SensorState returns the retained latest-value topic of a sensor.
//
// Example: smartconnect/device/12/sensor/Temperature/state
func (t Topics) SensorState(deviceID int64, sensorType string) string {
	return t.prefix() + "/device/" + strconv.FormatInt(deviceID, 10) +
		"/sensor/" + TopicSegment(sensorType) + "/state"
}

// DeviceSensors returns a filter matching every sensor state of a device.
//
// Example: smartconnect/device/12/sensor/+/state
func (t Topics) DeviceSensors(deviceID int64) string {
	return t.prefix() + "/device/" + strconv.FormatInt(deviceID, 10) + "/sensor/+/state"
}

// TopicSegment makes s safe as a single topic level: separators and
// wildcards become underscores, and an empty value becomes "_".
func TopicSegment(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#', 0:
			return '_'
		default:
			return r
		}
	}, s)
}
