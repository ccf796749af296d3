package mqtt

import (
	"encoding/json"
	"fmt"

	"github.com/nomanocra/SmartConnectServer/internal/ingest"
)

// maxPayloadSize bounds a single message (1MB).
const maxPayloadSize = 1 << 20

// Publish sends a message to topic and waits for the broker
// acknowledgement according to qos.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// PublishRetained publishes a retained message with the configured QoS.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, byte(c.cfg.QoS), true)
}

// PublishSnapshot publishes a sensor's latest value as a retained message.
// Satisfies ingest.SnapshotPublisher.
func (c *Client) PublishSnapshot(s ingest.Snapshot) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("%w: encoding snapshot: %w", ErrPublishFailed, err)
	}
	return c.PublishRetained(c.topics.SensorState(s.DeviceID, s.Type), payload)
}

// ClearSensorState removes the retained state of a sensor. An empty
// retained message deletes it on the broker.
func (c *Client) ClearSensorState(deviceID int64, sensorType string) error {
	return c.PublishRetained(c.topics.SensorState(deviceID, sensorType), nil)
}
