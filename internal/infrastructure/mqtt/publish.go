package mqtt

import (
	"fmt"
	"strings"
)

// maxPayloadSize caps outgoing payloads (1MB). Device values and
// commands are a few hundred bytes.
const maxPayloadSize = 1 << 20

// Publish sends payload on topic.
//
// Bridges use it for device commands (not retained). Device state goes
// through PublishDeviceState.
//
// Parameters:
//   - topic: Concrete topic, wildcards are rejected
//   - payload: Message body, at most 1MB
//   - qos: 0, 1 or 2
//   - retained: Whether the broker keeps the message for new subscribers
//
// Returns:
//   - error: ErrInvalidTopic, ErrInvalidQoS or ErrPayloadTooLarge for bad
//     arguments, ErrNotConnected while the broker is down, otherwise a
//     wrapped ErrPublishFailed
//
// Example:
//
//	topic := mqtt.Topics{}.BridgeCommand("zwave", "node-7")
//	err := client.Publish(topic, payload, 1, false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validatePublish(topic, payload, qos); err != nil {
		return err
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %s: timeout after %v", ErrPublishFailed, topic, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

// PublishDeviceState publishes a device's current value as a retained
// message on graylogic/hub/device/{id}/state at the configured QoS, so
// dashboards that subscribe later see it at once.
func (c *Client) PublishDeviceState(deviceID int64, payload []byte) error {
	return c.Publish(Topics{}.DeviceState(deviceID), payload, byte(c.cfg.QoS), true)
}

func validatePublish(topic string, payload []byte, qos byte) error {
	if topic == "" || strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(payload), maxPayloadSize)
	}
	return nil
}
