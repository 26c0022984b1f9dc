package mqtt

import (
	"fmt"
)

// Maximum payload size for MQTT messages (1MB).
// This prevents resource exhaustion and aligns with typical broker limits.
const maxPayloadSize = 1 << 20 // 1MB

// Publish sends a message to the specified MQTT topic and waits for the
// broker acknowledgement.
//
// Requests to the back office are never retained; use PublishRetained for
// status topics.
//
// Returns:
//   - error: nil on success; ErrNotConnected (transient) when offline;
//     otherwise a wrapped ErrPublishFailed
//
// Example:
//
//	topic := mqtt.Topics{}.Call("attendant", "kiosk", "P1", "identify_customer")
//	err := client.Publish(topic, 1, payload)
func (c *Client) Publish(topic string, qos byte, payload []byte) error {
	return c.publish(topic, qos, payload, false)
}

// PublishRetained publishes a retained message with the configured default QoS.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.publish(topic, byte(c.cfg.QoS), payload, true)
}

func (c *Client) publish(topic string, qos byte, payload []byte, retained bool) error {
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
