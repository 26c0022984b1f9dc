package mqtt

import (
	"fmt"
)

// Subscribe subscribes to a topic pattern and waits for the broker's SUBACK.
//
// Topics can include MQTT wildcards:
//   - + (single-level): "echo/+/kiosk/plan/P1/identify_customer"
//   - # (multi-level): "echo/#" matches every echo response
//
// Messages for the subscription are delivered to the inbound slot, never to a
// per-topic callback. Subscriptions are restored on reconnect.
//
// Returns:
//   - error: nil on success; ErrNotConnected (transient) when offline;
//     otherwise a wrapped ErrSubscribeFailed
func (c *Client) Subscribe(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	c.subscriptions[topic] = qos
	c.subMu.Unlock()

	token := c.client.Subscribe(topic, qos, c.pahoHandler)
	if !token.WaitTimeout(defaultPublishTimeout) {
		c.forget(topic)
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		c.forget(topic)
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	return nil
}

// Unsubscribe removes a subscription.
//
// Messages already in flight may still be delivered to the inbound slot.
// qos is accepted for symmetry with Subscribe; MQTT ignores it.
func (c *Client) Unsubscribe(topic string, _ byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.forget(topic)

	token := c.client.Unsubscribe(topic)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrUnsubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}

	return nil
}

func (c *Client) forget(topic string) {
	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()
}

// SubscriptionCount returns the number of active subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// HasSubscription checks if a subscription exists for the given topic.
//
// Note: This checks only the exact topic string, not pattern matching.
func (c *Client) HasSubscription(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, exists := c.subscriptions[topic]
	return exists
}
