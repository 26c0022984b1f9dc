// Package transport defines the pub/sub surface the station core consumes.
//
// The broker this code talks to only offers fire-and-forget publish and
// subscribe, plus a single replaceable inbound-message handler per slot name.
// Higher layers (arbiter, broker) build request/response semantics on top.
package transport

import "sync"

// InboundSlot is the name of the slot that receives every inbound message.
const InboundSlot = "message-arrived"

// Message is one inbound pub/sub message.
//
// Ack must be called exactly once per message, by whichever consumer ends up
// responsible for it. Deferring a message still requires acknowledging it,
// otherwise the transport treats it as undelivered.
type Message struct {
	Topic   string
	Payload []byte

	ack *ackOnce
}

type ackOnce struct {
	once sync.Once
	fn   func()
}

// NewMessage creates a message whose Ack invokes ack at most once.
// ack may be nil for transports without delivery acknowledgements.
func NewMessage(topic string, payload []byte, ack func()) Message {
	return Message{
		Topic:   topic,
		Payload: payload,
		ack:     &ackOnce{fn: ack},
	}
}

// Ack acknowledges receipt. Repeated calls are no-ops.
func (m Message) Ack() {
	if m.ack == nil {
		return
	}
	m.ack.once.Do(func() {
		if m.ack.fn != nil {
			m.ack.fn()
		}
	})
}

// InboundHandler receives inbound messages from a slot.
type InboundHandler func(msg Message)

// Transport is the pub/sub bridge.
//
// Subscribe, Publish and Unsubscribe return nil on a successful broker
// acknowledgement. Connection-class failures wrap an error whose text
// contains "not connected" or "disconnected".
//
// RegisterInboundHandler replaces whatever handler previously occupied the
// named slot; only the most recent registration receives messages.
type Transport interface {
	Subscribe(topic string, qos byte) error
	Publish(topic string, qos byte, payload []byte) error
	Unsubscribe(topic string, qos byte) error
	RegisterInboundHandler(name string, handler InboundHandler)
}
