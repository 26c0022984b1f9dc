package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Njogu-Ndegwa/swapstation/internal/infrastructure/config"
	"github.com/Njogu-Ndegwa/swapstation/internal/transport"
)

// Client wraps paho.mqtt.golang as the station's transport bridge.
//
// Every subscription delivers into the same inbound slot
// (transport.InboundSlot). Registering a handler for a slot replaces the
// previous one; messages that arrive while a slot is empty are acknowledged
// and dropped.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Subscriptions are automatically restored on reconnection.
type Client struct {
	client  pahomqtt.Client
	options *pahomqtt.ClientOptions
	cfg     config.MQTTConfig

	// subscriptions tracks active topics and their QoS for re-subscription on reconnect.
	subscriptions map[string]byte
	subMu         sync.RWMutex

	// slots holds the single inbound handler per slot name.
	slots  map[string]transport.InboundHandler
	slotMu sync.RWMutex

	// connected tracks current connection state.
	connected bool
	connMu    sync.RWMutex

	// Callbacks for connection events (optional, set via SetOnConnect/SetOnDisconnect).
	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	// logger for error/panic logging (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

var _ transport.Transport = (*Client)(nil)

// Connect establishes a connection to the MQTT broker.
//
// It performs the following setup:
//  1. Builds connection options from config (broker URL, auth, TLS)
//  2. Configures Last Will and Testament (LWT) for offline detection
//  3. Sets up auto-reconnect with exponential backoff
//  4. Disables automatic acknowledgement so inbound consumers ack explicitly
//  5. Attempts initial connection with timeout
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: If initial connection fails within timeout
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := newClient(cfg)

	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnectHandler callback runs asynchronously and may not have
	// executed yet, so set the state here for IsConnected().
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	return c, nil
}

// newClient builds an unconnected client with all callbacks wired.
func newClient(cfg config.MQTTConfig) *Client {
	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID)

	c := &Client{
		cfg:           cfg,
		options:       opts,
		subscriptions: make(map[string]byte),
		slots:         make(map[string]transport.InboundHandler),
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})
	opts.SetDefaultPublishHandler(func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.deliver(msg.Topic(), msg.Payload(), msg.Ack)
	})

	c.client = pahomqtt.NewClient(opts)
	return c
}

// handleConnect is called when the connection is established.
func (c *Client) handleConnect() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	c.restoreSubscriptions()
	c.publishOnlineStatus()

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

// handleDisconnect is called when the connection is lost.
func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// restoreSubscriptions re-subscribes to all tracked topics after reconnect.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for topic, qos := range c.subscriptions {
		// Errors during reconnection are ignored; the next reconnect retries.
		c.client.Subscribe(topic, qos, c.pahoHandler)
	}
}

// publishOnlineStatus publishes the kiosk's online status.
func (c *Client) publishOnlineStatus() {
	topic := Topics{}.StationStatus(c.cfg.Broker.ClientID)
	payload := buildOnlinePayload(c.cfg.Broker.ClientID)
	c.client.Publish(topic, byte(c.cfg.QoS), true, payload)
}

// Close gracefully disconnects from the MQTT broker.
//
// It publishes a graceful offline status (different from the LWT crash
// status), waits for pending operations, then disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		topic := Topics{}.StationStatus(c.cfg.Broker.ClientID)
		payload := buildOfflinePayload(c.cfg.Broker.ClientID)
		token := c.client.Publish(topic, byte(c.cfg.QoS), true, payload)
		token.WaitTimeout(defaultPublishTimeout)
	}

	c.client.Disconnect(defaultDisconnectQuiesce)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	return nil
}

// HealthCheck verifies the MQTT connection is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

// SetOnConnect sets a callback to be invoked when connection is established.
// This is called on initial connect and on every reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback to be invoked when connection is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for error and panic logging.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// RegisterInboundHandler installs handler as the sole consumer of the named
// slot, replacing any previous registration. A nil handler empties the slot.
func (c *Client) RegisterInboundHandler(name string, handler transport.InboundHandler) {
	c.slotMu.Lock()
	defer c.slotMu.Unlock()
	if handler == nil {
		delete(c.slots, name)
		return
	}
	c.slots[name] = handler
}

func (c *Client) pahoHandler(_ pahomqtt.Client, msg pahomqtt.Message) {
	c.deliver(msg.Topic(), msg.Payload(), msg.Ack)
}

// deliver hands an inbound message to the inbound slot with panic recovery.
// The message is acknowledged even if the handler panics or the slot is empty.
func (c *Client) deliver(topic string, payload []byte, ack func()) {
	msg := transport.NewMessage(topic, payload, ack)
	defer msg.Ack()

	c.slotMu.RLock()
	handler := c.slots[transport.InboundSlot]
	c.slotMu.RUnlock()

	if handler == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Error("MQTT inbound handler panic recovered",
					"topic", topic,
					"panic", r,
				)
			}
		}
	}()

	handler(msg)
}
