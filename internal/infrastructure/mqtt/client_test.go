package mqtt

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Njogu-Ndegwa/swapstation/internal/infrastructure/config"
	"github.com/Njogu-Ndegwa/swapstation/internal/transport"
)

// testConfig returns a valid MQTT configuration for testing.
// Only the integration tests need a broker at 127.0.0.1:1883.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "swapstation-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *recordingLogger) Warn(string, ...any) {}

// =============================================================================
// Inbound slot tests
// =============================================================================

func TestDeliver_LastRegistrationWins(t *testing.T) {
	c := newClient(testConfig())

	var first, second int
	c.RegisterInboundHandler(transport.InboundSlot, func(msg transport.Message) {
		first++
		msg.Ack()
	})
	c.RegisterInboundHandler(transport.InboundSlot, func(msg transport.Message) {
		second++
		msg.Ack()
	})

	c.deliver("echo/a", []byte(`{}`), func() {})

	if first != 0 || second != 1 {
		t.Errorf("handler calls = (%d, %d), want (0, 1)", first, second)
	}
}

func TestDeliver_AcksExactlyOnce(t *testing.T) {
	c := newClient(testConfig())

	// Handler acks twice; deliver acks again on return.
	c.RegisterInboundHandler(transport.InboundSlot, func(msg transport.Message) {
		msg.Ack()
		msg.Ack()
	})

	var acks int32
	c.deliver("echo/a", nil, func() { atomic.AddInt32(&acks, 1) })

	if got := atomic.LoadInt32(&acks); got != 1 {
		t.Errorf("ack count = %d, want 1", got)
	}
}

func TestDeliver_EmptySlotStillAcks(t *testing.T) {
	c := newClient(testConfig())

	var acks int32
	c.deliver("echo/a", nil, func() { atomic.AddInt32(&acks, 1) })

	if got := atomic.LoadInt32(&acks); got != 1 {
		t.Errorf("ack count = %d, want 1", got)
	}
}

func TestDeliver_NilHandlerEmptiesSlot(t *testing.T) {
	c := newClient(testConfig())

	var calls int
	c.RegisterInboundHandler(transport.InboundSlot, func(transport.Message) { calls++ })
	c.RegisterInboundHandler(transport.InboundSlot, nil)

	c.deliver("echo/a", nil, nil)

	if calls != 0 {
		t.Errorf("handler calls = %d, want 0 after clearing the slot", calls)
	}
}

func TestDeliver_PanicRecoveredAndAcked(t *testing.T) {
	c := newClient(testConfig())
	logger := &recordingLogger{}
	c.SetLogger(logger)

	c.RegisterInboundHandler(transport.InboundSlot, func(transport.Message) {
		panic("boom")
	})

	var acks int32
	c.deliver("echo/a", nil, func() { atomic.AddInt32(&acks, 1) })

	if got := atomic.LoadInt32(&acks); got != 1 {
		t.Errorf("ack count = %d, want 1", got)
	}
	if len(logger.errors) != 1 {
		t.Errorf("logged errors = %v, want one panic entry", logger.errors)
	}
}

// =============================================================================
// Validation and offline behaviour
// =============================================================================

func TestOperations_Disconnected(t *testing.T) {
	c := newClient(testConfig())

	if err := c.Publish("call/a/b/plan/P1/x", 1, []byte("{}")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
	if err := c.Subscribe("echo/#", 1); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
	if err := c.Unsubscribe("echo/#", 1); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() error = %v, want ErrNotConnected", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", c.SubscriptionCount())
	}
}

func TestOperations_InvalidInput(t *testing.T) {
	c := newClient(testConfig())

	if err := c.Publish("", 1, nil); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Publish(empty) error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Publish("x", 3, nil); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Publish(qos 3) error = %v, want ErrInvalidQoS", err)
	}
	if err := c.Subscribe("", 1); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty) error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Subscribe("x", 3); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 3) error = %v, want ErrInvalidQoS", err)
	}
	if err := c.Unsubscribe("", 1); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(empty) error = %v, want ErrInvalidTopic", err)
	}

	large := make([]byte, maxPayloadSize+1)
	if err := c.Publish("x", 1, large); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish(large) error = %v, want ErrPublishFailed", err)
	}
}

func TestHealthCheck_Disconnected(t *testing.T) {
	c := newClient(testConfig())

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v, want context.Canceled", err)
	}
}

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v, want nil", err)
	}
}

func TestConnectionCallbacks(t *testing.T) {
	c := newClient(testConfig())

	var lost error
	c.SetOnDisconnect(func(err error) { lost = err })
	c.handleDisconnect(errors.New("link down"))

	if lost == nil || lost.Error() != "link down" {
		t.Errorf("onDisconnect error = %v, want link down", lost)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after disconnect")
	}
}

// =============================================================================
// Topic builders
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"Call", topics.Call("attendant", "kiosk", "P1", "identify_customer"), "call/attendant/kiosk/plan/P1/identify_customer"},
		{"Emit", topics.Emit("attendant", "kiosk", "P1", "swap_complete"), "emit/attendant/kiosk/plan/P1/swap_complete"},
		{"Echo", topics.Echo("attendant", "kiosk", "P1", "validate_payment_status"), "echo/attendant/kiosk/plan/P1/validate_payment_status"},
		{"Return", topics.Return("attendant", "kiosk", "P1", "identify_customer"), "rtrn/attendant/kiosk/plan/P1/identify_customer"},
		{"StationStatus", topics.StationStatus("kiosk-01"), "emit/station/kiosk-01/status"},
		{"AllEcho", topics.AllEcho(), "echo/#"},
		{"AllReturn", topics.AllReturn(), "rtrn/#"},
		{"PlanEcho", topics.PlanEcho("P1"), "echo/+/+/plan/P1/#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Auth.Username = "kiosk"

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want ssl://127.0.0.1:1883", opts.Servers)
	}
	if !opts.AutoAckDisabled {
		t.Error("AutoAckDisabled = false, want manual acknowledgement")
	}
	if opts.Username != "kiosk" {
		t.Errorf("Username = %q, want kiosk", opts.Username)
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig = nil with TLS enabled")
	}
}
