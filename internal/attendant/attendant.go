package attendant

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cast"

	"github.com/Njogu-Ndegwa/swapstation/internal/arbiter"
	"github.com/Njogu-Ndegwa/swapstation/internal/broker"
	"github.com/Njogu-Ndegwa/swapstation/internal/energy"
	"github.com/Njogu-Ndegwa/swapstation/internal/infrastructure/mqtt"
	"github.com/Njogu-Ndegwa/swapstation/internal/transport"
)

// Actions and their response topics.
const (
	ActionIdentifyCustomer      = "identify_customer"
	ActionValidatePayment       = "validate_payment"
	ActionValidatePaymentStatus = "validate_payment_status"
	ActionSwapComplete          = "swap_complete"
)

// Operation keys, also used as correlation id prefixes.
const (
	KeyIdentifyCustomer = "customer-identify"
	KeyValidatePayment  = "validate-payment"

	prefixIdentify = "att-id"
	prefixPayment  = "att-pay"
)

// Payment signals accepted as a successful validation.
const (
	SignalPaymentGood             = "PAYMENT_STATUS_GOOD"
	SignalPaymentAlreadyValidated = "PAYMENT_ALREADY_VALIDATED"
)

// Logger defines the logging interface used by the Service.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Caller is the part of the broker the Service uses.
type Caller interface {
	Call(ctx context.Context, req broker.Request) (*broker.Response, error)
	Emit(ctx context.Context, topic string, payload []byte) error
}

// Config identifies the kiosk on the bus.
type Config struct {
	Domain string
	Role   string
	Actor  broker.Actor

	// Timeout overrides the broker default per call when positive.
	Timeout time.Duration
}

// Customer is an identified customer.
type Customer struct {
	ID      string
	Name    string
	PlanID  string
	Signals []string
	Data    map[string]any
}

// PaymentRequest describes a payment to validate.
type PaymentRequest struct {
	CustomerID string
	Reference  string
	Amount     float64
	Currency   string
}

// Payment is a validated payment.
type Payment struct {
	Reference        string
	AlreadyValidated bool
	Signals          []string
	Data             map[string]any
}

// SwapReport summarises a completed swap.
type SwapReport struct {
	CustomerID      string
	PaymentRef      string
	IncomingMAC     string
	IncomingReading *energy.Reading
	OutgoingMAC     string
	OutgoingReading *energy.Reading
}

// Service runs attendant operations.
type Service struct {
	caller  Caller
	arbiter *arbiter.Arbiter
	subs    Subscriber
	cfg     Config
	topics  mqtt.Topics

	mu           sync.RWMutex
	onIdentified func(Customer)

	logger Logger
}

// Subscriber subscribes the watcher to its topic.
type Subscriber interface {
	Subscribe(topic string, qos byte) error
}

// New creates a Service.
func New(caller Caller, arb *arbiter.Arbiter, subs Subscriber, cfg Config) *Service {
	return &Service{
		caller:  caller,
		arbiter: arb,
		subs:    subs,
		cfg:     cfg,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

// IdentifyCustomer resolves a customer's scanned code.
func (s *Service) IdentifyCustomer(ctx context.Context, planID, code string) (*Customer, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("%w: empty customer code", broker.ErrProtocol)
	}

	resp, err := s.caller.Call(ctx, broker.Request{
		Key:           KeyIdentifyCustomer,
		IDPrefix:      prefixIdentify,
		RequestTopic:  s.topics.Call(s.cfg.Domain, s.cfg.Role, planID, ActionIdentifyCustomer),
		ResponseTopic: s.topics.Echo(s.cfg.Domain, s.cfg.Role, planID, ActionIdentifyCustomer),
		Build:         s.builder(planID, ActionIdentifyCustomer, map[string]any{"qr_code": code}),
		Timeout:       s.cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("identifying customer: %w", err)
	}

	c := customerFrom(resp)
	s.logger.Info("customer identified", "plan_id", planID, "customer_id", c.ID)
	return &c, nil
}

// ValidatePayment confirms a payment with the back office.
func (s *Service) ValidatePayment(ctx context.Context, planID string, req PaymentRequest) (*Payment, error) {
	if req.Reference == "" {
		return nil, fmt.Errorf("%w: payment reference required", broker.ErrProtocol)
	}

	responseTopic := s.topics.Echo(s.cfg.Domain, s.cfg.Role, planID, ActionValidatePaymentStatus)
	// Late duplicates of the status must never reach the identification watcher.
	unreserve := s.arbiter.Reserve(responseTopic, KeyValidatePayment)
	defer unreserve()

	fields := map[string]any{
		"customer_id": req.CustomerID,
		"reference":   req.Reference,
	}
	if req.Amount != 0 {
		fields["amount"] = req.Amount
	}
	if req.Currency != "" {
		fields["currency"] = req.Currency
	}

	resp, err := s.caller.Call(ctx, broker.Request{
		Key:             KeyValidatePayment,
		IDPrefix:        prefixPayment,
		RequestTopic:    s.topics.Call(s.cfg.Domain, s.cfg.Role, planID, ActionValidatePayment),
		ResponseTopic:   responseTopic,
		Build:           s.builder(planID, ActionValidatePayment, fields),
		RequiredSignals: []string{SignalPaymentGood, SignalPaymentAlreadyValidated},
		Timeout:         s.cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("validating payment %s: %w", req.Reference, err)
	}

	p := &Payment{
		Reference:        req.Reference,
		Signals:          resp.Signals(),
		AlreadyValidated: resp.HasAnySignal([]string{SignalPaymentAlreadyValidated}),
		Data:             resp.Data(),
	}
	s.logger.Info("payment validated",
		"plan_id", planID,
		"reference", req.Reference,
		"already_validated", p.AlreadyValidated,
	)
	return p, nil
}

// ReportSwapComplete publishes a one-way swap summary.
func (s *Service) ReportSwapComplete(ctx context.Context, planID string, r SwapReport) error {
	fields := map[string]any{
		"customer_id": r.CustomerID,
		"payment_ref": r.PaymentRef,
	}
	if r.IncomingMAC != "" {
		fields["incoming"] = batteryFields(r.IncomingMAC, r.IncomingReading)
	}
	if r.OutgoingMAC != "" {
		fields["outgoing"] = batteryFields(r.OutgoingMAC, r.OutgoingReading)
	}

	id := broker.NewCorrelationID("att-swap")
	payload, err := broker.NewEnvelope(planID, id, s.cfg.Actor, ActionSwapComplete, fields).Marshal()
	if err != nil {
		return err
	}
	topic := s.topics.Emit(s.cfg.Domain, s.cfg.Role, planID, ActionSwapComplete)
	if err := s.caller.Emit(ctx, topic, payload); err != nil {
		return fmt.Errorf("reporting swap: %w", err)
	}
	s.logger.Info("swap reported", "plan_id", planID, "customer_id", r.CustomerID)
	return nil
}

func batteryFields(mac string, r *energy.Reading) map[string]any {
	out := map[string]any{"mac": mac}
	if r != nil {
		out["battery_id"] = r.BatteryID
		out["energy_wh"] = r.EnergyWh
		out["full_capacity_wh"] = r.FullCapacityWh
		out["charge_percent"] = r.ChargePercent
	}
	return out
}

func (s *Service) builder(planID, action string, fields map[string]any) func(string) ([]byte, error) {
	return func(correlationID string) ([]byte, error) {
		return broker.NewEnvelope(planID, correlationID, s.cfg.Actor, action, fields).Marshal()
	}
}

// WatchIdentifications installs the identification watcher as the
// arbiter's default handler and subscribes to identification answers for
// every plan. fn receives each unsolicited identification.
func (s *Service) WatchIdentifications(qos byte, fn func(Customer)) error {
	s.mu.Lock()
	s.onIdentified = fn
	s.mu.Unlock()

	s.arbiter.SetDefault(s.handleUnsolicited)

	pattern := fmt.Sprintf("%s/%s/%s/plan/+/%s", mqtt.FamilyEcho, s.cfg.Domain, s.cfg.Role, ActionIdentifyCustomer)
	if err := s.subs.Subscribe(pattern, qos); err != nil {
		return fmt.Errorf("subscribing identification watcher: %w", err)
	}
	s.logger.Info("identification watcher installed", "pattern", pattern)
	return nil
}

// handleUnsolicited is the arbiter default handler. The arbiter only calls
// it when no operation owns the channel and acknowledges the message itself.
func (s *Service) handleUnsolicited(msg transport.Message) {
	if !strings.HasSuffix(msg.Topic, "/"+ActionIdentifyCustomer) {
		return
	}
	resp, err := broker.ParseResponse(msg.Topic, msg.Payload)
	if err != nil {
		s.logger.Debug("ignoring malformed identification", "topic", msg.Topic, "error", err)
		return
	}
	if ok, _ := resp.Success(); !ok {
		s.logger.Debug("ignoring failed identification", "topic", msg.Topic,
			"reason", resp.FailureMessage(broker.ReasonSuccessFalse))
		return
	}

	c := customerFrom(resp)
	if c.PlanID == "" {
		c.PlanID = planFromTopic(msg.Topic)
	}

	s.mu.RLock()
	fn := s.onIdentified
	s.mu.RUnlock()

	s.logger.Info("unsolicited customer identification", "plan_id", c.PlanID, "customer_id", c.ID)
	if fn != nil {
		fn(c)
	}
}

// customerFrom reads customer fields from data.customer, then data.
func customerFrom(resp *broker.Response) Customer {
	data := resp.Data()
	src := data
	if nested, ok := data["customer"].(map[string]any); ok {
		src = nested
	}
	return Customer{
		ID:      firstString(src, "customer_id", "customerId", "id"),
		Name:    firstString(src, "name", "customer_name", "full_name"),
		PlanID:  firstString(data, "plan_id", "planId"),
		Signals: resp.Signals(),
		Data:    data,
	}
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			if s := cast.ToString(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// planFromTopic extracts <planId> from .../plan/<planId>/<action>.
func planFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == "plan" {
			return parts[i+1]
		}
	}
	return ""
}
