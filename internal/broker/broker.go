package broker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Njogu-Ndegwa/swapstation/internal/arbiter"
	"github.com/Njogu-Ndegwa/swapstation/internal/transport"
)

// Default call settings.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultSettleDelay = 300 * time.Millisecond
	DefaultQoS         = 1
)

// Logger defines the logging interface used by the Broker.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Broker. Zero fields take the defaults.
type Options struct {
	QoS         byte
	Timeout     time.Duration
	SettleDelay time.Duration
	Retry       RetryPolicy
}

// DefaultOptions returns the standard call settings.
func DefaultOptions() Options {
	return Options{
		QoS:         DefaultQoS,
		Timeout:     DefaultTimeout,
		SettleDelay: DefaultSettleDelay,
		Retry:       DefaultRetryPolicy(),
	}
}

// Request describes one correlated call.
type Request struct {
	// Key is the logical operation class, e.g. "customer-identify".
	Key string

	// IDPrefix prefixes the generated correlation id. Defaults to Key.
	IDPrefix string

	RequestTopic string

	// ResponseTopic is an exact topic or a wildcard pattern.
	ResponseTopic string

	// Build renders the request payload with the correlation id embedded.
	Build func(correlationID string) ([]byte, error)

	// RequiredSignals, when set, must intersect the response's signals.
	RequiredSignals []string

	// Timeout overrides the broker default when positive.
	Timeout time.Duration
}

// Broker runs correlated request/response calls over a transport.
//
// All methods are safe for concurrent use.
type Broker struct {
	transport transport.Transport
	arbiter   *arbiter.Arbiter
	opts      Options

	pending   map[string]*Operation // by correlation id
	pendingMu sync.RWMutex
	closed    bool

	logger Logger
}

// New creates a broker. The arbiter must already occupy the transport's
// inbound slot.
func New(t transport.Transport, arb *arbiter.Arbiter, opts Options) *Broker {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.SettleDelay < 0 {
		opts.SettleDelay = def.SettleDelay
	}
	if opts.Retry.Attempts < 1 {
		opts.Retry.Attempts = def.Retry.Attempts
	}
	if opts.Retry.Delay < 0 {
		opts.Retry.Delay = def.Retry.Delay
	}
	if opts.QoS > 2 {
		opts.QoS = def.QoS
	}

	return &Broker{
		transport: t,
		arbiter:   arb,
		opts:      opts,
		pending:   make(map[string]*Operation),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the broker.
func (b *Broker) SetLogger(logger Logger) {
	b.logger = logger
}

// Call starts a correlated call and waits for it to settle.
func (b *Broker) Call(ctx context.Context, req Request) (*Response, error) {
	op := b.Start(ctx, req)
	<-op.Done()
	return op.Result()
}

// Start begins a correlated call without blocking. The returned Operation
// settles exactly once; cancelling ctx settles it with ErrCancelled.
func (b *Broker) Start(ctx context.Context, req Request) *Operation {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = b.opts.Timeout
	}
	prefix := req.IDPrefix
	if prefix == "" {
		prefix = req.Key
	}

	op := &Operation{
		broker:           b,
		req:              req,
		correlationID:    NewCorrelationID(prefix),
		retriesRemaining: b.opts.Retry.Attempts - 1,
		startedAt:        time.Now(),
		settledCh:        make(chan struct{}),
		cleanedCh:        make(chan struct{}),
	}

	if req.Build == nil || req.RequestTopic == "" || req.ResponseTopic == "" {
		op.settle(nil, fmt.Errorf("%w: %s: request topic, response topic and payload builder are required", ErrProtocol, req.Key))
		close(op.cleanedCh)
		return op
	}

	b.pendingMu.Lock()
	if b.closed {
		b.pendingMu.Unlock()
		op.settle(nil, ErrClosed)
		close(op.cleanedCh)
		return op
	}
	b.pending[op.correlationID] = op
	b.pendingMu.Unlock()

	// Claim before subscribing so an early response cannot slip past.
	op.claim = b.arbiter.Claim(req.Key, op.handle)

	op.mu.Lock()
	if !op.settled {
		op.timer = time.AfterFunc(timeout, func() {
			op.settle(nil, fmt.Errorf("%w: %s after %v", ErrTimeout, req.Key, timeout))
		})
	}
	op.mu.Unlock()

	b.logger.Debug("correlated call started",
		"key", req.Key,
		"correlation_id", op.correlationID,
		"request_topic", req.RequestTopic,
		"response_topic", req.ResponseTopic,
		"timeout", timeout,
	)

	go b.run(ctx, op)
	return op
}

// run drives the subscribe→publish sequence, waits for settlement and then
// performs the unsubscribe half of cleanup.
func (b *Broker) run(ctx context.Context, op *Operation) {
	defer close(op.cleanedCh)
	defer b.unsubscribe(op)

	if err := b.deliver(ctx, op); err != nil {
		op.settle(nil, err)
		return
	}

	select {
	case <-op.settledCh:
	case <-ctx.Done():
		op.settle(nil, fmt.Errorf("%w: %s: %w", ErrCancelled, op.req.Key, ctx.Err()))
	}
}

// errSettled aborts delivery when the call settled mid-sequence.
var errSettled = errors.New("settled")

// deliver subscribes and publishes, retrying connection-class failures.
// It returns nil once published or when the call settled on its own.
func (b *Broker) deliver(ctx context.Context, op *Operation) error {
	payload, err := op.req.Build(op.correlationID)
	if err != nil {
		return fmt.Errorf("%w: %s: building request: %w", ErrProtocol, op.req.Key, err)
	}

	policy := b.opts.Retry
	for attempt := 1; ; attempt++ {
		err := b.attempt(ctx, op, payload)
		switch {
		case err == nil, errors.Is(err, errSettled):
			return nil
		case ctx.Err() != nil:
			return fmt.Errorf("%w: %s: %w", ErrCancelled, op.req.Key, ctx.Err())
		case !IsTransient(err):
			return fmt.Errorf("%w: %s: %w", ErrTransport, op.req.Key, err)
		case attempt >= policy.Attempts:
			return fmt.Errorf("%w: %s: gave up after %d attempts: %w", ErrTransport, op.req.Key, attempt, err)
		}

		op.mu.Lock()
		op.retriesRemaining = policy.Attempts - attempt - 1
		op.mu.Unlock()

		b.logger.Warn("transport not connected, retrying call",
			"key", op.req.Key,
			"correlation_id", op.correlationID,
			"attempt", attempt,
			"max_attempts", policy.Attempts,
			"error", err,
		)

		if err := op.sleep(ctx, policy.Delay); err != nil {
			if errors.Is(err, errSettled) {
				return nil
			}
			return fmt.Errorf("%w: %s: %w", ErrCancelled, op.req.Key, err)
		}
	}
}

// attempt runs one subscribe→settle delay→publish pass.
func (b *Broker) attempt(ctx context.Context, op *Operation, payload []byte) error {
	if op.isSettled() {
		return errSettled
	}
	if err := b.transport.Subscribe(op.req.ResponseTopic, b.opts.QoS); err != nil {
		return fmt.Errorf("subscribe %s: %w", op.req.ResponseTopic, err)
	}
	op.subscribed = true

	if err := op.sleep(ctx, b.opts.SettleDelay); err != nil {
		return err
	}

	if err := b.transport.Publish(op.req.RequestTopic, b.opts.QoS, payload); err != nil {
		return fmt.Errorf("publish %s: %w", op.req.RequestTopic, err)
	}

	b.logger.Debug("request published",
		"key", op.req.Key,
		"correlation_id", op.correlationID,
		"topic", op.req.RequestTopic,
	)
	return nil
}

// unsubscribe is the best-effort tail of cleanup; failures are logged only.
func (b *Broker) unsubscribe(op *Operation) {
	if !op.subscribed {
		return
	}
	if b.stillNeeded(op) {
		return
	}
	if err := b.transport.Unsubscribe(op.req.ResponseTopic, b.opts.QoS); err != nil {
		b.logger.Warn("unsubscribe failed after call settled",
			"key", op.req.Key,
			"topic", op.req.ResponseTopic,
			"error", err,
		)
	}
}

// stillNeeded reports whether another pending call relies on the same
// response subscription, in which case it must not be torn down.
func (b *Broker) stillNeeded(op *Operation) bool {
	b.pendingMu.RLock()
	defer b.pendingMu.RUnlock()
	for _, other := range b.pending {
		if other != op && other.req.ResponseTopic == op.req.ResponseTopic {
			return true
		}
	}
	return false
}

// forget removes a settled call from the registry.
func (b *Broker) forget(op *Operation) {
	b.pendingMu.Lock()
	if b.pending[op.correlationID] == op {
		delete(b.pending, op.correlationID)
	}
	b.pendingMu.Unlock()
}

// CompatibleOperations returns the correlation ids of pending calls that a
// response id would match. More than one entry means the response is
// ambiguous.
func (b *Broker) CompatibleOperations(responseID string) []string {
	b.pendingMu.RLock()
	defer b.pendingMu.RUnlock()

	var ids []string
	for id := range b.pending {
		if CorrelationIDsCompatible(id, responseID) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Emit publishes a one-way notification, retrying connection-class
// failures with the broker's retry policy.
func (b *Broker) Emit(ctx context.Context, topic string, payload []byte) error {
	policy := b.opts.Retry
	for attempt := 1; ; attempt++ {
		err := b.transport.Publish(topic, b.opts.QoS, payload)
		switch {
		case err == nil:
			b.logger.Debug("notification published", "topic", topic)
			return nil
		case !IsTransient(err):
			return fmt.Errorf("%w: publish %s: %w", ErrTransport, topic, err)
		case attempt >= policy.Attempts:
			return fmt.Errorf("%w: publish %s: gave up after %d attempts: %w", ErrTransport, topic, attempt, err)
		}

		b.logger.Warn("transport not connected, retrying publish",
			"topic", topic,
			"attempt", attempt,
			"max_attempts", policy.Attempts,
			"error", err,
		)

		t := time.NewTimer(policy.Delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%w: publish %s: %w", ErrCancelled, topic, ctx.Err())
		}
	}
}

// PendingInfo describes an in-flight call.
type PendingInfo struct {
	Key              string
	CorrelationID    string
	RequestTopic     string
	ResponseTopic    string
	RetriesRemaining int
	Age              time.Duration
}

// Pending lists in-flight calls, oldest first.
func (b *Broker) Pending() []PendingInfo {
	b.pendingMu.RLock()
	ops := make([]*Operation, 0, len(b.pending))
	for _, op := range b.pending {
		ops = append(ops, op)
	}
	b.pendingMu.RUnlock()

	infos := make([]PendingInfo, 0, len(ops))
	for _, op := range ops {
		op.mu.Lock()
		infos = append(infos, PendingInfo{
			Key:              op.req.Key,
			CorrelationID:    op.correlationID,
			RequestTopic:     op.req.RequestTopic,
			ResponseTopic:    op.req.ResponseTopic,
			RetriesRemaining: op.retriesRemaining,
			Age:              time.Since(op.startedAt),
		})
		op.mu.Unlock()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Age > infos[j].Age })
	return infos
}

// Close cancels every pending call and rejects new ones.
func (b *Broker) Close() {
	b.pendingMu.Lock()
	b.closed = true
	ops := make([]*Operation, 0, len(b.pending))
	for _, op := range b.pending {
		ops = append(ops, op)
	}
	b.pendingMu.Unlock()

	for _, op := range ops {
		op.settle(nil, fmt.Errorf("%w: %s: %w", ErrCancelled, op.req.Key, ErrClosed))
	}
}

// Operation is one in-flight correlated call.
type Operation struct {
	broker        *Broker
	req           Request
	correlationID string
	startedAt     time.Time

	claim *arbiter.Claim

	// subscribed is only touched by the run goroutine.
	subscribed bool

	mu               sync.Mutex
	settled          bool
	retriesRemaining int
	timer            *time.Timer
	resp             *Response
	err              error

	settledCh chan struct{}
	cleanedCh chan struct{}
}

// CorrelationID returns the id embedded in the request.
func (op *Operation) CorrelationID() string {
	return op.correlationID
}

// Key returns the operation class.
func (op *Operation) Key() string {
	return op.req.Key
}

// Done is closed when the call has settled.
func (op *Operation) Done() <-chan struct{} {
	return op.settledCh
}

// Cleaned is closed once cleanup, including the unsubscribe, has finished.
func (op *Operation) Cleaned() <-chan struct{} {
	return op.cleanedCh
}

// Result returns the outcome. It is only meaningful after Done is closed.
func (op *Operation) Result() (*Response, error) {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.resp, op.err
}

// Cancel settles the call with ErrCancelled unless it already settled.
// It reports whether this call caused the settlement.
func (op *Operation) Cancel() bool {
	return op.settle(nil, fmt.Errorf("%w: %s", ErrCancelled, op.req.Key))
}

func (op *Operation) isSettled() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.settled
}

// settle records the terminal outcome. Only the first call has any effect;
// it stops the timer, drops the registry entry and releases the claim.
func (op *Operation) settle(resp *Response, err error) bool {
	op.mu.Lock()
	if op.settled {
		op.mu.Unlock()
		return false
	}
	op.settled = true
	op.resp = resp
	op.err = err
	if op.timer != nil {
		op.timer.Stop()
	}
	op.mu.Unlock()

	b := op.broker
	b.forget(op)
	if op.claim != nil {
		op.claim.Release()
	}
	close(op.settledCh)

	if err != nil {
		b.logger.Info("correlated call rejected",
			"key", op.req.Key,
			"correlation_id", op.correlationID,
			"elapsed", time.Since(op.startedAt),
			"error", err,
		)
	} else {
		b.logger.Info("correlated call resolved",
			"key", op.req.Key,
			"correlation_id", op.correlationID,
			"elapsed", time.Since(op.startedAt),
		)
	}
	return true
}

// sleep waits d unless the call settles or ctx ends first.
func (op *Operation) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if op.isSettled() {
			return errSettled
		}
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-op.settledCh:
		return errSettled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handle is the operation's arbiter claim handler. It returns true when the
// message belongs to this call.
func (op *Operation) handle(msg transport.Message) bool {
	if op.isSettled() {
		return false
	}
	if !TopicMatches(op.req.ResponseTopic, msg.Topic) {
		return false
	}

	b := op.broker
	resp, err := ParseResponse(msg.Topic, msg.Payload)
	if err != nil {
		if IsWildcard(op.req.ResponseTopic) {
			b.logger.Debug("ignoring unparseable message on shared topic",
				"key", op.req.Key,
				"topic", msg.Topic,
			)
			return false
		}
		op.settle(nil, err)
		return true
	}

	responseID := resp.CorrelationID()
	if !CorrelationIDsCompatible(op.correlationID, responseID) {
		b.logger.Debug("ignoring response for another call",
			"key", op.req.Key,
			"correlation_id", op.correlationID,
			"response_correlation_id", responseID,
			"topic", msg.Topic,
		)
		return false
	}
	if matches := b.CompatibleOperations(responseID); len(matches) > 1 {
		b.logger.Warn("response correlation id matches several pending calls",
			"response_correlation_id", responseID,
			"candidates", matches,
			"chosen", op.correlationID,
		)
	}

	if ok, reason := resp.evaluate(op.req.RequiredSignals); !ok {
		op.settle(nil, &ValidationError{Key: op.req.Key, Reason: reason, Response: resp})
		return true
	}
	op.settle(resp, nil)
	return true
}
