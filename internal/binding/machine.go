package binding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/Njogu-Ndegwa/swapstation/internal/discovery"
	"github.com/Njogu-Ndegwa/swapstation/internal/energy"
	"github.com/Njogu-Ndegwa/swapstation/internal/radio"
)

// Logger defines the logging interface used by the Machine.
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

// Machine runs one binding session at a time.
//
// All methods are safe for concurrent use. Radio I/O is never issued while
// the internal lock is held.
type Machine struct {
	radio   radio.Radio
	scanner *discovery.Scanner
	matcher *discovery.Matcher
	opts    Options
	sink    ReadingSink

	mu      sync.Mutex
	session *session

	logger Logger
}

type session struct {
	id        string
	code      string
	state     State
	device    discovery.Device
	attempt   *Attempt
	linkLost  bool
	startedAt time.Time

	globalTimer *time.Timer
	retryTimer  *time.Timer
	stopMatch   context.CancelFunc

	done   chan Result
	result Result
}

// New creates a Machine. Zero option fields take the defaults.
func New(r radio.Radio, scanner *discovery.Scanner, opts Options) *Machine {
	def := DefaultOptions()
	if opts.ConnectRetries < 0 {
		opts.ConnectRetries = def.ConnectRetries
	}
	if opts.ConnectBackoffUnit <= 0 {
		opts.ConnectBackoffUnit = def.ConnectBackoffUnit
	}
	if opts.ReadRetries < 0 {
		opts.ReadRetries = def.ReadRetries
	}
	if opts.ReadRetryDelay <= 0 {
		opts.ReadRetryDelay = def.ReadRetryDelay
	}
	if opts.GlobalTimeout <= 0 {
		opts.GlobalTimeout = def.GlobalTimeout
	}
	if opts.Service == "" {
		opts.Service = def.Service
	}

	return &Machine{
		radio:   r,
		scanner: scanner,
		matcher: discovery.NewMatcher(scanner, opts.MatchSchedule, opts.MatchAttempts),
		opts:    opts,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the machine and its matcher.
func (m *Machine) SetLogger(logger Logger) {
	m.logger = logger
	m.matcher.SetLogger(logger)
}

// SetSink installs a destination for successful readings.
func (m *Machine) SetSink(sink ReadingSink) {
	m.mu.Lock()
	m.sink = sink
	m.mu.Unlock()
}

// Matcher exposes the fingerprint matcher, e.g. to observe attempts.
func (m *Machine) Matcher() *discovery.Matcher {
	return m.matcher
}

// Handler returns the radio callbacks that drive the machine. Scan results
// are forwarded to the scanner.
func (m *Machine) Handler() radio.Handler {
	return radio.Handler{
		DeviceFound:         m.scanner.HandleAdvertisement,
		ConnectSuccess:      m.onConnectSuccess,
		ConnectFail:         m.onConnectFail,
		Disconnected:        m.onDisconnected,
		ServiceDataProgress: m.onServiceDataProgress,
		ServiceDataComplete: m.onServiceDataComplete,
		ServiceDataFailure:  m.onServiceDataFailure,
	}
}

// Bind runs a session for a scanned code and waits for its outcome. The
// returned error equals Result.Err.
//
// Cancelling ctx cancels the session unless the connection is already
// confirmed, in which case Bind keeps waiting for the read to finish.
func (m *Machine) Bind(ctx context.Context, code string) (Result, error) {
	s, err := m.start(code)
	if err != nil {
		return Result{State: StateIdle, Err: err}, err
	}

	select {
	case res := <-s.done:
		return res, res.Err
	case <-ctx.Done():
	}

	if err := m.cancel(s); errors.Is(err, ErrCancelRejected) {
		m.logger.Info("context cancelled during confirmed connection, waiting", "session", s.id)
	}
	res := <-s.done
	return res, res.Err
}

func (m *Machine) start(code string) (*session, error) {
	matchCtx, stopMatch := context.WithCancel(context.Background())

	m.mu.Lock()
	if m.session != nil && !m.session.state.Terminal() {
		m.mu.Unlock()
		stopMatch()
		return nil, ErrBusy
	}
	s := &session{
		id:        ulid.Make().String(),
		code:      code,
		state:     StateMatching,
		startedAt: time.Now(),
		stopMatch: stopMatch,
		done:      make(chan Result, 1),
	}
	s.globalTimer = time.AfterFunc(m.opts.GlobalTimeout, func() { m.expire(s) })
	m.session = s
	m.mu.Unlock()

	m.logger.Info("binding session started",
		"session", s.id,
		"fingerprint", discovery.Fingerprint(code),
		"global_timeout", m.opts.GlobalTimeout,
	)

	go m.match(matchCtx, s)
	return s, nil
}

// match resolves the code and issues the first connect.
func (m *Machine) match(ctx context.Context, s *session) {
	device, err := m.matcher.Match(ctx, s.code)

	m.mu.Lock()
	if s.state.Terminal() {
		m.mu.Unlock()
		return
	}
	if err != nil {
		m.mu.Unlock()
		m.finish(s, StateFailed, nil, err)
		return
	}
	s.device = device
	s.state = StateConnecting
	s.attempt = &Attempt{MAC: device.MAC, Phase: PhaseConnecting}
	m.mu.Unlock()

	m.logger.Info("connecting to battery", "session", s.id, "mac", device.MAC, "name", device.Name)
	m.connect(s, device.MAC)
}

func (m *Machine) connect(s *session, mac string) {
	if err := m.radio.Connect(mac); err != nil {
		m.onConnectFail(mac, err)
	}
}

func (m *Machine) requestRead(s *session, mac string) {
	m.logger.Debug("requesting telemetry", "session", s.id, "mac", mac, "service", m.opts.Service)
	if err := m.radio.RequestNamedService(m.opts.Service, mac); err != nil {
		m.onServiceDataFailure(mac, m.opts.Service, err)
	}
}

// active returns the live session whose attempt targets mac. Must be called
// with m.mu held.
func (m *Machine) active(mac string) *session {
	s := m.session
	if s == nil || s.state.Terminal() || s.attempt == nil || s.attempt.MAC != mac {
		return nil
	}
	return s
}

func (m *Machine) stale(callback, mac string, args ...any) {
	m.logger.Warn("stale radio callback ignored",
		append([]any{"callback", callback, "mac", mac}, args...)...,
	)
}

func (m *Machine) onConnectSuccess(mac string) {
	m.mu.Lock()
	s := m.active(mac)
	if s == nil {
		unwanted := m.session != nil && m.session.device.MAC == mac
		m.mu.Unlock()
		m.stale("connect-success", mac)
		// A link that came up after the session ended is not wanted.
		if unwanted {
			m.disconnect(mac)
		}
		return
	}
	if s.attempt.ConnectionConfirmed {
		m.mu.Unlock()
		m.stale("connect-success", mac, "reason", "duplicate")
		return
	}
	s.attempt.ConnectionConfirmed = true
	s.attempt.Phase = PhaseReading
	s.state = StateReading
	stopTimer(s.retryTimer)
	m.mu.Unlock()

	m.logger.Info("battery connection confirmed", "session", s.id, "mac", mac)
	m.requestRead(s, mac)
}

func (m *Machine) onConnectFail(mac string, cause error) {
	m.mu.Lock()
	s := m.active(mac)
	if s == nil {
		m.mu.Unlock()
		m.stale("connect-fail", mac, "error", cause)
		return
	}
	if s.attempt.ConnectionConfirmed || s.state != StateConnecting {
		m.mu.Unlock()
		m.stale("connect-fail", mac, "reason", "connection already confirmed", "error", cause)
		return
	}
	if s.attempt.RetryCount >= m.opts.ConnectRetries {
		retries := s.attempt.RetryCount
		m.mu.Unlock()
		m.finish(s, StateFailed, nil,
			fmt.Errorf("%w: %s after %d retries: %w", ErrConnection, mac, retries, cause))
		return
	}

	s.attempt.RetryCount++
	retry := s.attempt.RetryCount
	delay := time.Duration(retry) * m.opts.ConnectBackoffUnit
	s.retryTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		live := m.active(mac) == s && !s.attempt.ConnectionConfirmed
		m.mu.Unlock()
		if live {
			m.connect(s, mac)
		}
	})
	m.mu.Unlock()

	m.logger.Warn("battery connect failed, retrying",
		"session", s.id,
		"mac", mac,
		"retry", retry,
		"max_retries", m.opts.ConnectRetries,
		"retry_in", delay,
		"error", cause,
	)
}

func (m *Machine) onDisconnected(mac string) {
	m.mu.Lock()
	s := m.active(mac)
	if s == nil || !s.attempt.ConnectionConfirmed {
		m.mu.Unlock()
		m.logger.Debug("disconnect notification outside a confirmed connection", "mac", mac)
		return
	}
	s.linkLost = true
	m.mu.Unlock()

	m.stale("disconnected", mac, "reason", "connection already confirmed")
}

func (m *Machine) onServiceDataProgress(mac, service string, p radio.Progress) {
	m.mu.Lock()
	s := m.active(mac)
	m.mu.Unlock()
	if s == nil {
		return
	}
	m.logger.Debug("telemetry progress", "session", s.id, "service", service, "read", p.Read, "total", p.Total)
}

func (m *Machine) onServiceDataComplete(mac, service string, data radio.Telemetry) {
	if service != m.opts.Service {
		m.logger.Debug("ignoring data for other service", "mac", mac, "service", service)
		return
	}

	m.mu.Lock()
	s := m.active(mac)
	if s == nil || s.state != StateReading {
		m.mu.Unlock()
		m.stale("service-data-complete", mac)
		return
	}

	fields := energy.FieldsFromTelemetry(data)
	reading, err := energy.Decode(fields)
	if err == nil {
		m.mu.Unlock()
		m.finish(s, StateSucceeded, &reading, nil)
		return
	}
	if fields.BatteryID == "" {
		m.mu.Unlock()
		m.finish(s, StateFailed, nil, fmt.Errorf("%w: telemetry carries no battery id: %w", ErrDataRead, err))
		return
	}
	m.retryRead(s, mac, err)
}

func (m *Machine) onServiceDataFailure(mac, service string, cause error) {
	m.mu.Lock()
	s := m.active(mac)
	if s == nil || s.state != StateReading {
		m.mu.Unlock()
		m.stale("service-data-failure", mac, "service", service, "error", cause)
		return
	}
	if radio.IsNotConnected(cause) {
		m.mu.Unlock()
		m.finish(s, StateRadioResetRequired, nil, fmt.Errorf("%w: %w", ErrRadioReset, cause))
		return
	}
	m.retryRead(s, mac, cause)
}

// retryRead re-requests telemetry while the link is up and the budget lasts.
// Must be called with m.mu held; it releases it.
func (m *Machine) retryRead(s *session, mac string, cause error) {
	if s.linkLost || s.attempt.ReadRetries >= m.opts.ReadRetries {
		retries := s.attempt.ReadRetries
		m.mu.Unlock()
		m.finish(s, StateFailed, nil, fmt.Errorf("%w: after %d re-reads: %w", ErrDataRead, retries, cause))
		return
	}

	s.attempt.ReadRetries++
	retry := s.attempt.ReadRetries
	s.retryTimer = time.AfterFunc(m.opts.ReadRetryDelay, func() {
		m.mu.Lock()
		live := m.active(mac) == s
		m.mu.Unlock()
		if live {
			m.requestRead(s, mac)
		}
	})
	m.mu.Unlock()

	m.logger.Warn("battery data incomplete, re-reading",
		"session", s.id,
		"mac", mac,
		"retry", retry,
		"max_retries", m.opts.ReadRetries,
		"error", cause,
	)
}

// Cancel ends the active session as Cancelled. Once the connection is
// confirmed it returns ErrCancelRejected and changes nothing.
func (m *Machine) Cancel() error {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s == nil {
		return ErrNoSession
	}
	return m.cancel(s)
}

func (m *Machine) cancel(s *session) error {
	m.mu.Lock()
	if m.session != s || s.state.Terminal() {
		m.mu.Unlock()
		return ErrNoSession
	}
	if s.attempt != nil && s.attempt.ConnectionConfirmed {
		m.mu.Unlock()
		m.logger.Info("cancel rejected, connection confirmed", "session", s.id)
		return ErrCancelRejected
	}
	m.mu.Unlock()

	m.finish(s, StateCancelled, nil, ErrCancelled)
	return nil
}

// expire is the global timer callback.
func (m *Machine) expire(s *session) {
	m.finish(s, StateRadioResetRequired, nil,
		fmt.Errorf("%w: no outcome within %v", ErrRadioReset, m.opts.GlobalTimeout))
}

// finish moves s into a terminal state. Only the first call has any effect.
// It stops timers and matching, disconnects best-effort and stops the scan;
// the device list is kept.
func (m *Machine) finish(s *session, state State, reading *energy.Reading, err error) {
	m.mu.Lock()
	if s.state.Terminal() {
		m.mu.Unlock()
		return
	}
	s.state = state
	stopTimer(s.globalTimer)
	stopTimer(s.retryTimer)
	s.stopMatch()

	mac := ""
	if s.attempt != nil {
		mac = s.attempt.MAC
	}
	s.attempt = nil
	s.result = Result{
		SessionID: s.id,
		State:     state,
		Device:    s.device,
		Reading:   reading,
		Err:       err,
		Duration:  time.Since(s.startedAt),
	}
	res := s.result
	sink := m.sink
	m.mu.Unlock()

	if mac != "" {
		m.disconnect(mac)
	}
	if serr := m.scanner.Stop(); serr != nil {
		m.logger.Warn("stopping scan failed", "session", s.id, "error", serr)
	}

	if reading != nil && sink != nil {
		sink.WriteBatteryReading(mac, *reading)
	}

	if err != nil {
		m.logger.Warn("binding session ended",
			"session", s.id,
			"state", state.String(),
			"mac", mac,
			"duration", res.Duration,
			"error", err,
		)
	} else {
		m.logger.Info("binding session ended",
			"session", s.id,
			"state", state.String(),
			"mac", mac,
			"duration", res.Duration,
			"energy_wh", reading.EnergyWh,
			"charge_percent", reading.ChargePercent,
		)
	}

	s.done <- res
}

func (m *Machine) disconnect(mac string) {
	if err := m.radio.Disconnect(mac); err != nil {
		m.logger.Debug("best-effort disconnect failed", "mac", mac, "error", err)
	}
}

// Status returns a snapshot of the current or last session.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.session
	if s == nil {
		return Status{State: StateIdle}
	}
	st := Status{SessionID: s.id, State: s.state, Device: s.device}
	if s.attempt != nil {
		a := *s.attempt
		st.Attempt = &a
	}
	return st
}

// Devices returns the scanner's accumulated device list.
func (m *Machine) Devices() []discovery.Device {
	return m.scanner.Devices()
}

// ResetDevices clears the device list. It is refused while a session runs.
func (m *Machine) ResetDevices() error {
	m.mu.Lock()
	busy := m.session != nil && !m.session.state.Terminal()
	m.mu.Unlock()
	if busy {
		return ErrBusy
	}
	m.scanner.Reset()
	return nil
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
