package binding

import (
	"time"

	"github.com/Njogu-Ndegwa/swapstation/internal/discovery"
	"github.com/Njogu-Ndegwa/swapstation/internal/energy"
)

// State is a session state.
type State int

const (
	StateIdle State = iota
	StateMatching
	StateConnecting
	StateReading
	StateSucceeded
	StateFailed
	StateRadioResetRequired
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateMatching:
		return "matching"
	case StateConnecting:
		return "connecting"
	case StateReading:
		return "reading"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateRadioResetRequired:
		return "radio-reset-required"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether s ends a session.
func (s State) Terminal() bool {
	return s >= StateSucceeded
}

// Phase is the phase of a connection attempt.
type Phase int

const (
	PhaseConnecting Phase = iota
	PhaseReading
)

func (p Phase) String() string {
	if p == PhaseReading {
		return "reading"
	}
	return "connecting"
}

// Attempt is the connection attempt of a session.
type Attempt struct {
	MAC         string
	Phase       Phase
	RetryCount  int // connect retries issued
	ReadRetries int // telemetry re-requests issued

	// ConnectionConfirmed turns true on connect success and never back.
	ConnectionConfirmed bool
}

// Result is the outcome of a session.
type Result struct {
	SessionID string
	State     State
	Device    discovery.Device
	Reading   *energy.Reading
	Err       error
	Duration  time.Duration
}

// Status is a snapshot of the current or last session.
type Status struct {
	SessionID string
	State     State
	Device    discovery.Device
	Attempt   *Attempt
}

// ReadingSink receives every successful reading.
type ReadingSink interface {
	WriteBatteryReading(mac string, reading energy.Reading)
}

// Options tunes the state machine.
type Options struct {
	ConnectRetries     int
	ConnectBackoffUnit time.Duration
	ReadRetries        int
	ReadRetryDelay     time.Duration
	GlobalTimeout      time.Duration

	// Service is the named telemetry service to read.
	Service string

	MatchSchedule []time.Duration
	MatchAttempts int
}

// DefaultOptions returns the standard settings.
func DefaultOptions() Options {
	return Options{
		ConnectRetries:     3,
		ConnectBackoffUnit: time.Second,
		ReadRetries:        2,
		ReadRetryDelay:     1500 * time.Millisecond,
		GlobalTimeout:      90 * time.Second,
		Service:            "DTA",
		MatchSchedule:      discovery.DefaultMatchSchedule,
		MatchAttempts:      discovery.DefaultMatchAttempts,
	}
}
