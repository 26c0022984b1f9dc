package discovery

import (
	"context"
	"fmt"
	"time"
)

// DefaultMatchSchedule is the wait before each retry.
var DefaultMatchSchedule = []time.Duration{
	2 * time.Second,
	3 * time.Second,
	4 * time.Second,
	5 * time.Second,
}

// DefaultMatchAttempts is the total number of lookups, including the first.
const DefaultMatchAttempts = 5

// Matcher resolves a scanned code against a Scanner's device list.
type Matcher struct {
	scanner  *Scanner
	schedule []time.Duration
	attempts int

	// OnAttempt, when set, is called before every lookup with the 1-based
	// attempt number.
	OnAttempt func(attempt int)

	logger Logger
}

// NewMatcher creates a Matcher. An empty schedule or non-positive attempt
// count falls back to the defaults. When the schedule is shorter than the
// retries need, its last delay repeats.
func NewMatcher(scanner *Scanner, schedule []time.Duration, attempts int) *Matcher {
	if len(schedule) == 0 {
		schedule = DefaultMatchSchedule
	}
	if attempts < 1 {
		attempts = DefaultMatchAttempts
	}
	return &Matcher{
		scanner:  scanner,
		schedule: schedule,
		attempts: attempts,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the matcher.
func (m *Matcher) SetLogger(logger Logger) {
	m.logger = logger
}

// Match looks for code in the device list, starting a scan if needed. On a
// hit it stops scanning and returns the device. After the attempt budget it
// returns ErrDeviceNotFound; the device list is left intact either way.
func (m *Matcher) Match(ctx context.Context, code string) (Device, error) {
	fp := Fingerprint(code)
	if fp == "" {
		return Device{}, ErrInvalidCode
	}
	if err := m.scanner.Start(); err != nil {
		return Device{}, err
	}

	for attempt := 1; ; attempt++ {
		if m.OnAttempt != nil {
			m.OnAttempt(attempt)
		}

		if d, ok := m.scanner.Find(code); ok {
			if err := m.scanner.Stop(); err != nil {
				m.logger.Warn("stopping scan after match failed", "error", err)
			}
			m.logger.Info("fingerprint matched",
				"fingerprint", fp,
				"mac", d.MAC,
				"name", d.Name,
				"attempt", attempt,
			)
			return d, nil
		}

		if attempt >= m.attempts {
			m.logger.Info("fingerprint not found",
				"fingerprint", fp,
				"attempts", attempt,
				"known_devices", m.scanner.Len(),
			)
			return Device{}, fmt.Errorf("%w: fingerprint %s after %d attempts", ErrDeviceNotFound, fp, attempt)
		}

		delay := m.delay(attempt)
		m.logger.Debug("fingerprint not seen yet, retrying",
			"fingerprint", fp,
			"attempt", attempt,
			"retry_in", delay,
		)

		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return Device{}, ctx.Err()
		}
	}
}

// delay returns the wait after the given 1-based attempt.
func (m *Matcher) delay(attempt int) time.Duration {
	i := attempt - 1
	if i >= len(m.schedule) {
		i = len(m.schedule) - 1
	}
	return m.schedule[i]
}
