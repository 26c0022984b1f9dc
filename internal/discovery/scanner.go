package discovery

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Njogu-Ndegwa/swapstation/internal/radio"
)

// DefaultNamePrefix is the advertised-name prefix of swap-station packs.
const DefaultNamePrefix = "OVES"

// Logger defines the logging interface used by the package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// ScanControl is the part of the radio the Scanner drives.
type ScanControl interface {
	StartScan() error
	StopScan() error
}

// Device is a discovered pack.
type Device struct {
	MAC      string
	Name     string
	RSSI     string // display form, e.g. "-61 dBm"
	RawRSSI  int
	LastSeen time.Time
	Seq      uint64 // advertisement order, increasing
}

// Scanner accumulates advertisements into a device list.
//
// All methods are safe for concurrent use.
type Scanner struct {
	radio  ScanControl
	prefix string

	mu       sync.RWMutex
	devices  map[string]*Device
	scanning bool
	seq      uint64

	logger Logger
}

// NewScanner creates a Scanner keeping only devices whose name starts with
// prefix (case-insensitive). An empty prefix uses DefaultNamePrefix.
func NewScanner(r ScanControl, prefix string) *Scanner {
	if prefix == "" {
		prefix = DefaultNamePrefix
	}
	return &Scanner{
		radio:   r,
		prefix:  strings.ToUpper(prefix),
		devices: make(map[string]*Device),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the scanner.
func (s *Scanner) SetLogger(logger Logger) {
	s.logger = logger
}

// Start begins scanning. Previously discovered devices are kept.
func (s *Scanner) Start() error {
	s.mu.Lock()
	if s.scanning {
		s.mu.Unlock()
		return nil
	}
	s.scanning = true
	s.mu.Unlock()

	if err := s.radio.StartScan(); err != nil {
		s.mu.Lock()
		s.scanning = false
		s.mu.Unlock()
		return fmt.Errorf("starting scan: %w", err)
	}
	s.logger.Debug("scan started", "known_devices", s.Len())
	return nil
}

// Stop ends scanning. The device list is kept.
func (s *Scanner) Stop() error {
	s.mu.Lock()
	if !s.scanning {
		s.mu.Unlock()
		return nil
	}
	s.scanning = false
	s.mu.Unlock()

	if err := s.radio.StopScan(); err != nil {
		return fmt.Errorf("stopping scan: %w", err)
	}
	s.logger.Debug("scan stopped", "known_devices", s.Len())
	return nil
}

// Scanning reports whether a scan is active.
func (s *Scanner) Scanning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanning
}

// Reset clears the device list. It is the only way devices are forgotten.
func (s *Scanner) Reset() {
	s.mu.Lock()
	s.devices = make(map[string]*Device)
	s.mu.Unlock()
	s.logger.Info("device list cleared")
}

// HandleAdvertisement merges a scan result into the device list. Results
// whose name lacks the prefix are dropped. It is meant to be installed as
// the radio's DeviceFound callback.
func (s *Scanner) HandleAdvertisement(adv radio.Advertisement) {
	if !strings.HasPrefix(strings.ToUpper(adv.Name), s.prefix) {
		return
	}
	mac := strings.ToUpper(strings.TrimSpace(adv.MAC))
	if mac == "" {
		return
	}

	s.mu.Lock()
	s.seq++
	d, known := s.devices[mac]
	if !known {
		d = &Device{MAC: mac}
		s.devices[mac] = d
	}
	d.Name = adv.Name
	d.RawRSSI = adv.RSSI
	d.RSSI = fmt.Sprintf("%d dBm", adv.RSSI)
	d.LastSeen = time.Now()
	d.Seq = s.seq
	s.mu.Unlock()

	if !known {
		s.logger.Debug("device discovered", "mac", mac, "name", adv.Name, "rssi", adv.RSSI)
	}
}

// Devices returns a copy of the device list, strongest signal first. Ties
// go to the most recently seen device.
func (s *Scanner) Devices() []Device {
	s.mu.RLock()
	out := make([]Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, *d)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].RawRSSI != out[j].RawRSSI {
			return out[i].RawRSSI > out[j].RawRSSI
		}
		return out[i].Seq > out[j].Seq
	})
	return out
}

// Len returns the number of known devices.
func (s *Scanner) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.devices)
}

// Find returns the strongest device whose name carries the fingerprint of
// code.
func (s *Scanner) Find(code string) (Device, bool) {
	for _, d := range s.Devices() {
		if MatchesDevice(code, d.Name) {
			return d, true
		}
	}
	return Device{}, false
}
