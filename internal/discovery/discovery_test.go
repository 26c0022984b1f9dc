package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Njogu-Ndegwa/swapstation/internal/radio"
)

// fakeScanRadio counts scan commands.
type fakeScanRadio struct {
	mu       sync.Mutex
	starts   int
	stops    int
	startErr error
}

func (f *fakeScanRadio) StartScan() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return f.startErr
}

func (f *fakeScanRadio) StopScan() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeScanRadio) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

func TestFingerprint(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"QR-abc123XYZ987", "XYZ987"},
		{"OVES-xyz987", "XYZ987"},
		{"  oves-xyz987  ", "XYZ987"},
		{"ab12", "AB12"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Fingerprint(tt.in); got != tt.want {
			t.Errorf("Fingerprint(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMatchesDevice(t *testing.T) {
	tests := []struct {
		code string
		name string
		want bool
	}{
		{"QR-abc123XYZ987", "OVES-xyz987", true},
		{"qr-abc123xyz987", "OVES-XYZ987", true},
		{"QR-abc123XYZ987", "OVES-XYZ988", false},
		{"XYZ987", "OVES-XYZ987-2", false},
		{"", "OVES-XYZ987", false},
	}
	for _, tt := range tests {
		if got := MatchesDevice(tt.code, tt.name); got != tt.want {
			t.Errorf("MatchesDevice(%q, %q) = %v, want %v", tt.code, tt.name, got, tt.want)
		}
	}
}

func TestScanner_FiltersMergesAndSorts(t *testing.T) {
	s := NewScanner(&fakeScanRadio{}, "")

	s.HandleAdvertisement(radio.Advertisement{MAC: "aa:00:00:00:00:01", Name: "OVES-111111", RSSI: -80})
	s.HandleAdvertisement(radio.Advertisement{MAC: "AA:00:00:00:00:02", Name: "oves-222222", RSSI: -60})
	s.HandleAdvertisement(radio.Advertisement{MAC: "AA:00:00:00:00:03", Name: "Headphones", RSSI: -30})
	// Re-advertisement updates in place.
	s.HandleAdvertisement(radio.Advertisement{MAC: "AA:00:00:00:00:01", Name: "OVES-111111", RSSI: -50})

	devices := s.Devices()
	if len(devices) != 2 {
		t.Fatalf("Devices() = %d entries, want 2", len(devices))
	}
	if devices[0].MAC != "AA:00:00:00:00:01" || devices[0].RawRSSI != -50 {
		t.Errorf("strongest device = %+v, want AA:00:00:00:00:01 at -50", devices[0])
	}
	if devices[0].RSSI != "-50 dBm" {
		t.Errorf("RSSI display = %q, want -50 dBm", devices[0].RSSI)
	}
	if devices[0].Seq <= devices[1].Seq {
		t.Error("re-advertised device should carry the newest sequence number")
	}
}

func TestScanner_StartStopKeepDevices(t *testing.T) {
	r := &fakeScanRadio{}
	s := NewScanner(r, "OVES")

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	s.HandleAdvertisement(radio.Advertisement{MAC: "AA:00:00:00:00:01", Name: "OVES-111111", RSSI: -70})
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("restart error = %v", err)
	}

	starts, stops := r.counts()
	if starts != 2 || stops != 1 {
		t.Errorf("radio starts/stops = %d/%d, want 2/1", starts, stops)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d after restart, want 1", s.Len())
	}

	s.Reset()
	if s.Len() != 0 {
		t.Errorf("Len() = %d after Reset, want 0", s.Len())
	}
}

func TestScanner_StartFailure(t *testing.T) {
	s := NewScanner(&fakeScanRadio{startErr: radio.ErrDisabled}, "")
	if err := s.Start(); !errors.Is(err, radio.ErrDisabled) {
		t.Fatalf("Start() error = %v, want ErrDisabled", err)
	}
	if s.Scanning() {
		t.Error("Scanning() = true after failed start")
	}
}

func TestMatcher_MatchesOnLaterAttempt(t *testing.T) {
	r := &fakeScanRadio{}
	s := NewScanner(r, "")
	m := NewMatcher(s, []time.Duration{time.Millisecond}, 5)

	var attempts []int
	m.OnAttempt = func(n int) {
		attempts = append(attempts, n)
		if n == 3 {
			s.HandleAdvertisement(radio.Advertisement{MAC: "AA:00:00:00:00:09", Name: "OVES-xyz987", RSSI: -55})
		}
	}

	d, err := m.Match(context.Background(), "QR-abc123XYZ987")
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if d.MAC != "AA:00:00:00:00:09" {
		t.Errorf("matched %s, want AA:00:00:00:00:09", d.MAC)
	}
	if len(attempts) != 3 {
		t.Errorf("attempts = %v, want 3", attempts)
	}
	if s.Scanning() {
		t.Error("scan should stop after a match")
	}
	if _, stops := r.counts(); stops != 1 {
		t.Errorf("radio stops = %d, want 1", stops)
	}
}

func TestMatcher_GivesUpAfterFiveAttempts(t *testing.T) {
	s := NewScanner(&fakeScanRadio{}, "")
	s.HandleAdvertisement(radio.Advertisement{MAC: "AA:00:00:00:00:01", Name: "OVES-111111", RSSI: -70})
	m := NewMatcher(s, []time.Duration{time.Millisecond, 2 * time.Millisecond}, 5)

	var attempts int
	m.OnAttempt = func(int) { attempts++ }

	_, err := m.Match(context.Background(), "QR-abc123XYZ987")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("Match() error = %v, want ErrDeviceNotFound", err)
	}
	if attempts != 5 {
		t.Errorf("attempts = %d, want 5", attempts)
	}
	if s.Len() != 1 {
		t.Error("failed match must keep discovered devices")
	}
}

func TestMatcher_Delay(t *testing.T) {
	m := NewMatcher(NewScanner(&fakeScanRadio{}, ""), nil, 0)
	want := []time.Duration{2 * time.Second, 3 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := m.delay(i + 1); got != w {
			t.Errorf("delay(%d) = %v, want %v", i+1, got, w)
		}
	}
	if m.attempts != DefaultMatchAttempts {
		t.Errorf("attempts = %d, want %d", m.attempts, DefaultMatchAttempts)
	}
}

func TestMatcher_ContextCancelled(t *testing.T) {
	m := NewMatcher(NewScanner(&fakeScanRadio{}, ""), []time.Duration{time.Hour}, 5)
	ctx, cancel := context.WithCancel(context.Background())
	m.OnAttempt = func(int) { cancel() }

	if _, err := m.Match(ctx, "QR-abc123XYZ987"); !errors.Is(err, context.Canceled) {
		t.Errorf("Match() error = %v, want context.Canceled", err)
	}
}

func TestMatcher_InvalidCode(t *testing.T) {
	m := NewMatcher(NewScanner(&fakeScanRadio{}, ""), nil, 0)
	if _, err := m.Match(context.Background(), "   "); !errors.Is(err, ErrInvalidCode) {
		t.Errorf("Match() error = %v, want ErrInvalidCode", err)
	}
}
