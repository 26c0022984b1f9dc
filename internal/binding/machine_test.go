package binding

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Njogu-Ndegwa/swapstation/internal/discovery"
	"github.com/Njogu-Ndegwa/swapstation/internal/energy"
	"github.com/Njogu-Ndegwa/swapstation/internal/radio"
)

const (
	testMAC  = "AA:BB:CC:00:00:01"
	testCode = "QR-abc123XYZ987"
)

type connectStep func(h radio.Handler, mac string)
type readStep func(h radio.Handler, mac, service string)

// fakeRadio scripts radio callbacks per command. Callbacks run synchronously
// inside the command unless a step starts its own goroutine.
type fakeRadio struct {
	mu      sync.Mutex
	handler radio.Handler

	connectSteps []connectStep
	readSteps    []readStep

	connects    int
	reads       int
	disconnects int
}

func (f *fakeRadio) SetHandler(h radio.Handler) {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
}

func (f *fakeRadio) StartScan() error { return nil }
func (f *fakeRadio) StopScan() error  { return nil }

func (f *fakeRadio) Connect(mac string) error {
	f.mu.Lock()
	n := f.connects
	f.connects++
	var step connectStep
	if n < len(f.connectSteps) {
		step = f.connectSteps[n]
	} else if len(f.connectSteps) > 0 {
		step = f.connectSteps[len(f.connectSteps)-1]
	}
	h := f.handler
	f.mu.Unlock()

	if step != nil {
		step(h, mac)
	}
	return nil
}

func (f *fakeRadio) Disconnect(string) error {
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
	return nil
}

func (f *fakeRadio) RequestNamedService(service, mac string) error {
	f.mu.Lock()
	n := f.reads
	f.reads++
	var step readStep
	if n < len(f.readSteps) {
		step = f.readSteps[n]
	} else if len(f.readSteps) > 0 {
		step = f.readSteps[len(f.readSteps)-1]
	}
	h := f.handler
	f.mu.Unlock()

	if step != nil {
		step(h, mac, service)
	}
	return nil
}

func (f *fakeRadio) counts() (connects, reads, disconnects int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.reads, f.disconnects
}

func (f *fakeRadio) current() radio.Handler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handler
}

type recordingSink struct {
	mu       sync.Mutex
	readings []energy.Reading
}

func (s *recordingSink) WriteBatteryReading(_ string, r energy.Reading) {
	s.mu.Lock()
	s.readings = append(s.readings, r)
	s.mu.Unlock()
}

func testOptions() Options {
	return Options{
		ConnectRetries:     3,
		ConnectBackoffUnit: time.Millisecond,
		ReadRetries:        2,
		ReadRetryDelay:     time.Millisecond,
		GlobalTimeout:      5 * time.Second,
		Service:            "DTA",
		MatchSchedule:      []time.Duration{time.Millisecond},
		MatchAttempts:      5,
	}
}

func newTestMachine(t *testing.T, fr *fakeRadio, opts Options) *Machine {
	t.Helper()
	scanner := discovery.NewScanner(fr, "")
	scanner.HandleAdvertisement(radio.Advertisement{MAC: testMAC, Name: "OVES-xyz987", RSSI: -60})
	m := New(fr, scanner, opts)
	fr.SetHandler(m.Handler())
	return m
}

func goodTelemetry() radio.Telemetry {
	return radio.Telemetry{"rcap": 15290, "pckv": 75470, "fccp": 16500, "bid": "BAT-0042"}
}

func connectOK(h radio.Handler, mac string) { h.NotifyConnectSuccess(mac) }

func connectFails(h radio.Handler, mac string) {
	h.NotifyConnectFail(mac, errors.New("gatt: connection refused"))
}

func readReturns(data radio.Telemetry) readStep {
	return func(h radio.Handler, mac, service string) {
		h.NotifyServiceDataProgress(mac, service, radio.Progress{Read: len(data), Total: len(data)})
		h.NotifyServiceDataComplete(mac, service, data)
	}
}

func readFails(err error) readStep {
	return func(h radio.Handler, mac, service string) {
		h.NotifyServiceDataFailure(mac, service, err)
	}
}

func bindAsync(m *Machine, ctx context.Context) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		res, _ := m.Bind(ctx, testCode)
		ch <- res
	}()
	return ch
}

func waitResult(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for binding result")
		return Result{}
	}
}

func waitState(t *testing.T, m *Machine, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Status().State == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", m.Status().State, want)
}

func TestBind_Succeeds(t *testing.T) {
	fr := &fakeRadio{
		connectSteps: []connectStep{connectOK},
		readSteps:    []readStep{readReturns(goodTelemetry())},
	}
	m := newTestMachine(t, fr, testOptions())
	sink := &recordingSink{}
	m.SetSink(sink)

	res, err := m.Bind(context.Background(), testCode)
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if res.State != StateSucceeded {
		t.Fatalf("State = %v, want succeeded", res.State)
	}
	if res.Reading == nil || res.Reading.ChargePercent != 93 || res.Reading.BatteryID != "BAT-0042" {
		t.Errorf("Reading = %+v", res.Reading)
	}
	if res.Device.MAC != testMAC {
		t.Errorf("Device.MAC = %q, want %q", res.Device.MAC, testMAC)
	}
	if res.SessionID == "" {
		t.Error("SessionID is empty")
	}

	connects, reads, disconnects := fr.counts()
	if connects != 1 || reads != 1 || disconnects != 1 {
		t.Errorf("connect/read/disconnect = %d/%d/%d, want 1/1/1", connects, reads, disconnects)
	}
	if len(sink.readings) != 1 {
		t.Errorf("sink got %d readings, want 1", len(sink.readings))
	}
	if got := len(m.Devices()); got != 1 {
		t.Errorf("device list has %d entries after success, want 1", got)
	}
}

func TestBind_ConnectRetriesAreBounded(t *testing.T) {
	fr := &fakeRadio{connectSteps: []connectStep{connectFails}}
	m := newTestMachine(t, fr, testOptions())

	res, err := m.Bind(context.Background(), testCode)
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("Bind() error = %v, want ErrConnection", err)
	}
	if res.State != StateFailed {
		t.Errorf("State = %v, want failed", res.State)
	}
	if connects, _, _ := fr.counts(); connects != 4 {
		t.Errorf("connect attempts = %d, want 4 (1 + 3 retries)", connects)
	}
}

func TestBind_ConnectRecoversAfterRetries(t *testing.T) {
	fr := &fakeRadio{
		connectSteps: []connectStep{connectFails, connectFails, connectOK},
		readSteps:    []readStep{readReturns(goodTelemetry())},
	}
	m := newTestMachine(t, fr, testOptions())

	res, err := m.Bind(context.Background(), testCode)
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if res.State != StateSucceeded {
		t.Errorf("State = %v, want succeeded", res.State)
	}
	if connects, _, _ := fr.counts(); connects != 3 {
		t.Errorf("connect attempts = %d, want 3", connects)
	}
}

func TestBind_StaleFailuresAfterConfirmationAreIgnored(t *testing.T) {
	release := make(chan struct{})
	fr := &fakeRadio{
		connectSteps: []connectStep{func(h radio.Handler, mac string) {
			h.NotifyConnectSuccess(mac)
			// Late failure-class callbacks for the same link.
			h.NotifyConnectFail(mac, errors.New("gatt: timeout"))
			h.NotifyDisconnected(mac)
			close(release)
		}},
		readSteps: []readStep{func(h radio.Handler, mac, service string) {
			go func() {
				<-release
				h.NotifyServiceDataComplete(mac, service, goodTelemetry())
			}()
		}},
	}
	m := newTestMachine(t, fr, testOptions())

	res, err := m.Bind(context.Background(), testCode)
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if res.State != StateSucceeded {
		t.Errorf("State = %v, want succeeded", res.State)
	}
	if connects, _, _ := fr.counts(); connects != 1 {
		t.Errorf("connect attempts = %d, want 1", connects)
	}
}

func TestBind_ReadRetryOnIncompleteTelemetry(t *testing.T) {
	partial := radio.Telemetry{"pckv": 75470, "bid": "BAT-0042"}
	fr := &fakeRadio{
		connectSteps: []connectStep{connectOK},
		readSteps:    []readStep{readReturns(partial), readReturns(goodTelemetry())},
	}
	m := newTestMachine(t, fr, testOptions())

	res, err := m.Bind(context.Background(), testCode)
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if res.State != StateSucceeded {
		t.Errorf("State = %v, want succeeded", res.State)
	}
	connects, reads, _ := fr.counts()
	if connects != 1 || reads != 2 {
		t.Errorf("connect/read = %d/%d, want 1/2", connects, reads)
	}
}

func TestBind_ReadRetriesAreBounded(t *testing.T) {
	fr := &fakeRadio{
		connectSteps: []connectStep{connectOK},
		readSteps:    []readStep{readReturns(radio.Telemetry{"bid": "BAT-0042"})},
	}
	m := newTestMachine(t, fr, testOptions())

	res, err := m.Bind(context.Background(), testCode)
	if !errors.Is(err, ErrDataRead) {
		t.Fatalf("Bind() error = %v, want ErrDataRead", err)
	}
	if res.State != StateFailed {
		t.Errorf("State = %v, want failed", res.State)
	}
	if _, reads, _ := fr.counts(); reads != 3 {
		t.Errorf("reads = %d, want 3 (1 + 2 retries)", reads)
	}
}

func TestBind_NoBatteryIDFailsImmediately(t *testing.T) {
	fr := &fakeRadio{
		connectSteps: []connectStep{connectOK},
		readSteps:    []readStep{readReturns(radio.Telemetry{"pckv": 75470})},
	}
	m := newTestMachine(t, fr, testOptions())

	_, err := m.Bind(context.Background(), testCode)
	if !errors.Is(err, ErrDataRead) {
		t.Fatalf("Bind() error = %v, want ErrDataRead", err)
	}
	if _, reads, _ := fr.counts(); reads != 1 {
		t.Errorf("reads = %d, want 1", reads)
	}
}

func TestBind_DeviceNotConnectedMidReadNeedsRadioReset(t *testing.T) {
	fr := &fakeRadio{
		connectSteps: []connectStep{connectOK},
		readSteps:    []readStep{readFails(errors.New("GATT: device not connected"))},
	}
	m := newTestMachine(t, fr, testOptions())

	res, err := m.Bind(context.Background(), testCode)
	if !errors.Is(err, ErrRadioReset) {
		t.Fatalf("Bind() error = %v, want ErrRadioReset", err)
	}
	if res.State != StateRadioResetRequired {
		t.Errorf("State = %v, want radio-reset-required", res.State)
	}
}

func TestBind_GlobalTimeoutFiresWithoutPhaseTimers(t *testing.T) {
	// The radio never answers the connect, so no per-phase retry timer runs.
	fr := &fakeRadio{}
	opts := testOptions()
	opts.GlobalTimeout = 50 * time.Millisecond
	opts.ConnectBackoffUnit = time.Hour
	m := newTestMachine(t, fr, opts)

	res, err := m.Bind(context.Background(), testCode)
	if !errors.Is(err, ErrRadioReset) {
		t.Fatalf("Bind() error = %v, want ErrRadioReset", err)
	}
	if res.State != StateRadioResetRequired {
		t.Errorf("State = %v, want radio-reset-required", res.State)
	}
	if _, _, disconnects := fr.counts(); disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", disconnects)
	}
}

func TestCancel_BeforeConfirmation(t *testing.T) {
	fr := &fakeRadio{}
	m := newTestMachine(t, fr, testOptions())

	ch := bindAsync(m, context.Background())
	waitState(t, m, StateConnecting)

	if err := m.Cancel(); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	res := waitResult(t, ch)
	if res.State != StateCancelled || !errors.Is(res.Err, ErrCancelled) {
		t.Errorf("result = %v / %v, want cancelled", res.State, res.Err)
	}
	if err := m.Cancel(); !errors.Is(err, ErrNoSession) {
		t.Errorf("second Cancel() error = %v, want ErrNoSession", err)
	}
}

func TestCancel_RejectedAfterConfirmation(t *testing.T) {
	fr := &fakeRadio{connectSteps: []connectStep{connectOK}}
	m := newTestMachine(t, fr, testOptions())

	ch := bindAsync(m, context.Background())
	waitState(t, m, StateReading)

	if err := m.Cancel(); !errors.Is(err, ErrCancelRejected) {
		t.Fatalf("Cancel() error = %v, want ErrCancelRejected", err)
	}
	st := m.Status()
	if st.State != StateReading || st.Attempt == nil || !st.Attempt.ConnectionConfirmed {
		t.Errorf("status after rejected cancel = %+v", st)
	}

	fr.current().NotifyServiceDataComplete(testMAC, "DTA", goodTelemetry())
	if res := waitResult(t, ch); res.State != StateSucceeded {
		t.Errorf("State = %v, want succeeded", res.State)
	}
}

func TestBind_ContextCancellation(t *testing.T) {
	fr := &fakeRadio{}
	m := newTestMachine(t, fr, testOptions())
	ctx, cancel := context.WithCancel(context.Background())

	ch := bindAsync(m, ctx)
	waitState(t, m, StateConnecting)
	cancel()

	if res := waitResult(t, ch); res.State != StateCancelled {
		t.Errorf("State = %v, want cancelled", res.State)
	}
}

func TestBind_DeviceNotFoundKeepsDevices(t *testing.T) {
	fr := &fakeRadio{}
	m := newTestMachine(t, fr, testOptions())

	var attempts int
	m.Matcher().OnAttempt = func(int) { attempts++ }

	res, err := m.Bind(context.Background(), "QR-000000NOPE00")
	if !errors.Is(err, discovery.ErrDeviceNotFound) {
		t.Fatalf("Bind() error = %v, want ErrDeviceNotFound", err)
	}
	if res.State != StateFailed {
		t.Errorf("State = %v, want failed", res.State)
	}
	if attempts != 5 {
		t.Errorf("match attempts = %d, want 5", attempts)
	}
	if len(m.Devices()) != 1 {
		t.Error("device list must survive a failed match")
	}
	if connects, _, _ := fr.counts(); connects != 0 {
		t.Errorf("connect attempts = %d, want 0", connects)
	}
}

func TestBind_BusyWhileSessionActive(t *testing.T) {
	fr := &fakeRadio{}
	m := newTestMachine(t, fr, testOptions())

	ch := bindAsync(m, context.Background())
	waitState(t, m, StateConnecting)

	if _, err := m.Bind(context.Background(), testCode); !errors.Is(err, ErrBusy) {
		t.Errorf("second Bind() error = %v, want ErrBusy", err)
	}
	if err := m.ResetDevices(); !errors.Is(err, ErrBusy) {
		t.Errorf("ResetDevices() error = %v, want ErrBusy", err)
	}

	_ = m.Cancel()
	waitResult(t, ch)

	if err := m.ResetDevices(); err != nil {
		t.Errorf("ResetDevices() after session error = %v", err)
	}
	if len(m.Devices()) != 0 {
		t.Error("ResetDevices should clear the list")
	}
}

func TestCallbacksAfterTerminalAreStale(t *testing.T) {
	fr := &fakeRadio{
		connectSteps: []connectStep{connectOK},
		readSteps:    []readStep{readReturns(goodTelemetry())},
	}
	m := newTestMachine(t, fr, testOptions())

	if _, err := m.Bind(context.Background(), testCode); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}

	h := fr.current()
	h.NotifyServiceDataFailure(testMAC, "DTA", errors.New("device not connected"))
	h.NotifyConnectFail(testMAC, errors.New("late"))
	h.NotifyServiceDataComplete(testMAC, "DTA", radio.Telemetry{})

	if st := m.Status(); st.State != StateSucceeded {
		t.Errorf("State after stale callbacks = %v, want succeeded", st.State)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		want     string
		terminal bool
	}{
		{StateIdle, "idle", false},
		{StateMatching, "matching", false},
		{StateConnecting, "connecting", false},
		{StateReading, "reading", false},
		{StateSucceeded, "succeeded", true},
		{StateFailed, "failed", true},
		{StateRadioResetRequired, "radio-reset-required", true},
		{StateCancelled, "cancelled", true},
		{State(99), "unknown", true},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
		if got := tt.state.Terminal(); got != tt.terminal {
			t.Errorf("State(%d).Terminal() = %v, want %v", tt.state, got, tt.terminal)
		}
	}
}
