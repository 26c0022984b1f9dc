// Package bluez implements radio.Radio on a Bluetooth LE adapter through
// tinygo.org/x/bluetooth.
//
// Named services are configured as a GATT service UUID plus one
// characteristic per telemetry field. Requesting a service reads every
// characteristic in order, reporting progress after each field.
package bluez

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"tinygo.org/x/bluetooth"

	"github.com/Njogu-Ndegwa/swapstation/internal/infrastructure/config"
	"github.com/Njogu-Ndegwa/swapstation/internal/radio"
)

// Logger defines the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// readBufferSize bounds a single characteristic read.
const readBufferSize = 64

type field struct {
	name string
	uuid bluetooth.UUID
}

type service struct {
	name   string
	uuid   bluetooth.UUID
	fields []field
}

// Radio is a radio.Radio backed by a local adapter.
//
// All methods are safe for concurrent use.
type Radio struct {
	adapter  *bluetooth.Adapter
	services map[string]service

	mu         sync.Mutex
	handler    radio.Handler
	enabled    bool
	scanning   bool
	seen       map[string]bluetooth.Address
	connecting map[string]bool
	connected  map[string]bluetooth.Device

	logger Logger
}

// New creates a bridge for adapter with the given named services. It does
// not touch the hardware until Enable.
func New(adapter *bluetooth.Adapter, services map[string]config.ServiceConfig) (*Radio, error) {
	parsed, err := parseServices(services)
	if err != nil {
		return nil, err
	}
	return &Radio{
		adapter:    adapter,
		services:   parsed,
		seen:       make(map[string]bluetooth.Address),
		connecting: make(map[string]bool),
		connected:  make(map[string]bluetooth.Device),
		logger:     noopLogger{},
	}, nil
}

// SetLogger sets the logger for the bridge.
func (r *Radio) SetLogger(logger Logger) {
	r.logger = logger
}

// SetHandler replaces the callback set.
func (r *Radio) SetHandler(h radio.Handler) {
	r.mu.Lock()
	r.handler = h
	r.mu.Unlock()
}

// Enable powers up the adapter and starts watching link state.
func (r *Radio) Enable() error {
	if err := r.adapter.Enable(); err != nil {
		return fmt.Errorf("enabling bluetooth adapter: %w", err)
	}
	r.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		mac := strings.ToUpper(device.Address.String())
		r.mu.Lock()
		_, known := r.connected[mac]
		delete(r.connected, mac)
		h := r.handler
		r.mu.Unlock()
		if known {
			r.logger.Info("battery link dropped", "mac", mac)
			h.NotifyDisconnected(mac)
		}
	})

	r.mu.Lock()
	r.enabled = true
	r.mu.Unlock()
	r.logger.Info("bluetooth adapter enabled", "services", len(r.services))
	return nil
}

// StartScan begins passive scanning. Results are reported through
// DeviceFound until StopScan. Starting an active scan is a no-op.
func (r *Radio) StartScan() error {
	r.mu.Lock()
	if !r.enabled {
		r.mu.Unlock()
		return radio.ErrDisabled
	}
	if r.scanning {
		r.mu.Unlock()
		return nil
	}
	r.scanning = true
	r.mu.Unlock()

	go func() {
		err := r.adapter.Scan(r.onScanResult)

		r.mu.Lock()
		r.scanning = false
		r.mu.Unlock()

		if err != nil {
			r.logger.Warn("bluetooth scan ended with error", "error", err)
		}
	}()
	return nil
}

func (r *Radio) onScanResult(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
	mac := strings.ToUpper(result.Address.String())

	r.mu.Lock()
	r.seen[mac] = result.Address
	h := r.handler
	r.mu.Unlock()

	h.NotifyDeviceFound(radio.Advertisement{
		MAC:  mac,
		Name: result.LocalName(),
		RSSI: int(result.RSSI),
	})
}

// StopScan stops an active scan.
func (r *Radio) StopScan() error {
	r.mu.Lock()
	scanning := r.scanning
	r.mu.Unlock()
	if !scanning {
		return nil
	}
	if err := r.adapter.StopScan(); err != nil {
		return fmt.Errorf("stopping scan: %w", err)
	}
	return nil
}

// Connect dials a previously seen device. The outcome arrives through
// ConnectSuccess or ConnectFail.
func (r *Radio) Connect(mac string) error {
	mac, err := radio.NormalizeMAC(mac)
	if err != nil {
		return err
	}

	r.mu.Lock()
	addr, ok := r.seen[mac]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", radio.ErrUnknownDevice, mac)
	}
	if r.connecting[mac] {
		r.mu.Unlock()
		return nil
	}
	r.connecting[mac] = true
	r.mu.Unlock()

	go func() {
		device, err := r.adapter.Connect(addr, bluetooth.ConnectionParams{})

		r.mu.Lock()
		delete(r.connecting, mac)
		if err == nil {
			r.connected[mac] = device
		}
		h := r.handler
		r.mu.Unlock()

		if err != nil {
			r.logger.Debug("battery connect failed", "mac", mac, "error", err)
			h.NotifyConnectFail(mac, err)
			return
		}
		h.NotifyConnectSuccess(mac)
	}()
	return nil
}

// Disconnect drops the link to mac. Unknown devices are ignored.
func (r *Radio) Disconnect(mac string) error {
	mac = strings.ToUpper(strings.TrimSpace(mac))

	r.mu.Lock()
	device, ok := r.connected[mac]
	delete(r.connected, mac)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	if err := device.Disconnect(); err != nil {
		return fmt.Errorf("disconnecting %s: %w", mac, err)
	}
	return nil
}

// RequestNamedService reads every field of a configured service from a
// connected device. Results arrive through the ServiceData callbacks.
func (r *Radio) RequestNamedService(name, mac string) error {
	svc, ok := r.services[name]
	if !ok {
		return fmt.Errorf("%w: %s", radio.ErrUnknownService, name)
	}
	mac = strings.ToUpper(strings.TrimSpace(mac))

	r.mu.Lock()
	device, ok := r.connected[mac]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", radio.ErrDeviceNotConnected, mac)
	}

	go r.readService(device, mac, svc)
	return nil
}

func (r *Radio) readService(device bluetooth.Device, mac string, svc service) {
	r.mu.Lock()
	h := r.handler
	r.mu.Unlock()

	fail := func(err error) {
		if !r.isConnected(mac) {
			err = fmt.Errorf("%w: %w", radio.ErrDeviceNotConnected, err)
		}
		h.NotifyServiceDataFailure(mac, svc.name, err)
	}

	services, err := device.DiscoverServices([]bluetooth.UUID{svc.uuid})
	if err != nil {
		fail(fmt.Errorf("discovering service %s: %w", svc.name, err))
		return
	}
	if len(services) == 0 {
		fail(fmt.Errorf("service %s not exposed by device", svc.name))
		return
	}

	uuids := make([]bluetooth.UUID, len(svc.fields))
	for i, f := range svc.fields {
		uuids[i] = f.uuid
	}
	chars, err := services[0].DiscoverCharacteristics(uuids)
	if err != nil {
		fail(fmt.Errorf("discovering %s characteristics: %w", svc.name, err))
		return
	}
	byUUID := make(map[string]bluetooth.DeviceCharacteristic, len(chars))
	for _, c := range chars {
		byUUID[c.UUID().String()] = c
	}

	data := make(radio.Telemetry, len(svc.fields))
	buf := make([]byte, readBufferSize)
	for i, f := range svc.fields {
		c, ok := byUUID[f.uuid.String()]
		if !ok {
			// Left out; the decoder decides whether the reading is usable.
			r.logger.Debug("telemetry characteristic missing", "mac", mac, "field", f.name)
			continue
		}
		n, err := c.Read(buf)
		if err != nil {
			fail(fmt.Errorf("reading %s.%s: %w", svc.name, f.name, err))
			return
		}
		data[f.name] = decodeValue(buf[:n])
		h.NotifyServiceDataProgress(mac, svc.name, radio.Progress{Read: i + 1, Total: len(svc.fields)})
	}

	h.NotifyServiceDataComplete(mac, svc.name, data)
}

func (r *Radio) isConnected(mac string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.connected[mac]
	return ok
}

func parseServices(cfg map[string]config.ServiceConfig) (map[string]service, error) {
	out := make(map[string]service, len(cfg))
	for name, sc := range cfg {
		uuid, err := bluetooth.ParseUUID(sc.UUID)
		if err != nil {
			return nil, fmt.Errorf("service %s: invalid uuid %q: %w", name, sc.UUID, err)
		}
		svc := service{name: name, uuid: uuid}
		for fieldName, charUUID := range sc.Fields {
			cu, err := bluetooth.ParseUUID(charUUID)
			if err != nil {
				return nil, fmt.Errorf("service %s field %s: invalid uuid %q: %w", name, fieldName, charUUID, err)
			}
			svc.fields = append(svc.fields, field{name: fieldName, uuid: cu})
		}
		sort.Slice(svc.fields, func(i, j int) bool { return svc.fields[i].name < svc.fields[j].name })
		out[name] = svc
	}
	return out, nil
}

// decodeValue turns a characteristic value into a telemetry value. Printable
// ASCII is returned as a string; 1, 2, 4 or 8 byte values as little-endian
// unsigned integers; anything else as hex.
func decodeValue(b []byte) any {
	trimmed := strings.TrimRight(string(b), "\x00")
	if text := strings.TrimSpace(trimmed); text != "" && printable(text) {
		return text
	}

	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	case 8:
		return binary.LittleEndian.Uint64(b)
	}
	return hex.EncodeToString(b)
}

func printable(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}
