// Package radio defines the short-range radio surface used to discover,
// connect to and read battery packs.
//
// A Radio is command/callback shaped: commands return as soon as they are
// issued and their outcome arrives later through the Handler. Callbacks may
// run on any goroutine.
package radio

import (
	"errors"
	"fmt"
	"strings"
)

// Radio errors.
var (
	// ErrDeviceNotConnected is reported when a command targets a device
	// whose link is down. Mid-read it means the radio needs a power cycle.
	ErrDeviceNotConnected = errors.New("radio: device not connected")

	// ErrUnknownDevice is returned when connecting to a MAC that was never
	// seen in a scan.
	ErrUnknownDevice = errors.New("radio: unknown device")

	// ErrUnknownService is returned for a service name with no mapping.
	ErrUnknownService = errors.New("radio: unknown service")

	// ErrDisabled is returned by every command of a disabled radio.
	ErrDisabled = errors.New("radio: disabled")
)

// Advertisement is one scan result.
type Advertisement struct {
	MAC  string
	Name string
	RSSI int
}

// Telemetry is the decoded payload of a named service, keyed by field name.
type Telemetry map[string]any

// Progress reports how many fields of a service have been read.
type Progress struct {
	Read  int
	Total int
}

// Handler receives radio callbacks. Nil fields are ignored.
type Handler struct {
	DeviceFound         func(adv Advertisement)
	ConnectSuccess      func(mac string)
	ConnectFail         func(mac string, err error)
	Disconnected        func(mac string)
	ServiceDataProgress func(mac, service string, p Progress)
	ServiceDataComplete func(mac, service string, data Telemetry)
	ServiceDataFailure  func(mac, service string, err error)
}

// Radio is the radio bridge.
type Radio interface {
	StartScan() error
	StopScan() error
	Connect(mac string) error
	Disconnect(mac string) error
	RequestNamedService(service, mac string) error

	// SetHandler replaces the callback set.
	SetHandler(h Handler)
}

// NotifyDeviceFound invokes DeviceFound if set.
func (h Handler) NotifyDeviceFound(adv Advertisement) {
	if h.DeviceFound != nil {
		h.DeviceFound(adv)
	}
}

// NotifyConnectSuccess invokes ConnectSuccess if set.
func (h Handler) NotifyConnectSuccess(mac string) {
	if h.ConnectSuccess != nil {
		h.ConnectSuccess(mac)
	}
}

// NotifyConnectFail invokes ConnectFail if set.
func (h Handler) NotifyConnectFail(mac string, err error) {
	if h.ConnectFail != nil {
		h.ConnectFail(mac, err)
	}
}

// NotifyDisconnected invokes Disconnected if set.
func (h Handler) NotifyDisconnected(mac string) {
	if h.Disconnected != nil {
		h.Disconnected(mac)
	}
}

// NotifyServiceDataProgress invokes ServiceDataProgress if set.
func (h Handler) NotifyServiceDataProgress(mac, service string, p Progress) {
	if h.ServiceDataProgress != nil {
		h.ServiceDataProgress(mac, service, p)
	}
}

// NotifyServiceDataComplete invokes ServiceDataComplete if set.
func (h Handler) NotifyServiceDataComplete(mac, service string, data Telemetry) {
	if h.ServiceDataComplete != nil {
		h.ServiceDataComplete(mac, service, data)
	}
}

// NotifyServiceDataFailure invokes ServiceDataFailure if set.
func (h Handler) NotifyServiceDataFailure(mac, service string, err error) {
	if h.ServiceDataFailure != nil {
		h.ServiceDataFailure(mac, service, err)
	}
}

// IsNotConnected reports whether err means the device link is down, either
// as ErrDeviceNotConnected or as text from a lower layer.
func IsNotConnected(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDeviceNotConnected) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "device not connected")
}

// NormalizeMAC upper-cases a MAC address and checks its shape.
func NormalizeMAC(mac string) (string, error) {
	mac = strings.ToUpper(strings.TrimSpace(mac))
	parts := strings.Split(mac, ":")
	if len(parts) != 6 {
		return "", fmt.Errorf("radio: invalid MAC address %q", mac)
	}
	for _, p := range parts {
		if len(p) != 2 || strings.Trim(p, "0123456789ABCDEF") != "" {
			return "", fmt.Errorf("radio: invalid MAC address %q", mac)
		}
	}
	return mac, nil
}

// Disabled is a Radio whose commands all fail with ErrDisabled. It lets the
// station run its payment workflow on hosts without a radio adapter.
type Disabled struct{}

func (Disabled) StartScan() error                         { return ErrDisabled }
func (Disabled) StopScan() error                          { return nil }
func (Disabled) Connect(string) error                     { return ErrDisabled }
func (Disabled) Disconnect(string) error                  { return nil }
func (Disabled) RequestNamedService(string, string) error { return ErrDisabled }
func (Disabled) SetHandler(Handler)                       {}
