package energy

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/spf13/cast"
)

// ErrInvalidTelemetry is returned when remaining capacity or pack voltage is
// missing or not a finite number.
var ErrInvalidTelemetry = errors.New("energy: invalid telemetry")

// Telemetry field names as exposed by the battery management system.
const (
	FieldRemainingCapacity = "rcap" // mAh
	FieldFullCapacity      = "fccp" // mAh
	FieldPackVoltage       = "pckv" // mV
	FieldRelativeSOC       = "rsoc" // %
	FieldBatteryID         = "bid"
)

// Fields holds the raw telemetry inputs. Nil pointers are absent values.
type Fields struct {
	RemainingCapacity *float64
	FullCapacity      *float64
	PackVoltage       *float64
	RelativeSOC       *float64
	BatteryID         string
}

// Reading is a decoded energy reading.
type Reading struct {
	BatteryID      string  `json:"battery_id,omitempty"`
	EnergyWh       float64 `json:"energy_wh"`
	FullCapacityWh float64 `json:"full_capacity_wh"`
	ChargePercent  int     `json:"charge_percent"`
}

// Float returns a pointer to v, for building Fields by hand.
func Float(v float64) *float64 {
	return &v
}

// Decode computes a Reading.
//
//	energyWh       = rcap × pckv / 1e6, rounded to 2 decimals
//	fullCapacityWh = fccp × pckv / 1e6, or 0 without fccp
//	chargePercent  = rcap/fccp × 100 when fccp > 0, else rsoc, else 0; clamped to [0,100]
func Decode(f Fields) (Reading, error) {
	if !finite(f.RemainingCapacity) {
		return Reading{}, fmt.Errorf("%w: %s missing or not finite", ErrInvalidTelemetry, FieldRemainingCapacity)
	}
	if !finite(f.PackVoltage) {
		return Reading{}, fmt.Errorf("%w: %s missing or not finite", ErrInvalidTelemetry, FieldPackVoltage)
	}

	remaining := *f.RemainingCapacity
	voltage := *f.PackVoltage

	r := Reading{
		BatteryID: f.BatteryID,
		EnergyWh:  round2(remaining * voltage / 1e6),
	}

	full := 0.0
	if finite(f.FullCapacity) {
		full = *f.FullCapacity
		r.FullCapacityWh = round2(full * voltage / 1e6)
	}

	switch {
	case full > 0:
		r.ChargePercent = clampPercent(math.Round(remaining / full * 100))
	case finite(f.RelativeSOC):
		r.ChargePercent = clampPercent(math.Round(*f.RelativeSOC))
	}

	return r, nil
}

// FieldsFromTelemetry extracts the known fields from a raw telemetry map.
// Keys are matched case-insensitively; values may be numbers or numeric
// strings. Unparseable values are treated as absent.
func FieldsFromTelemetry(raw map[string]any) Fields {
	lower := make(map[string]any, len(raw))
	for k, v := range raw {
		lower[strings.ToLower(k)] = v
	}

	f := Fields{
		RemainingCapacity: number(lower[FieldRemainingCapacity]),
		FullCapacity:      number(lower[FieldFullCapacity]),
		PackVoltage:       number(lower[FieldPackVoltage]),
		RelativeSOC:       number(lower[FieldRelativeSOC]),
	}
	if v, ok := lower[FieldBatteryID]; ok && v != nil {
		f.BatteryID = strings.TrimSpace(cast.ToString(v))
	}
	return f
}

func number(v any) *float64 {
	if v == nil {
		return nil
	}
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		v = s
	}
	n, err := cast.ToFloat64E(v)
	if err != nil {
		return nil
	}
	return &n
}

func finite(v *float64) bool {
	return v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clampPercent(v float64) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return int(v)
}
