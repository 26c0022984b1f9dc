// Package energy converts raw battery telemetry into engineering units.
//
// Battery packs report remaining and full charge capacity in mAh, pack
// voltage in mV and an optional relative state of charge. Decode turns those
// into watt-hours and a 0–100 charge percentage:
//
//	fields := energy.FieldsFromTelemetry(raw)
//	reading, err := energy.Decode(fields)
//	if errors.Is(err, energy.ErrInvalidTelemetry) {
//	    // re-request the telemetry service
//	}
//
// Decode is pure: identical inputs always produce identical readings.
package energy
