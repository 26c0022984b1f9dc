package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/Njogu-Ndegwa/swapstation/internal/energy"
)

// Measurement names.
const (
	MeasurementBatteryReading = "battery_reading"
	MeasurementSwap           = "swap"
)

// WriteBatteryReading records one decoded battery reading. The battery id
// tag is omitted when the pack did not report one.
func (c *Client) WriteBatteryReading(mac string, r energy.Reading) {
	tags := map[string]string{"mac": mac}
	if r.BatteryID != "" {
		tags["battery_id"] = r.BatteryID
	}
	c.WritePoint(MeasurementBatteryReading, tags, map[string]any{
		"energy_wh":        r.EnergyWh,
		"full_capacity_wh": r.FullCapacityWh,
		"charge_percent":   r.ChargePercent,
	})
}

// WriteSwap records a completed swap as the energy handed over: the
// outgoing pack's energy minus the incoming pack's.
func (c *Client) WriteSwap(customerID string, incoming, outgoing energy.Reading) {
	c.WritePoint(MeasurementSwap,
		map[string]string{"customer_id": customerID},
		map[string]any{
			"incoming_wh":  incoming.EnergyWh,
			"outgoing_wh":  outgoing.EnergyWh,
			"delivered_wh": outgoing.EnergyWh - incoming.EnergyWh,
		},
	)
}

// WritePoint writes a custom point stamped now. The station tag is added
// unless tags already carry one.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, c.now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	merged := make(map[string]string, len(tags)+1)
	if c.station != "" {
		merged["station"] = c.station
	}
	for k, v := range tags {
		merged[k] = v
	}

	c.writer.WritePoint(write.NewPoint(measurement, merged, fields, timestamp))
}
