// Package influxdb records swap-station telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. The Client satisfies
// the binding package's reading sink, so every battery read during a
// binding session lands in the "battery_reading" measurement, tagged with
// the station, the pack's MAC and its battery id.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Station.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	machine.SetSink(client)
//
// # Error Handling
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Batch failures arrive asynchronously through the callback
// installed with SetOnError. Connection and health check errors are
// returned directly.
package influxdb
