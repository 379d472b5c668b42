// Package influxdb exports device telemetry to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes and health checks.
//
// Device bots subscribe to their status log and forward:
//   - numeric status values (voltages, enable flags) as device_status points
//   - error and event lines as device_events points
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off; carry on without it
//	}
//	defer client.Close()
//
//	client.WriteStatus("bank", map[string]string{"hv_voltage": "2400"})
package influxdb
