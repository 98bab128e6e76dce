// Package influxdb records LwM2M resource readings in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes and health monitoring.
//
// # Measurements
//
//   - lwm2m_resource: one point per observed or polled resource value,
//     tagged endpoint/object/instance/resource/kind
//   - lwm2m_poll: one point per poll cycle with device and result counts
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without time-series storage
//	}
//	defer client.Close()
//
//	client.WriteResource("sensor-01", oi, value, time.Now())
//
// # Thread Safety
//
// All methods are safe for concurrent use.
package influxdb
