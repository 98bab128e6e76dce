package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-leshan/internal/leshan"
)

// Measurement names written by the bridge.
const (
	MeasurementResource  = "lwm2m_resource"
	MeasurementPollCycle = "lwm2m_poll"
)

// WriteResource records one resource value.
//
// Tags identify the resource (endpoint, object, instance, resource, kind);
// the single "value" field keeps the value's native type so numeric
// resources can be aggregated.
//
// Example:
//
//	client.WriteResource("sensor-01", leshan.ObjectInstance{ObjectID: 3303}, v, time.Now())
func (c *Client) WriteResource(endpoint string, oi leshan.ObjectInstance, v leshan.ResourceValue, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(resourcePoint(endpoint, oi, v, ts))
}

// WritePollCycle records the outcome of one poll cycle.
func (c *Client) WritePollCycle(devices, results int, duration time.Duration, ok bool, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(pollCyclePoint(devices, results, duration, ok, ts))
}

func resourcePoint(endpoint string, oi leshan.ObjectInstance, v leshan.ResourceValue, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementResource,
		map[string]string{
			"endpoint": endpoint,
			"object":   strconv.Itoa(oi.ObjectID),
			"instance": strconv.Itoa(oi.InstanceID),
			"resource": strconv.Itoa(v.ID),
			"kind":     string(v.Kind),
		},
		map[string]any{
			"value": fieldValue(v),
		},
		ts,
	)
}

func pollCyclePoint(devices, results int, duration time.Duration, ok bool, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementPollCycle,
		map[string]string{},
		map[string]any{
			"devices":     devices,
			"results":     results,
			"duration_ms": duration.Milliseconds(),
			"ok":          ok,
		},
		ts,
	)
}

// fieldValue maps a resource value onto an InfluxDB field type.
// Kinds without a numeric or boolean form are stored as strings.
func fieldValue(v leshan.ResourceValue) any {
	switch x := v.Value.(type) {
	case int64, float64, bool, string:
		return x
	case nil:
		return ""
	default:
		return v.String()
	}
}
