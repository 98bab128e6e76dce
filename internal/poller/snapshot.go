package poller

import (
	"encoding/json"
	"time"

	"github.com/nerrad567/gray-logic-leshan/internal/leshan"
)

// Result holds the values read from one object instance of one device.
type Result struct {
	Device   leshan.Device          `json:"device"`
	Instance leshan.ObjectInstance  `json:"instance"`
	Values   []leshan.ResourceValue `json:"values"`
}

// Snapshot is the outcome of one successful poll cycle.
// It is never modified after publication; accessors return copies.
type Snapshot struct {
	devices  []leshan.Device
	results  []Result
	taken    time.Time
	duration time.Duration
}

func newSnapshot(devices []leshan.Device, results []Result, taken time.Time, duration time.Duration) *Snapshot {
	return &Snapshot{devices: devices, results: results, taken: taken, duration: duration}
}

// Devices returns the directory contents at the time of the cycle.
func (s *Snapshot) Devices() []leshan.Device {
	out := make([]leshan.Device, len(s.devices))
	copy(out, s.devices)
	return out
}

// Results returns the per-instance read results in poll-list order.
func (s *Snapshot) Results() []Result {
	out := make([]Result, len(s.results))
	for i, r := range s.results {
		out[i] = r
		out[i].Values = append([]leshan.ResourceValue(nil), r.Values...)
	}
	return out
}

// Taken returns when the cycle completed.
func (s *Snapshot) Taken() time.Time {
	return s.taken
}

// Duration returns how long the cycle took.
func (s *Snapshot) Duration() time.Duration {
	return s.duration
}

// Lookup returns the values read for one instance of one endpoint.
func (s *Snapshot) Lookup(endpoint string, oi leshan.ObjectInstance) ([]leshan.ResourceValue, bool) {
	for _, r := range s.results {
		if r.Device.Endpoint == endpoint && r.Instance == oi {
			return append([]leshan.ResourceValue(nil), r.Values...), true
		}
	}
	return nil, false
}

// MarshalJSON encodes the snapshot for the status API.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Devices []leshan.Device `json:"devices"`
		Results []Result        `json:"results"`
		Taken   time.Time       `json:"taken"`
	}{s.devices, s.results, s.taken})
}
