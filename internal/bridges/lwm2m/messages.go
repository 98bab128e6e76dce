package lwm2m

import (
	"time"

	"github.com/nerrad567/gray-logic-leshan/internal/history"
	"github.com/nerrad567/gray-logic-leshan/internal/leshan"
)

// NotificationChannel is the websocket hub channel carrying StateMessages.
const NotificationChannel = "notifications"

// StateMessage is published for every observed or polled value.
// Topic: lwm2m/state/{endpoint}/{object}/{instance}/{resource}
// QoS: configured, Retained: Yes
type StateMessage struct {
	Endpoint   string         `json:"endpoint"`
	Path       string         `json:"path"`
	ObjectID   int            `json:"object_id"`
	InstanceID int            `json:"instance_id"`
	ResourceID int            `json:"resource_id"`
	Kind       leshan.Kind    `json:"kind"`
	Value      any            `json:"value"`
	Source     history.Source `json:"source"`
	Timestamp  time.Time      `json:"timestamp"`
}

// NewStateMessage builds the state message for one value.
func NewStateMessage(endpoint string, oi leshan.ObjectInstance, v leshan.ResourceValue, source history.Source, ts time.Time) StateMessage {
	return StateMessage{
		Endpoint:   endpoint,
		Path:       oi.ResourcePath(v.ID),
		ObjectID:   oi.ObjectID,
		InstanceID: oi.InstanceID,
		ResourceID: v.ID,
		Kind:       v.Kind,
		Value:      v.Value,
		Source:     source,
		Timestamp:  ts.UTC(),
	}
}

// CommandMessage is received on lwm2m/command/{endpoint}/{object}/{instance}/{resource}.
//
//	{"type": "boolean", "value": "true"}
//
// Value may be a JSON string or scalar; it is coerced to Type.
type CommandMessage struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// DiscoveryMessage announces a device the bridge has applied rules to.
// Topic: lwm2m/discovery/{endpoint}
// QoS: 1, Retained: Yes
type DiscoveryMessage struct {
	Endpoint       string             `json:"endpoint"`
	RegistrationID string             `json:"registration_id"`
	Version        string             `json:"lwm2m_version,omitempty"`
	BindingMode    string             `json:"binding_mode,omitempty"`
	Lifetime       int64              `json:"lifetime"`
	Instances      []string           `json:"instances"`
	Observed       []string           `json:"observed,omitempty"`
	Polled         []string           `json:"polled,omitempty"`
	Info           *leshan.DeviceInfo `json:"info,omitempty"`
	Timestamp      time.Time          `json:"timestamp"`
}

// HealthStatus represents the bridge's operational status.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is operating with issues.
	HealthDegraded HealthStatus = "degraded"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// Stats are the bridge counters reported in health messages.
type Stats struct {
	Devices       int    `json:"devices"`
	Observations  int    `json:"observations"`
	Notifications uint64 `json:"notifications"`
	PolledValues  uint64 `json:"polled_values"`
	Commands      uint64 `json:"commands"`
	Errors        uint64 `json:"errors"`
}

// HealthMessage reports the bridge's operational status.
// Topic: lwm2m/health/{bridge_id}
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge        string       `json:"bridge"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Statistics    Stats        `json:"statistics"`
	LastPoll      *time.Time   `json:"last_poll,omitempty"`
	Reason        string       `json:"reason,omitempty"`
}
