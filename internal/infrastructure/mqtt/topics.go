package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// TopicPrefix is the root of every topic the bridge publishes or
// subscribes to.
//
// Resource topics address one LwM2M resource:
//
//	lwm2m/{category}/{endpoint}/{object}/{instance}/{resource}
const TopicPrefix = "lwm2m"

// Topics provides builders for the bridge's MQTT topics.
// Using these helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.State("sensor-01", 3303, 0, 5700)
//	// Returns: "lwm2m/state/sensor-01/3303/0/5700"
type Topics struct{}

// =============================================================================
// Resource Topics
// =============================================================================

// State returns the retained topic carrying the last known value of a resource.
//
// Example: lwm2m/state/sensor-01/3303/0/5700
func (Topics) State(endpoint string, objectID, instanceID, resourceID int) string {
	return resourceTopic("state", endpoint, objectID, instanceID, resourceID)
}

// Command returns the topic on which writes to a resource are requested.
//
// Example: lwm2m/command/lamp-01/3311/0/5850
func (Topics) Command(endpoint string, objectID, instanceID, resourceID int) string {
	return resourceTopic("command", endpoint, objectID, instanceID, resourceID)
}

func resourceTopic(category, endpoint string, objectID, instanceID, resourceID int) string {
	return fmt.Sprintf("%s/%s/%s/%d/%d/%d", TopicPrefix, category, endpoint, objectID, instanceID, resourceID)
}

// =============================================================================
// Bridge Topics
// =============================================================================

// Discovery returns the retained topic describing a registered device.
//
// Example: lwm2m/discovery/sensor-01
func (Topics) Discovery(endpoint string) string {
	return fmt.Sprintf("%s/discovery/%s", TopicPrefix, endpoint)
}

// Health returns the topic for periodic bridge health reports.
//
// Example: lwm2m/health/leshan-bridge-01
func (Topics) Health(bridgeID string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, bridgeID)
}

// Status returns the retained online/offline topic, also used for the LWT.
//
// Example: lwm2m/system/status
func (Topics) Status() string {
	return TopicPrefix + "/system/status"
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllCommands returns a pattern matching every command topic.
//
// Pattern: lwm2m/command/+/+/+/+
func (Topics) AllCommands() string {
	return TopicPrefix + "/command/+/+/+/+"
}

// AllStates returns a pattern matching every state topic.
//
// Pattern: lwm2m/state/+/+/+/+
func (Topics) AllStates() string {
	return TopicPrefix + "/state/+/+/+/+"
}

// =============================================================================
// Parsing
// =============================================================================

// ResourceAddress identifies the resource named by a state or command topic.
type ResourceAddress struct {
	Endpoint   string
	ObjectID   int
	InstanceID int
	ResourceID int
}

// ParseResourceTopic splits a resource topic into its category and address.
//
// Returns:
//   - string: The category, e.g. "command"
//   - ResourceAddress: The addressed resource
//   - error: ErrInvalidTopic if the topic is not a resource topic
func ParseResourceTopic(topic string) (string, ResourceAddress, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 6 || parts[0] != TopicPrefix || parts[2] == "" {
		return "", ResourceAddress{}, fmt.Errorf("%w: %q is not a resource topic", ErrInvalidTopic, topic)
	}

	var ids [3]int
	for i, p := range parts[3:] {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return "", ResourceAddress{}, fmt.Errorf("%w: %q has a bad id %q", ErrInvalidTopic, topic, p)
		}
		ids[i] = n
	}

	return parts[1], ResourceAddress{
		Endpoint:   parts[2],
		ObjectID:   ids[0],
		InstanceID: ids[1],
		ResourceID: ids[2],
	}, nil
}
