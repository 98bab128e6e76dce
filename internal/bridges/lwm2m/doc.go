// Package lwm2m bridges LwM2M devices managed by a Leshan server onto MQTT.
//
// The bridge sits between the Leshan REST API and the MQTT bus:
//
//	┌─────────────────┐   REST/SSE   ┌─────────────────┐   MQTT
//	│  Leshan server  │◄────────────►│  LwM2M Bridge   │◄────────► consumers
//	└─────────────────┘              │   (this pkg)    │
//	                                 └─────────────────┘
//
// # Key Responsibilities
//
//   - Apply the rules file to every known and newly registered device
//   - Observe the rule's observe resources through the subscription registry
//   - Add instances with poll resources to the poll list
//   - Publish every value as retained JSON on lwm2m/state/...
//   - Translate lwm2m/command/... payloads into writes
//   - Publish discovery and health messages
//
// Values also flow to the optional InfluxDB writer, reading log and
// websocket hub.
//
// # Rules
//
// Rules are keyed by LwM2M object id:
//
//	objects:
//	  - object: 3303
//	    name: temperature
//	    observe: [5700]
//	  - object: 3311
//	    name: light_control
//	    observe: [5850, 5851]
//	    writable: true
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package lwm2m
