package mqtt

import "errors"

var (
	// ErrNotConnected means the broker is unreachable right now. paho keeps
	// reconnecting in the background; retry later.
	ErrNotConnected = errors.New("mqtt: client not connected")

	ErrConnectionFailed  = errors.New("mqtt: connection failed")
	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS is returned for a QoS above 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic covers empty topics, wildcards in publish topics and
	// topics outside the bridge's layout.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrPayloadTooLarge is returned before anything is sent.
	ErrPayloadTooLarge = errors.New("mqtt: payload too large")
)
