package mqtt

import "errors"

// Broker errors. Check with errors.Is.
var (
	// ErrNotConnected is returned while the broker connection is down.
	// Bridges treat it as a transient failure and retry on reconnect.
	ErrNotConnected = errors.New("mqtt: not connected to broker")

	// ErrConnectionFailed is returned when the initial connection fails.
	ErrConnectionFailed = errors.New("mqtt: broker connection failed")

	// ErrPublishFailed wraps a publish the broker did not acknowledge.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed wraps a subscription the broker rejected.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrUnsubscribeFailed wraps an unsubscribe the broker rejected.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")
)

// Argument errors. Nothing is sent to the broker when these are returned.
var (
	// ErrInvalidQoS is returned for a QoS level above 2.
	ErrInvalidQoS = errors.New("mqtt: qos must be 0, 1 or 2")

	// ErrInvalidTopic is returned for an empty topic, a publish topic
	// containing a wildcard or a malformed subscription filter.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrPayloadTooLarge is returned for payloads above maxPayloadSize.
	ErrPayloadTooLarge = errors.New("mqtt: payload too large")
)
