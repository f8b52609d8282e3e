package mqttbridge

import "errors"

var (
	// ErrInvalidMessage is returned for a bridge message that cannot be decoded.
	ErrInvalidMessage = errors.New("mqttbridge: invalid message")

	// ErrUnexpectedTopic is returned for a message on a topic the bridge
	// does not own.
	ErrUnexpectedTopic = errors.New("mqttbridge: unexpected topic")

	// ErrUnconfirmed is recorded when a command is never confirmed by a
	// state report.
	ErrUnconfirmed = errors.New("mqttbridge: command not confirmed")

	// ErrWrongValue is recorded when a confirmation carries a value other
	// than the one commanded.
	ErrWrongValue = errors.New("mqttbridge: confirmed value differs from command")
)
