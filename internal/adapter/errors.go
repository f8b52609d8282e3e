package adapter

import "errors"

var (
	// ErrDisabled is returned when an update reaches a disabled adapter.
	ErrDisabled = errors.New("adapter: disabled")

	// ErrNoPending is returned when an adapter that confirms updates later
	// is built without a pending registry.
	ErrNoPending = errors.New("adapter: pending registry required")
)
