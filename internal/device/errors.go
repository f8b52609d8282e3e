package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID or reference does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when a reference is declared with a different kind.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDevice is returned when a declaration is incomplete.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidKind is returned when a kind name is not recognised.
	ErrInvalidKind = errors.New("device: invalid kind")

	// ErrInvalidValue is returned when a value cannot be converted to the
	// device's kind.
	ErrInvalidValue = errors.New("device: invalid value")

	// ErrInvalidSource is returned when an update source expression is not recognised.
	ErrInvalidSource = errors.New("device: invalid update source")

	// ErrAuthorizationRejected is recorded when the update source is not
	// in the device's allowed set.
	ErrAuthorizationRejected = errors.New("device: update source not allowed")

	// ErrValidationRejected is recorded when a value falls outside the
	// configured bounds.
	ErrValidationRejected = errors.New("device: value out of bounds")

	// ErrAdapterRejected is recorded when the owning adapter vetoes a change.
	ErrAdapterRejected = errors.New("device: adapter rejected update")
)
