package device

import "context"

// AdapterState is the lifecycle state of a hardware adapter.
type AdapterState int

// Adapter states, ordered: every state from Ready on counts as past
// initialization.
const (
	StateDisabled AdapterState = iota
	StateInit
	StateReady
	StateFailed
	StateSleeping
)

// String returns the state's name.
func (s AdapterState) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateInit:
		return "init"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateSleeping:
		return "sleeping"
	default:
		return "unknown"
	}
}

// Adapter is the hardware adapter contract consumed by the update pipeline.
//
// Implementations must be safe for concurrent use. UpdateDevice is called
// without any device lock held.
type Adapter interface {
	// ID returns the adapter's unique identifier. Device references are
	// unique per adapter.
	ID() string

	// State returns the adapter's current lifecycle state.
	State() AdapterState

	// UpdateDevice asks the adapter to drive value to the hardware behind
	// dev.
	//
	// Parameters:
	//   - ctx: Context for cancellation
	//   - source: Origin of the change
	//   - dev: The device being changed; its value still holds the previous value
	//   - value: The requested value in the kind's native type
	//
	// Returns:
	//   - bool: true to apply immediately; false when the adapter will confirm
	//     later by re-entering the pipeline with SourceHardware
	//   - error: non-nil to reject the change
	UpdateDevice(ctx context.Context, source UpdateSource, dev *Device, value any) (apply bool, err error)
}
