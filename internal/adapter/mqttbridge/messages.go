package mqttbridge

import (
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/device"
)

// CommandMessage is sent from the hub to a bridge to drive a device.
// Topic: graylogic/command/{protocol}/{reference}
type CommandMessage struct {
	// ID correlates the command with the bridge's logs.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC).
	Timestamp time.Time `json:"timestamp"`

	// Device is the protocol reference of the target device.
	Device string `json:"device"`

	// Value is a number for counter and level devices and the formatted
	// value otherwise.
	Value any `json:"value"`

	// Source is the origin of the change, e.g. "timer" or "api".
	Source string `json:"source"`
}

// StateMessage is sent from a bridge when a device reports its value,
// either to confirm a command or unsolicited.
// Topic: graylogic/state/{protocol}/{reference}
// QoS: 1, Retained: Yes
type StateMessage struct {
	// Timestamp is when the state was observed (UTC).
	Timestamp time.Time `json:"timestamp"`

	// Value is the reported value in any form the device kind converts.
	Value any `json:"value"`

	// CommandID is the command this report answers, when the bridge knows.
	CommandID string `json:"command_id,omitempty"`
}

// HealthStatus represents the operational status of a bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is operating with issues.
	HealthDegraded HealthStatus = "degraded"

	// HealthUnhealthy indicates the bridge is not operating correctly.
	HealthUnhealthy HealthStatus = "unhealthy"

	// HealthOffline indicates the bridge is not connected (from LWT).
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// AdapterState maps a bridge status to the adapter lifecycle state. An
// empty status, before any health report arrived, counts as healthy.
func (h HealthStatus) AdapterState() device.AdapterState {
	switch h {
	case HealthUnhealthy, HealthOffline:
		return device.StateFailed
	case HealthStarting:
		return device.StateInit
	case HealthStopping:
		return device.StateSleeping
	default:
		return device.StateReady
	}
}

// HealthMessage is sent from a bridge to report its operational status.
// Topic: graylogic/health/{protocol}
// QoS: 1, Retained: Yes
type HealthMessage struct {
	// Bridge is the bridge identifier.
	Bridge string `json:"bridge"`

	// Timestamp is when the health status was generated (UTC).
	Timestamp time.Time `json:"timestamp"`

	// Status indicates the current operational status.
	Status HealthStatus `json:"status"`

	// Reason explains the status (especially for offline/degraded).
	Reason string `json:"reason,omitempty"`
}

// wireValue encodes value for a CommandMessage.
func wireValue(kind device.Kind, value any) any {
	if kind.Numeric() {
		return value
	}
	return kind.Format(value)
}
