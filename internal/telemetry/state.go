package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/device"
)

// Logger defines the logging interface used by telemetry forwarders.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Publisher is the MQTT surface StatePublisher needs. *mqtt.Client
// satisfies it.
type Publisher interface {
	PublishDeviceState(deviceID int64, payload []byte) error
	IsConnected() bool
}

// DeviceState is the retained payload describing a device's current value.
// Topic: graylogic/hub/device/{id}/state
type DeviceState struct {
	DeviceID  int64           `json:"device_id"`
	Adapter   string          `json:"adapter"`
	Reference string          `json:"reference"`
	Label     string          `json:"label,omitempty"`
	Kind      device.KindName `json:"kind"`

	// Value is a number for counter and level devices and the formatted
	// value otherwise.
	Value    any    `json:"value"`
	Previous string `json:"previous"`
	Source   string `json:"source"`

	Timestamp time.Time `json:"timestamp"`
}

// NewDeviceState builds the payload for ev.
func NewDeviceState(ev device.Event) DeviceState {
	value, previous := ev.Formatted()
	state := DeviceState{
		DeviceID:  ev.DeviceID,
		Adapter:   ev.AdapterID,
		Reference: ev.Reference,
		Label:     ev.Label,
		Kind:      ev.Kind,
		Value:     value,
		Previous:  previous,
		Source:    ev.Source.String(),
		Timestamp: ev.At.UTC(),
	}
	if kind, err := device.KindByName(string(ev.Kind)); err == nil && kind.Numeric() {
		state.Value = ev.Value
	}
	return state
}

// StatePublisher mirrors device values to retained MQTT topics so
// dashboards and other services see the latest value on subscribe.
type StatePublisher struct {
	client Publisher
	logger Logger
}

// NewStatePublisher creates a StatePublisher. logger may be nil.
func NewStatePublisher(client Publisher, logger Logger) *StatePublisher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &StatePublisher{client: client, logger: logger}
}

// HandleEvent implements device.Handler.
//
// Events arriving while the broker is unreachable are dropped; the next
// change of the device publishes its state again.
func (p *StatePublisher) HandleEvent(_ context.Context, ev device.Event) error {
	if !p.client.IsConnected() {
		p.logger.Debug("device state not published, broker unreachable", "device", ev.DeviceID)
		return nil
	}

	payload, err := json.Marshal(NewDeviceState(ev))
	if err != nil {
		return fmt.Errorf("encoding device %d state: %w", ev.DeviceID, err)
	}
	if err := p.client.PublishDeviceState(ev.DeviceID, payload); err != nil {
		return fmt.Errorf("publishing device %d state: %w", ev.DeviceID, err)
	}
	return nil
}
