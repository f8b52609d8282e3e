package device

import (
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/scheduler"
)

// Record is the persisted identity of a device.
// This matches the devices table in migrations/20260301_090000_devices.up.sql.
type Record struct {
	ID        int64     `json:"id"`
	AdapterID string    `json:"adapter"`
	Reference string    `json:"reference"`
	Label     string    `json:"label"`
	Kind      KindName  `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// Declaration describes a device an adapter wants to expose.
type Declaration struct {
	Reference string
	Label     string
	Kind      Kind
	Settings  Settings
}

// Device is a live device owned by an adapter. Its value only changes
// through UpdateValue.
//
// Identity fields are immutable; everything else is guarded by mu, which
// is never held across adapter calls, persistence or publishing.
type Device struct {
	id        int64
	reference string
	kind      Kind
	adapter   Adapter
	reg       *Registry

	mu         sync.Mutex
	label      string
	settings   Settings
	enabled    bool
	value      any
	previous   any
	updated    time.Time
	lastSource UpdateSource
	limiter    rateLimiter
}

// rateLimiter holds the latest value requested inside a rate-limit window
// and the deferred task that will apply it.
type rateLimiter struct {
	value  any
	source UpdateSource
	task   *scheduler.Task
}

// Snapshot is a consistent point-in-time copy of a device.
type Snapshot struct {
	ID         int64        `json:"id"`
	Reference  string       `json:"reference"`
	AdapterID  string       `json:"adapter"`
	Label      string       `json:"label"`
	Kind       KindName     `json:"kind"`
	Enabled    bool         `json:"enabled"`
	Value      any          `json:"value"`
	Previous   any          `json:"previous"`
	Updated    time.Time    `json:"updated"`
	LastSource UpdateSource `json:"last_source"`
	Settings   Settings     `json:"settings"`
}

// ID returns the device's stable numeric id.
func (d *Device) ID() int64 { return d.id }

// Reference returns the device's reference, unique within its adapter.
func (d *Device) Reference() string { return d.reference }

// Kind returns the device's value kind.
func (d *Device) Kind() Kind { return d.kind }

// Adapter returns the owning adapter.
func (d *Device) Adapter() Adapter { return d.adapter }

// Label returns the human-readable label.
func (d *Device) Label() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.label
}

// Value returns the current value in the kind's native type.
func (d *Device) Value() any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.value
}

// FormattedValue returns the current value rendered by the device kind.
func (d *Device) FormattedValue() string {
	return d.kind.Format(d.Value())
}

// Previous returns the value replaced by the last applied update.
func (d *Device) Previous() any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.previous
}

// Updated returns when the last update was applied.
func (d *Device) Updated() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.updated
}

// LastSource returns the source of the last applied update.
func (d *Device) LastSource() UpdateSource {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastSource
}

// Settings returns a copy of the device settings.
func (d *Device) Settings() Settings {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settings
}

// SetSettings replaces the device settings.
func (d *Device) SetSettings(s Settings) {
	d.mu.Lock()
	d.settings = s
	d.mu.Unlock()
}

// Enabled reports whether the device accepts updates.
func (d *Device) Enabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

// SetEnabled enables or disables the device. Disabled devices drop every
// update.
func (d *Device) SetEnabled(enabled bool) {
	d.mu.Lock()
	d.enabled = enabled
	d.mu.Unlock()
}

// Snapshot returns a consistent copy of the device.
func (d *Device) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Snapshot{
		ID:         d.id,
		Reference:  d.reference,
		AdapterID:  d.adapter.ID(),
		Label:      d.label,
		Kind:       d.kind.Name(),
		Enabled:    d.enabled,
		Value:      d.value,
		Previous:   d.previous,
		Updated:    d.updated,
		LastSource: d.lastSource,
		Settings:   d.settings,
	}
}

// valuesEqual compares two values of the same kind.
func valuesEqual(a, b any) bool {
	return a == b
}
