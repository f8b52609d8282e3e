// Package virtual provides an in-process adapter whose devices have no
// hardware behind them. Every accepted update is applied immediately.
//
// Virtual devices hold values set by scripts, timers or the API (flags,
// setpoints, computed counters) and are declared from configuration.
package virtual

import (
	"context"

	"github.com/nerrad567/gray-logic-hub/internal/adapter"
	"github.com/nerrad567/gray-logic-hub/internal/device"
)

// ID is the adapter ID of the virtual adapter.
const ID = "virtual"

// Adapter is the virtual device adapter.
type Adapter struct {
	*adapter.Base
	registry *device.Registry
}

// New creates a virtual adapter in the init state.
func New(registry *device.Registry, opts adapter.Options) *Adapter {
	return &Adapter{
		Base:     adapter.NewBase(ID, opts),
		registry: registry,
	}
}

// Start declares decls and moves the adapter to ready. Devices that fail
// to declare are reported in the error; the rest stay usable.
func (a *Adapter) Start(ctx context.Context, decls []device.Declaration) ([]*device.Device, error) {
	devices, err := adapter.DeclareAll(ctx, a.registry, a, decls)
	a.SetState(device.StateReady)
	return devices, err
}

// Stop disables the adapter and releases its devices.
func (a *Adapter) Stop() {
	a.SetState(device.StateDisabled)
	a.registry.Release(ID)
}

// UpdateDevice implements device.Adapter. Virtual devices apply every
// update unless the adapter is disabled.
func (a *Adapter) UpdateDevice(_ context.Context, _ device.UpdateSource, _ *device.Device, _ any) (bool, error) {
	if a.State() == device.StateDisabled {
		return false, adapter.ErrDisabled
	}
	return true, nil
}

var _ device.Adapter = (*Adapter)(nil)
