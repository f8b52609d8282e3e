package virtual

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/gray-logic-hub/internal/adapter"
	"github.com/nerrad567/gray-logic-hub/internal/device"
	"github.com/nerrad567/gray-logic-hub/internal/scheduler"
)

func newRegistry(t *testing.T) (*device.Registry, *device.EventBus) {
	t.Helper()
	sched := scheduler.New(scheduler.Options{Workers: 1})
	sched.Start()
	t.Cleanup(sched.Stop)
	bus := device.NewEventBus()
	return device.NewRegistry(device.Options{Scheduler: sched, Publisher: bus}), bus
}

func TestStartDeclaresAndBecomesReady(t *testing.T) {
	reg, _ := newRegistry(t)
	a := New(reg, adapter.Options{})

	if a.State() != device.StateInit {
		t.Fatalf("State() = %v before Start, want init", a.State())
	}

	devices, err := a.Start(context.Background(), []device.Declaration{
		{Reference: "away-mode", Label: "Away mode", Kind: device.Switch},
		{Reference: "setpoint", Kind: device.Level},
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("Start() declared %d devices, want 2", len(devices))
	}
	if a.State() != device.StateReady {
		t.Errorf("State() = %v after Start, want ready", a.State())
	}
	if _, err := reg.Lookup(ID, "setpoint"); err != nil {
		t.Errorf("Lookup() error = %v", err)
	}
}

func TestUpdatesApplyImmediately(t *testing.T) {
	reg, bus := newRegistry(t)
	a := New(reg, adapter.Options{})
	devices, err := a.Start(context.Background(), []device.Declaration{{Reference: "setpoint", Kind: device.Level}})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var mu sync.Mutex
	var events []device.Event
	bus.Subscribe(func(_ context.Context, ev device.Event) error {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
		return nil
	})

	sp := devices[0]
	if !sp.UpdateValue(context.Background(), device.SourceAPI, 21.5) {
		t.Fatal("UpdateValue() = false")
	}
	if sp.Value() != 21.5 {
		t.Errorf("Value() = %v, want 21.5", sp.Value())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 || events[0].Source != device.SourceAPI || events[0].AdapterID != ID {
		t.Errorf("events = %+v, want one api event from the virtual adapter", events)
	}
}

func TestStopRejectsUpdatesAndReleasesDevices(t *testing.T) {
	reg, _ := newRegistry(t)
	a := New(reg, adapter.Options{})
	devices, _ := a.Start(context.Background(), []device.Declaration{{Reference: "flag", Kind: device.Switch}})

	a.Stop()

	if _, err := a.UpdateDevice(context.Background(), device.SourceAPI, devices[0], device.OptionOn); !errors.Is(err, adapter.ErrDisabled) {
		t.Errorf("UpdateDevice() after Stop error = %v, want ErrDisabled", err)
	}
	if devices[0].UpdateValue(context.Background(), device.SourceAPI, "on") {
		t.Error("UpdateValue() on a stopped adapter = true")
	}
	if _, err := reg.Lookup(ID, "flag"); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("Lookup() after Stop error = %v, want ErrDeviceNotFound", err)
	}
}
