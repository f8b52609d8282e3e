package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/scheduler"
)

// fakeAdapter is a test Adapter with a configurable answer.
type fakeAdapter struct {
	id string

	mu    sync.Mutex
	state AdapterState
	apply bool
	err   error
	calls []any
}

func newFakeAdapter(id string) *fakeAdapter {
	return &fakeAdapter{id: id, state: StateReady, apply: true}
}

func (a *fakeAdapter) ID() string { return a.id }

func (a *fakeAdapter) State() AdapterState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *fakeAdapter) setState(s AdapterState) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

func (a *fakeAdapter) answer(apply bool, err error) {
	a.mu.Lock()
	a.apply = apply
	a.err = err
	a.mu.Unlock()
}

func (a *fakeAdapter) UpdateDevice(_ context.Context, _ UpdateSource, _ *Device, value any) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, value)
	return a.apply, a.err
}

func (a *fakeAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

// historyRow is a stored sample in memHistory.
type historyRow struct {
	deviceID int64
	value    any
	at       time.Time
}

// memHistory is a test History that keeps every appended row.
type memHistory struct {
	mu      sync.Mutex
	rows    []historyRow
	latest  map[int64]historyRow
	failErr error
}

func newMemHistory() *memHistory {
	return &memHistory{latest: make(map[int64]historyRow)}
}

func (h *memHistory) AppendOrMerge(_ context.Context, deviceID int64, _ Kind, value any, at time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failErr != nil {
		return h.failErr
	}
	row := historyRow{deviceID: deviceID, value: value, at: at}
	h.rows = append(h.rows, row)
	h.latest[deviceID] = row
	return nil
}

func (h *memHistory) ReadLatest(_ context.Context, deviceID int64, _ Kind) (any, time.Time, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	row, ok := h.latest[deviceID]
	return row.value, row.at, ok, nil
}

func (h *memHistory) rowsFor(deviceID int64) []historyRow {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []historyRow
	for _, r := range h.rows {
		if r.deviceID == deviceID {
			out = append(out, r)
		}
	}
	return out
}

// diagRecorder collects diagnostics.
type diagRecorder struct {
	mu    sync.Mutex
	diags []Diagnostic
}

func (r *diagRecorder) RecordDiagnostic(_ context.Context, d Diagnostic) {
	r.mu.Lock()
	r.diags = append(r.diags, d)
	r.mu.Unlock()
}

func (r *diagRecorder) outcomes() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Outcome, len(r.diags))
	for i, d := range r.diags {
		out[i] = d.Outcome
	}
	return out
}

// eventSink collects published events.
type eventSink struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func newEventSink(bus *EventBus) *eventSink {
	s := &eventSink{ch: make(chan Event, 64)}
	bus.Subscribe(func(_ context.Context, ev Event) error {
		s.mu.Lock()
		s.events = append(s.events, ev)
		s.mu.Unlock()
		s.ch <- ev
		return nil
	})
	return s
}

func (s *eventSink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// testEnv bundles a registry with its fakes.
type testEnv struct {
	sched   *scheduler.Scheduler
	reg     *Registry
	history *memHistory
	bus     *EventBus
	events  *eventSink
	diags   *diagRecorder
	adapter *fakeAdapter
}

func newTestEnv(t *testing.T, opts scheduler.Options) *testEnv {
	t.Helper()
	sched := scheduler.New(opts)
	sched.Start()
	t.Cleanup(sched.Stop)

	env := &testEnv{
		sched:   sched,
		history: newMemHistory(),
		bus:     NewEventBus(),
		diags:   &diagRecorder{},
		adapter: newFakeAdapter("test"),
	}
	env.events = newEventSink(env.bus)
	env.reg = NewRegistry(Options{
		Scheduler:   sched,
		History:     env.history,
		Publisher:   env.bus,
		Diagnostics: env.diags,
	})
	return env
}

func (e *testEnv) declare(t *testing.T, ref string, kind Kind, s Settings) *Device {
	t.Helper()
	dev, err := e.reg.Declare(context.Background(), e.adapter, Declaration{Reference: ref, Kind: kind, Settings: s})
	if err != nil {
		t.Fatalf("Declare() error = %v", err)
	}
	return dev
}

func ptr[T any](v T) *T { return &v }

var errAdapterOffline = errors.New("adapter offline")
