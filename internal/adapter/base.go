package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/device"
	"github.com/nerrad567/gray-logic-hub/internal/pending"
)

// Logger defines the logging interface used by adapters.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Base.
type Options struct {
	// Pending is the shared Pending-Update Registry. Required by adapters
	// that confirm updates later.
	Pending *pending.Registry

	// BlockWindow bounds how long Acquire waits for a busy reference.
	// Default: pending.DefaultBlockWindow.
	BlockWindow time.Duration

	// WaitWindow is how long an unconfirmed entry stays busy.
	// Default: pending.DefaultWaitWindow.
	WaitWindow time.Duration

	// Logger receives state transitions. Optional.
	Logger Logger
}

// StateFunc is notified after the adapter state changes.
type StateFunc func(from, to device.AdapterState)

// Base implements the lifecycle state and the pending helpers shared by
// adapters. Adapters embed it to satisfy the ID and State methods of
// device.Adapter.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Base struct {
	id      string
	pending *pending.Registry
	block   time.Duration
	wait    time.Duration
	logger  Logger

	mu        sync.RWMutex
	state     device.AdapterState
	listeners []StateFunc
}

// NewBase creates a Base in StateInit.
func NewBase(id string, opts Options) *Base {
	if opts.BlockWindow <= 0 {
		opts.BlockWindow = pending.DefaultBlockWindow
	}
	if opts.WaitWindow <= 0 {
		opts.WaitWindow = pending.DefaultWaitWindow
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Base{
		id:      id,
		pending: opts.Pending,
		block:   opts.BlockWindow,
		wait:    opts.WaitWindow,
		logger:  opts.Logger,
		state:   device.StateInit,
	}
}

// ID returns the adapter ID.
func (b *Base) ID() string {
	return b.id
}

// State returns the current lifecycle state.
func (b *Base) State() device.AdapterState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// SetState moves the adapter to s and notifies listeners when it changed.
func (b *Base) SetState(s device.AdapterState) {
	b.transition(s, false)
}

// SetStateUnlessDisabled is SetState for adapters whose Disabled state is
// final: it does nothing once the adapter is Disabled.
//
// Returns:
//   - bool: false if the adapter was Disabled
func (b *Base) SetStateUnlessDisabled(s device.AdapterState) bool {
	return b.transition(s, true)
}

func (b *Base) transition(s device.AdapterState, keepDisabled bool) bool {
	b.mu.Lock()
	from := b.state
	if keepDisabled && from == device.StateDisabled {
		b.mu.Unlock()
		return false
	}
	if from == s {
		b.mu.Unlock()
		return true
	}
	b.state = s
	listeners := append([]StateFunc(nil), b.listeners...)
	b.mu.Unlock()

	b.logger.Info("adapter state changed", "adapter", b.id, "from", from.String(), "to", s.String())
	for _, fn := range listeners {
		fn(from, s)
	}
	return true
}

// OnStateChange registers fn for every state change.
func (b *Base) OnStateChange(fn StateFunc) {
	b.mu.Lock()
	b.listeners = append(b.listeners, fn)
	b.mu.Unlock()
}

// Windows returns the configured block and wait windows.
func (b *Base) Windows() (block, wait time.Duration) {
	return b.block, b.wait
}

// Key returns the registry reference for one of this adapter's devices.
func (b *Base) Key(reference string) string {
	return b.id + "/" + reference
}

// Acquire takes the pending entry for reference, waiting up to the block
// window while another update to it is in flight.
func (b *Base) Acquire(ctx context.Context, reference string, source device.UpdateSource, payload any) bool {
	return b.pending.Acquire(ctx, b.Key(reference), source, payload, b.block, b.wait)
}

// Release clears the pending entry for reference and returns what Acquire
// recorded. ok is false for an unsolicited report.
func (b *Base) Release(reference string) (source device.UpdateSource, payload any, ok bool) {
	return b.pending.Release(b.Key(reference))
}

// Peek returns the pending entry for reference without clearing it.
func (b *Base) Peek(reference string) (source device.UpdateSource, payload any, ok bool) {
	return b.pending.Peek(b.Key(reference))
}

// DuplicateReport reports whether the same value was already reported for
// reference within window. The first report in a window returns false.
func (b *Base) DuplicateReport(reference, value string, window time.Duration) bool {
	if window <= 0 {
		return false
	}
	return !b.pending.TryAcquire(pending.DuplicateKey(b.Key(reference), value), device.SourceHardware, nil, window)
}

// GuardRace records value as the one automation last set on reference.
// A newer guard replaces an older one.
func (b *Base) GuardRace(reference string, source device.UpdateSource, value any) {
	key := pending.RaceKey(b.Key(reference))
	for i := 0; i < 2; i++ {
		if b.pending.TryAcquire(key, source, value, b.wait) {
			return
		}
		b.pending.Release(key)
	}
	b.logger.Warn("race guard not taken", "adapter", b.id, "reference", reference)
}

// RaceGuard returns the value guarded by GuardRace, if still in force.
func (b *Base) RaceGuard(reference string) (source device.UpdateSource, value any, ok bool) {
	return b.pending.Peek(pending.RaceKey(b.Key(reference)))
}

// ClearRaceGuard drops the guard on reference, if any.
func (b *Base) ClearRaceGuard(reference string) {
	key := pending.RaceKey(b.Key(reference))
	if _, _, ok := b.pending.Peek(key); ok {
		b.pending.Release(key)
	}
}

// OnUnconfirmed registers fn for entries of this adapter that expire
// without a confirmation. The returned function removes it.
func (b *Base) OnUnconfirmed(fn func(reference string, source device.UpdateSource, payload any)) (cancel func()) {
	prefix := b.id + "/"
	return b.pending.OnExpire(prefix, func(ref string, source device.UpdateSource, payload any) {
		fn(strings.TrimPrefix(ref, prefix), source, payload)
	})
}

// DeclareAll declares every decl on reg as a device of a.
//
// Returns:
//   - []*device.Device: The devices declared successfully, in order
//   - error: Every failed declaration, joined
func DeclareAll(ctx context.Context, reg *device.Registry, a device.Adapter, decls []device.Declaration) ([]*device.Device, error) {
	devices := make([]*device.Device, 0, len(decls))
	var errs []error
	for _, decl := range decls {
		d, err := reg.Declare(ctx, a, decl)
		if err != nil {
			errs = append(errs, fmt.Errorf("declaring %s/%s: %w", a.ID(), decl.Reference, err))
			continue
		}
		devices = append(devices, d)
	}
	return devices, errors.Join(errs...)
}
