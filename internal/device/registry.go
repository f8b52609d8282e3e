package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nerrad567/gray-logic-hub/internal/scheduler"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// noopHistory discards values and never has a starting value.
type noopHistory struct{}

func (noopHistory) AppendOrMerge(context.Context, int64, Kind, any, time.Time) error { return nil }
func (noopHistory) ReadLatest(context.Context, int64, Kind) (any, time.Time, bool, error) {
	return nil, time.Time{}, false, nil
}

// Options wires the registry's collaborators.
type Options struct {
	// Scheduler runs rate-limit deferrals. Required.
	Scheduler *scheduler.Scheduler

	// Repository persists device identity. Default: in-memory.
	Repository Repository

	// History persists values and provides starting values. Optional.
	History History

	// Publisher receives applied value changes. Default: a new EventBus.
	Publisher Publisher

	// Diagnostics receives rejected outcomes. Optional.
	Diagnostics Diagnostics

	// Metrics receives pipeline outcomes. Optional.
	Metrics Metrics

	// Logger receives pipeline logs. Optional.
	Logger Logger
}

// refKey identifies a device within its adapter.
type refKey struct {
	adapter   string
	reference string
}

// Registry is the live device catalogue and the shared state of the update
// pipeline every device runs through.
//
// All public methods are thread-safe.
type Registry struct {
	sched       *scheduler.Scheduler
	clock       clockwork.Clock
	repo        Repository
	history     History
	publisher   Publisher
	diagnostics Diagnostics
	metrics     Metrics
	logger      Logger

	// declMu serialises Declare so two declarations of a new reference do
	// not both create a record. mu guards only the maps.
	declMu sync.Mutex
	mu     sync.RWMutex
	byID   map[int64]*Device
	byRef  map[refKey]*Device
}

// NewRegistry creates a device registry.
func NewRegistry(opts Options) *Registry {
	if opts.Repository == nil {
		opts.Repository = NewMemoryRepository()
	}
	if opts.History == nil {
		opts.History = noopHistory{}
	}
	if opts.Publisher == nil {
		opts.Publisher = NewEventBus()
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	return &Registry{
		sched:       opts.Scheduler,
		clock:       opts.Scheduler.Clock(),
		repo:        opts.Repository,
		history:     opts.History,
		publisher:   opts.Publisher,
		diagnostics: opts.Diagnostics,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		byID:        make(map[int64]*Device),
		byRef:       make(map[refKey]*Device),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Publisher returns the event publisher devices write to.
func (r *Registry) Publisher() Publisher {
	return r.publisher
}

// Declare creates or returns the device an adapter exposes under
// decl.Reference. Declaring the same reference again returns the existing
// device with the new label and settings applied.
//
// A new device gets its id from the repository, so ids survive restarts,
// and its starting value from the latest history row.
//
// Parameters:
//   - ctx: Context for repository and history reads
//   - adapter: The owning adapter
//   - decl: Reference, label, kind and settings
//
// Returns:
//   - *Device: The live device
//   - error: ErrInvalidDevice for incomplete declarations, ErrDeviceExists if
//     the reference was declared with a different kind
func (r *Registry) Declare(ctx context.Context, adapter Adapter, decl Declaration) (*Device, error) {
	if adapter == nil || decl.Reference == "" || decl.Kind == nil {
		return nil, fmt.Errorf("%w: adapter, reference and kind are required", ErrInvalidDevice)
	}
	label := decl.Label
	if label == "" {
		label = decl.Reference
	}
	key := refKey{adapter: adapter.ID(), reference: decl.Reference}

	r.declMu.Lock()
	defer r.declMu.Unlock()

	r.mu.RLock()
	existing, ok := r.byRef[key]
	r.mu.RUnlock()
	if ok {
		if existing.kind.Name() != decl.Kind.Name() {
			return nil, fmt.Errorf("%w: %s/%s is a %s", ErrDeviceExists, key.adapter, key.reference, existing.kind.Name())
		}
		existing.mu.Lock()
		existing.label = label
		existing.settings = decl.Settings
		existing.mu.Unlock()
		return existing, nil
	}

	rec, err := r.repo.GetByReference(ctx, key.adapter, key.reference)
	switch {
	case errors.Is(err, ErrDeviceNotFound):
		rec = &Record{AdapterID: key.adapter, Reference: key.reference, Label: label, Kind: decl.Kind.Name()}
		if err := r.repo.Create(ctx, rec); err != nil {
			return nil, fmt.Errorf("creating device record: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("loading device record: %w", err)
	case rec.Kind != decl.Kind.Name():
		return nil, fmt.Errorf("%w: %s/%s is stored as %s", ErrDeviceExists, key.adapter, key.reference, rec.Kind)
	case rec.Label != label:
		if err := r.repo.UpdateLabel(ctx, rec.ID, label); err != nil {
			return nil, fmt.Errorf("updating device label: %w", err)
		}
	}

	dev := &Device{
		id:        rec.ID,
		reference: key.reference,
		kind:      decl.Kind,
		adapter:   adapter,
		reg:       r,
		label:     label,
		settings:  decl.Settings,
		enabled:   true,
		value:     decl.Kind.Zero(),
		updated:   r.clock.Now(),
	}
	r.restore(ctx, dev)
	dev.previous = dev.value

	r.mu.Lock()
	r.byID[dev.id] = dev
	r.byRef[key] = dev
	r.mu.Unlock()

	r.logger.Debug("device declared", "id", dev.id, "adapter", key.adapter, "reference", key.reference, "kind", string(decl.Kind.Name()))
	return dev, nil
}

// restore loads the starting value from history.
func (r *Registry) restore(ctx context.Context, dev *Device) {
	raw, at, ok, err := r.history.ReadLatest(ctx, dev.id, dev.kind)
	if err != nil {
		r.logger.Warn("reading starting value failed", "device", dev.id, "error", err)
		return
	}
	if !ok {
		r.logger.Debug("no starting value", "device", dev.id)
		return
	}
	value, err := dev.kind.Convert(raw)
	if err != nil {
		r.logger.Warn("stored value does not match kind", "device", dev.id, "error", err)
		return
	}
	if value == OptionActivate {
		value = OptionIdle
	}
	dev.value = value
	dev.updated = at
}

// Get returns the device with the given id.
func (r *Registry) Get(id int64) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dev, ok := r.byID[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return dev, nil
}

// Lookup returns the device an adapter declared under reference.
func (r *Registry) Lookup(adapterID, reference string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dev, ok := r.byRef[refKey{adapter: adapterID, reference: reference}]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return dev, nil
}

// List returns every live device ordered by id.
func (r *Registry) List() []*Device {
	r.mu.RLock()
	devices := make([]*Device, 0, len(r.byID))
	for _, dev := range r.byID {
		devices = append(devices, dev)
	}
	r.mu.RUnlock()

	sort.Slice(devices, func(i, j int) bool { return devices[i].id < devices[j].id })
	return devices
}

// ListByAdapter returns the devices owned by an adapter ordered by id.
func (r *Registry) ListByAdapter(adapterID string) []*Device {
	var devices []*Device
	for _, dev := range r.List() {
		if dev.adapter.ID() == adapterID {
			devices = append(devices, dev)
		}
	}
	return devices
}

// Release drops an adapter's devices from the live catalogue and erases
// their deferred rate-limit tasks. Records stay in the repository so ids
// are reused on the next declaration.
//
// Returns:
//   - int: Number of devices released
func (r *Registry) Release(adapterID string) int {
	r.mu.Lock()
	var released []*Device
	for key, dev := range r.byRef {
		if key.adapter == adapterID {
			released = append(released, dev)
			delete(r.byRef, key)
			delete(r.byID, dev.id)
		}
	}
	r.mu.Unlock()

	for _, dev := range released {
		r.sched.Erase(scheduler.ByOwner(dev))
		dev.mu.Lock()
		dev.limiter.task = nil
		dev.mu.Unlock()
	}
	if len(released) > 0 {
		r.logger.Info("adapter devices released", "adapter", adapterID, "count", len(released))
	}
	return len(released)
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalDevices int
	ByKind       map[KindName]int
	ByAdapter    map[string]int
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		TotalDevices: len(r.byID),
		ByKind:       make(map[KindName]int),
		ByAdapter:    make(map[string]int),
	}
	for _, dev := range r.byID {
		stats.ByKind[dev.kind.Name()]++
		stats.ByAdapter[dev.adapter.ID()]++
	}
	return stats
}
