package pending

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nerrad567/gray-logic-hub/internal/device"
	"github.com/nerrad567/gray-logic-hub/internal/scheduler"
)

// Default windows used by adapters that do not configure their own.
const (
	DefaultBlockWindow = 3 * time.Second
	DefaultWaitWindow  = 30 * time.Second
)

// Logger defines the logging interface used by the Registry.
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

// Metrics receives registry instrumentation.
type Metrics interface {
	PendingAcquired()
	PendingBusy()
	PendingReleased()
	PendingStale()
	PendingExpired()
}

type noopMetrics struct{}

func (noopMetrics) PendingAcquired() {}
func (noopMetrics) PendingBusy()     {}
func (noopMetrics) PendingReleased() {}
func (noopMetrics) PendingStale()    {}
func (noopMetrics) PendingExpired()  {}

// Options configures a Registry.
type Options struct {
	Metrics Metrics
	Logger  Logger
}

// entry is the correlation slot for one reference.
type entry struct {
	busy    bool
	source  device.UpdateSource
	payload any
	expires time.Time
	gen     uint64
	expiry  *scheduler.Task

	// transient entries are dropped from the map once cleared.
	transient bool

	// free is closed when the entry is cleared and replaced on the next
	// acquire.
	free chan struct{}
}

// ExpireFunc is notified when an entry is force-cleared because nobody
// released it within its wait window.
type ExpireFunc func(ref string, source device.UpdateSource, payload any)

type expireWatcher struct {
	id     int
	prefix string
	fn     ExpireFunc
}

// Registry is the Pending-Update Registry.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - The lock guards only the entry map; Acquire waits outside it.
type Registry struct {
	sched   *scheduler.Scheduler
	clock   clockwork.Clock
	metrics Metrics
	logger  Logger

	mu      sync.Mutex
	entries map[string]*entry
	gen     uint64

	watchMu  sync.RWMutex
	watchers []expireWatcher
	watchID  int
}

// New creates a registry whose expiry tasks run on sched.
func New(sched *scheduler.Scheduler, opts Options) *Registry {
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Registry{
		sched:   sched,
		clock:   sched.Clock(),
		metrics: opts.Metrics,
		logger:  opts.Logger,
		entries: make(map[string]*entry),
	}
}

// Acquire marks ref busy for the caller.
//
// If the entry is free it is taken immediately and an expiry task clears it
// after wait unless it is released first. If it is busy, Acquire blocks up
// to block for it to become free.
//
// Parameters:
//   - ctx: Context bounding the wait
//   - ref: Target reference
//   - source: Source of the update being driven
//   - payload: Correlation payload, usually the value being driven
//   - block: How long to wait for a busy entry; zero fails immediately
//   - wait: How long the entry stays busy without a Release
//
// Returns:
//   - bool: true if the caller now owns the entry; false if the target
//     stayed busy (ErrTargetBusy) or ctx ended
func (r *Registry) Acquire(ctx context.Context, ref string, source device.UpdateSource, payload any, block, wait time.Duration) bool {
	deadline := r.clock.Now().Add(block)

	for {
		r.mu.Lock()
		e, ok := r.entries[ref]
		if !ok {
			e = &entry{}
			r.entries[ref] = e
		}
		if !e.busy {
			r.takeLocked(ref, e, source, payload, wait)
			r.mu.Unlock()
			r.metrics.PendingAcquired()
			r.logger.Debug("pending update acquired", "reference", ref, "source", source.String(), "wait", wait)
			return true
		}
		free := e.free
		r.mu.Unlock()

		remaining := deadline.Sub(r.clock.Now())
		if remaining <= 0 {
			r.busy(ref, source)
			return false
		}

		timer := r.clock.NewTimer(remaining)
		select {
		case <-free:
			timer.Stop()
		case <-timer.Chan():
			r.busy(ref, source)
			return false
		case <-ctx.Done():
			timer.Stop()
			return false
		}
	}
}

// TryAcquire takes ref only if it is free, without waiting and without
// counting a busy outcome. Adapters use it for short-lived filters where a
// busy entry is the expected answer.
func (r *Registry) TryAcquire(ref string, source device.UpdateSource, payload any, wait time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[ref]
	if !ok {
		e = &entry{}
		r.entries[ref] = e
	}
	if e.busy {
		return false
	}
	r.takeLocked(ref, e, source, payload, wait)
	e.transient = true
	return true
}

// takeLocked marks e busy and schedules its expiry. Caller holds r.mu.
func (r *Registry) takeLocked(ref string, e *entry, source device.UpdateSource, payload any, wait time.Duration) {
	r.gen++
	gen := r.gen
	e.gen = gen
	e.busy = true
	e.transient = false
	e.source = source
	e.payload = payload
	e.expires = r.clock.Now().Add(wait)
	e.free = make(chan struct{})
	e.expiry = r.sched.Schedule(wait, 1, r, "pending-expiry", func(context.Context, *scheduler.Task) (any, error) {
		r.expire(ref, gen)
		return nil, nil
	})
}

// expire force-clears ref if it is still held by the acquisition gen.
func (r *Registry) expire(ref string, gen uint64) {
	r.mu.Lock()
	e, ok := r.entries[ref]
	if !ok || !e.busy || e.gen != gen {
		r.mu.Unlock()
		return
	}
	source, payload, transient := e.source, e.payload, e.transient
	r.clearLocked(ref, e)
	r.mu.Unlock()

	r.metrics.PendingExpired()
	r.logger.Debug("pending update expired", "reference", ref, "source", source.String())
	if transient {
		return
	}

	r.watchMu.RLock()
	var notify []ExpireFunc
	for _, w := range r.watchers {
		if strings.HasPrefix(ref, w.prefix) {
			notify = append(notify, w.fn)
		}
	}
	r.watchMu.RUnlock()
	for _, fn := range notify {
		fn(ref, source, payload)
	}
}

// OnExpire registers fn for every Acquire-d entry under prefix that expires
// without a Release. TryAcquire entries never notify. The returned function
// removes the watcher.
func (r *Registry) OnExpire(prefix string, fn ExpireFunc) (cancel func()) {
	r.watchMu.Lock()
	defer r.watchMu.Unlock()
	r.watchID++
	id := r.watchID
	r.watchers = append(r.watchers, expireWatcher{id: id, prefix: prefix, fn: fn})

	return func() {
		r.watchMu.Lock()
		defer r.watchMu.Unlock()
		kept := r.watchers[:0]
		for _, w := range r.watchers {
			if w.id != id {
				kept = append(kept, w)
			}
		}
		r.watchers = kept
	}
}

// clearLocked frees e and wakes its waiters. Caller holds r.mu.
func (r *Registry) clearLocked(ref string, e *entry) {
	e.busy = false
	e.payload = nil
	e.source = 0
	e.expiry = nil
	close(e.free)
	if e.transient {
		delete(r.entries, ref)
	}
}

func (r *Registry) busy(ref string, source device.UpdateSource) {
	r.metrics.PendingBusy()
	r.logger.Warn("pending update target busy", "reference", ref, "source", source.String(), "error", ErrTargetBusy)
}

// Release clears ref and wakes one round of waiters.
//
// Returns:
//   - device.UpdateSource: Source recorded by Acquire
//   - any: Payload recorded by Acquire
//   - bool: false if nothing was in flight for ref (ErrStaleConfirmation)
func (r *Registry) Release(ref string) (device.UpdateSource, any, bool) {
	r.mu.Lock()
	e, ok := r.entries[ref]
	if !ok || !e.busy {
		r.mu.Unlock()
		r.metrics.PendingStale()
		r.logger.Debug("no pending update to release", "reference", ref, "error", ErrStaleConfirmation)
		return 0, nil, false
	}
	source, payload, expiry := e.source, e.payload, e.expiry
	r.clearLocked(ref, e)
	r.mu.Unlock()

	if expiry != nil {
		id := expiry.ID()
		r.sched.Erase(func(m scheduler.Meta) bool { return m.ID == id })
	}
	r.metrics.PendingReleased()
	r.logger.Debug("pending update released", "reference", ref, "source", source.String())
	return source, payload, true
}

// Peek returns what Release would return without clearing the entry.
func (r *Registry) Peek(ref string) (device.UpdateSource, any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[ref]
	if !ok || !e.busy {
		return 0, nil, false
	}
	return e.source, e.payload, true
}

// Expires returns when a busy entry will be force-cleared.
func (r *Registry) Expires(ref string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[ref]
	if !ok || !e.busy {
		return time.Time{}, false
	}
	return e.expires, true
}

// Busy returns the number of entries currently in flight.
func (r *Registry) Busy() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.busy {
			n++
		}
	}
	return n
}

// Close erases every expiry task and frees every entry.
func (r *Registry) Close() {
	r.sched.Erase(scheduler.ByOwner(r))

	r.mu.Lock()
	defer r.mu.Unlock()
	for ref, e := range r.entries {
		if e.busy {
			r.clearLocked(ref, e)
		}
	}
}

// DuplicateKey is the reference used to filter repeated hardware reports
// carrying the same value within a short window.
func DuplicateKey(ref, value string) string {
	return ref + "_df_" + value
}

// RaceKey is the reference guarding a value set by automation against a
// contradicting unsolicited report.
func RaceKey(ref string) string {
	return ref + "_race"
}
