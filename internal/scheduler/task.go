package scheduler

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"
)

// Infinite is the repeat count for tasks that repeat until erased.
const Infinite = ^uint(0)

// Func is the unit of work executed by a task.
//
// The context is cancelled when the scheduler stops. The task itself is
// passed so the closure can inspect its iteration or end its own repeat
// sequence with Stop.
type Func func(ctx context.Context, t *Task) (any, error)

// taskState tracks where a task currently lives.
type taskState int

const (
	statePending taskState = iota
	stateActive
	stateRetired
)

// Task is a scheduled unit of work and the handle returned to its owner.
//
// Scheduling fields are guarded by the owning Scheduler's mutex; the result
// slot has its own lock so Await never contends with the queue.
type Task struct {
	id    uint64
	owner any
	label string
	fn    Func
	sched *Scheduler

	// Guarded by sched.mu.
	due       time.Time
	delay     time.Duration
	repeat    uint
	iteration uint
	seq       uint64
	index     int
	state     taskState
	cancelled bool
	stopped   bool
	proceed   *time.Duration

	resMu     sync.Mutex
	result    any
	err       error
	hasResult bool
	first     chan struct{}
	firstOnce sync.Once
}

// Meta is a snapshot of task metadata handed to Erase and FirstMatching
// predicates.
type Meta struct {
	ID        uint64
	Owner     any
	Label     string
	Due       time.Time
	Delay     time.Duration
	Repeat    uint
	Iteration uint
	Active    bool
}

// Predicate selects tasks by their metadata.
type Predicate func(Meta) bool

// ByOwner matches every task whose owner tag equals owner. An owner of a
// non-comparable type (slice, map, func) matches nothing.
func ByOwner(owner any) Predicate {
	return func(m Meta) bool {
		return sameOwner(m.Owner, owner)
	}
}

// ByLabel matches every task owned by owner with the given label.
func ByLabel(owner any, label string) Predicate {
	return func(m Meta) bool {
		return m.Label == label && sameOwner(m.Owner, owner)
	}
}

// sameOwner compares owner tags without panicking on non-comparable types.
func sameOwner(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

// ID returns the task's unique identifier within its scheduler.
func (t *Task) ID() uint64 {
	return t.id
}

// Owner returns the opaque owner tag the task was scheduled with.
func (t *Task) Owner() any {
	return t.owner
}

// Label returns the human-readable task label.
func (t *Task) Label() string {
	return t.label
}

// Iteration returns the number of completed runs.
func (t *Task) Iteration() uint {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	return t.iteration
}

// Stop ends the repeat sequence. A running task finishes its current run
// and is retired; a pending task runs once more and is then retired.
func (t *Task) Stop() {
	t.sched.mu.Lock()
	t.stopped = true
	t.sched.mu.Unlock()
}

// Proceed overrides the next due time once: the task is requeued wait after
// the current run completes instead of after its regular delay.
func (t *Task) Proceed(wait time.Duration) {
	t.sched.mu.Lock()
	t.proceed = &wait
	t.sched.mu.Unlock()
}

// Await blocks until the task has produced its first result and returns the
// latest one. Later calls return immediately.
//
// Parameters:
//   - ctx: Context bounding the wait
//
// Returns:
//   - any: The latest value returned by the closure
//   - error: The closure's error, ErrTaskCancelled if the task was erased
//     before it ever ran, or the context error
func (t *Task) Await(ctx context.Context) (any, error) {
	select {
	case <-t.first:
	case <-ctx.Done():
		return nil, fmt.Errorf("awaiting task %q: %w", t.label, ctx.Err())
	}
	t.resMu.Lock()
	defer t.resMu.Unlock()
	return t.result, t.err
}

// AwaitFor reports whether a result became available within timeout.
func (t *Task) AwaitFor(timeout time.Duration) bool {
	select {
	case <-t.first:
		return true
	default:
	}
	timer := t.sched.clock.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.first:
		return true
	case <-timer.Chan():
		return false
	}
}

// Result returns the latest result without blocking. The final return
// value is false while the task has not completed a run.
func (t *Task) Result() (any, error, bool) {
	t.resMu.Lock()
	defer t.resMu.Unlock()
	return t.result, t.err, t.hasResult
}

// AwaitValue awaits the task and asserts the result to T.
func AwaitValue[T any](ctx context.Context, t *Task) (T, error) {
	var zero T
	v, err := t.Await(ctx)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("task %q returned %T, want %T", t.label, v, zero)
	}
	return typed, nil
}

// setResult stores a completed run's result and releases first-result waiters.
func (t *Task) setResult(result any, err error) {
	t.resMu.Lock()
	t.result = result
	t.err = err
	t.hasResult = true
	t.resMu.Unlock()
	t.firstOnce.Do(func() { close(t.first) })
}

// abandon releases waiters of a task that retired without ever running.
func (t *Task) abandon(err error) {
	t.resMu.Lock()
	if !t.hasResult {
		t.err = err
	}
	t.resMu.Unlock()
	t.firstOnce.Do(func() { close(t.first) })
}

// metaLocked snapshots the task. Caller holds sched.mu.
func (t *Task) metaLocked() Meta {
	return Meta{
		ID:        t.id,
		Owner:     t.owner,
		Label:     t.label,
		Due:       t.due,
		Delay:     t.delay,
		Repeat:    t.repeat,
		Iteration: t.iteration,
		Active:    t.state == stateActive,
	}
}
