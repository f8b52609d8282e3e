package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// defaultWorkers is the pool size used when Options.Workers is not set.
const defaultWorkers = 4

// Logger defines the logging interface used by the Scheduler.
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

// Observer is notified when a closure panics or returns an error.
type Observer interface {
	TaskFault(meta Meta, err error)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(meta Meta, err error)

// TaskFault implements Observer.
func (f ObserverFunc) TaskFault(meta Meta, err error) {
	f(meta, err)
}

// Metrics receives scheduler instrumentation.
type Metrics interface {
	TaskScheduled()
	TaskExecuted(label string, duration time.Duration)
	TaskFault(label string)
	QueueDepth(pending, active int)
}

type noopMetrics struct{}

func (noopMetrics) TaskScheduled()                     {}
func (noopMetrics) TaskExecuted(string, time.Duration) {}
func (noopMetrics) TaskFault(string)                   {}
func (noopMetrics) QueueDepth(int, int)                {}

// Options configures a Scheduler.
type Options struct {
	// Workers is the fixed worker pool size. Default: 4.
	Workers int

	// Clock drives due times and waits. Default: the real clock.
	Clock clockwork.Clock

	// Observer receives closure faults. Optional.
	Observer Observer

	// Metrics receives instrumentation. Optional.
	Metrics Metrics

	// Logger receives fault and lifecycle logs. Optional.
	Logger Logger
}

// Stats is a point-in-time view of the scheduler's queues.
type Stats struct {
	Pending int
	Active  int
}

// Scheduler executes tasks on a fixed pool of worker goroutines.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - The lock is held only across queue and active-set mutation, never
//     while a closure runs.
type Scheduler struct {
	clock    clockwork.Clock
	workers  int
	observer Observer
	metrics  Metrics
	logger   Logger

	mu      sync.Mutex
	queue   taskQueue
	active  map[*Task]struct{}
	nextID  uint64
	nextSeq uint64
	wake    chan struct{}
	started bool
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler. Workers are not started until Start is called;
// tasks scheduled before then stay pending.
func New(opts Options) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		clock:    opts.Clock,
		workers:  opts.Workers,
		observer: opts.Observer,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		active:   make(map[*Task]struct{}),
		wake:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Clock returns the clock driving this scheduler.
func (s *Scheduler) Clock() clockwork.Clock {
	return s.clock
}

// Start launches the worker pool. Calling Start more than once is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	s.logger.Info("scheduler started", "workers", s.workers)
}

// Stop prevents further dispatch, cancels the context handed to closures and
// waits for running closures to return. Pending tasks are abandoned.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	abandoned := make([]*Task, len(s.queue))
	copy(abandoned, s.queue)
	for _, t := range abandoned {
		t.state = stateRetired
	}
	s.queue = nil
	s.broadcastLocked()
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	for _, t := range abandoned {
		t.abandon(ErrSchedulerStopped)
	}
	s.logger.Info("scheduler stopped", "abandoned", len(abandoned))
}

// Schedule queues fn to run after delay.
//
// Parameters:
//   - delay: Time until the first run, and the interval between repeats
//   - repeat: Number of runs; Infinite repeats until erased, 0 and 1 run once
//   - owner: Opaque comparable tag used by Erase and FirstMatching
//   - label: Name used in logs and metrics
//   - fn: The work closure
//
// Returns:
//   - *Task: Handle for awaiting results
func (s *Scheduler) Schedule(delay time.Duration, repeat uint, owner any, label string, fn Func) *Task {
	return s.ScheduleAt(s.clock.Now().Add(delay), delay, repeat, owner, label, fn)
}

// ScheduleAt queues fn with an absolute first due time. delay is the
// interval between repeats.
func (s *Scheduler) ScheduleAt(at time.Time, delay time.Duration, repeat uint, owner any, label string, fn Func) *Task {
	t := &Task{
		owner: owner,
		label: label,
		fn:    fn,
		sched: s,
		index: -1,
		first: make(chan struct{}),
	}

	s.mu.Lock()
	s.nextID++
	t.id = s.nextID
	t.due = at
	t.delay = delay
	t.repeat = repeat
	if s.stopped {
		t.state = stateRetired
		s.mu.Unlock()
		t.abandon(ErrSchedulerStopped)
		return t
	}
	s.pushLocked(t)
	s.mu.Unlock()

	s.metrics.TaskScheduled()
	return t
}

// Reschedule changes a task's delay and repeat count and queues it delay
// from now. An active task keeps running and is requeued with the new
// settings when it completes; a retired task is queued again.
func (s *Scheduler) Reschedule(t *Task, delay time.Duration, repeat uint) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return t
	}

	t.delay = delay
	t.repeat = repeat
	t.cancelled = false
	t.stopped = false

	switch t.state {
	case stateActive:
		t.proceed = &delay
	case statePending:
		s.queue.remove(t)
		t.due = s.clock.Now().Add(delay)
		s.pushLocked(t)
	case stateRetired:
		t.due = s.clock.Now().Add(delay)
		s.pushLocked(t)
	}
	return t
}

// Erase removes every pending task matching pred and marks every matching
// active task so it is not requeued. Running closures are never preempted.
//
// Returns:
//   - int: Number of tasks removed or marked
func (s *Scheduler) Erase(pred Predicate) int {
	removed, marked := s.eraseMatching(pred)
	for _, t := range removed {
		t.abandon(ErrTaskCancelled)
	}
	return len(removed) + marked
}

// eraseMatching does the locked part of Erase. pred is caller code, so the
// lock is released with defer even if it panics.
func (s *Scheduler) eraseMatching(pred Predicate) (removed []*Task, marked int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.queue {
		if pred(t.metaLocked()) {
			removed = append(removed, t)
		}
	}
	for _, t := range removed {
		s.queue.remove(t)
		t.state = stateRetired
	}
	for t := range s.active {
		if !t.cancelled && pred(t.metaLocked()) {
			t.cancelled = true
			marked++
		}
	}
	if len(removed) > 0 {
		s.broadcastLocked()
	}
	s.reportDepthLocked()
	return removed, marked
}

// FirstMatching returns the earliest-due pending task matching pred, or an
// active one when no pending task matches. It returns nil when nothing
// matches.
func (s *Scheduler) FirstMatching(pred Predicate) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]*Task, len(s.queue))
	copy(pending, s.queue)
	sort.Slice(pending, func(i, j int) bool {
		return taskQueue(pending).Less(i, j)
	})
	for _, t := range pending {
		if pred(t.metaLocked()) {
			return t
		}
	}
	for t := range s.active {
		if !t.cancelled && pred(t.metaLocked()) {
			return t
		}
	}
	return nil
}

// Stats returns the current queue sizes.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Pending: len(s.queue), Active: len(s.active)}
}

// worker executes due tasks until the scheduler stops.
func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		t, ok := s.next()
		if !ok {
			return
		}
		s.execute(t)
	}
}

// next blocks until a task is due or the scheduler stops.
func (s *Scheduler) next() (*Task, bool) {
	s.mu.Lock()
	for {
		if s.stopped {
			s.mu.Unlock()
			return nil, false
		}

		wait := time.Duration(-1)
		if head := s.queue.peek(); head != nil {
			now := s.clock.Now()
			if !head.due.After(now) {
				heap.Pop(&s.queue)
				head.state = stateActive
				s.active[head] = struct{}{}
				s.reportDepthLocked()
				s.mu.Unlock()
				return head, true
			}
			wait = head.due.Sub(now)
		}

		wake := s.wake
		s.mu.Unlock()

		if wait < 0 {
			<-wake
		} else {
			timer := s.clock.NewTimer(wait)
			select {
			case <-wake:
			case <-timer.Chan():
			}
			timer.Stop()
		}

		s.mu.Lock()
	}
}

// execute runs one iteration of t and requeues or retires it.
func (s *Scheduler) execute(t *Task) {
	started := s.clock.Now()
	result, err := s.invoke(t)
	s.metrics.TaskExecuted(t.label, s.clock.Since(started))

	if err != nil {
		s.metrics.TaskFault(t.label)
		s.mu.Lock()
		meta := t.metaLocked()
		s.mu.Unlock()

		if errors.Is(err, ErrWorkerFault) {
			s.logger.Error("task panicked", "task", t.label, "iteration", meta.Iteration, "error", err)
		} else {
			s.logger.Warn("task returned error", "task", t.label, "iteration", meta.Iteration, "error", err)
		}
		if s.observer != nil {
			s.observer.TaskFault(meta, err)
		}
	}

	t.setResult(result, err)
	s.complete(t, started)
}

// invoke calls the closure, converting a panic into ErrWorkerFault.
func (s *Scheduler) invoke(t *Task) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("%w: task %q: %v", ErrWorkerFault, t.label, r)
		}
	}()
	return t.fn(s.ctx, t)
}

// complete moves t out of the active set and requeues it if repeats remain.
// The next due time is one delay after this run started, or now when the
// run overran that point.
func (s *Scheduler) complete(t *Task, started time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.active, t)
	t.iteration++

	final := t.cancelled || t.stopped || s.stopped ||
		(t.repeat != Infinite && t.repeat <= 1 && t.proceed == nil)
	if final {
		t.state = stateRetired
		t.proceed = nil
		s.reportDepthLocked()
		return
	}

	now := s.clock.Now()
	var next time.Time
	if t.proceed != nil {
		next = now.Add(*t.proceed)
		t.proceed = nil
	} else {
		next = started.Add(t.delay)
		if next.Before(now) {
			next = now
		}
	}
	if t.repeat != Infinite && t.repeat > 1 {
		t.repeat--
	}
	t.due = next
	s.pushLocked(t)
}

// pushLocked inserts t into the pending queue. Caller holds s.mu.
func (s *Scheduler) pushLocked(t *Task) {
	s.nextSeq++
	t.seq = s.nextSeq
	t.state = statePending
	heap.Push(&s.queue, t)
	s.broadcastLocked()
	s.reportDepthLocked()
}

// broadcastLocked wakes every idle worker. Caller holds s.mu.
func (s *Scheduler) broadcastLocked() {
	close(s.wake)
	s.wake = make(chan struct{})
}

// reportDepthLocked publishes queue sizes. Caller holds s.mu.
func (s *Scheduler) reportDepthLocked() {
	s.metrics.QueueDepth(len(s.queue), len(s.active))
}
