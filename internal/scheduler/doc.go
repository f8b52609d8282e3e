// Package scheduler provides the process-wide delayed and repeating task
// engine used by every other hub component.
//
// A fixed pool of worker goroutines pops the earliest-due task from a
// time-ordered queue once its due time has arrived. Tasks may repeat a
// fixed number of times or forever, carry an opaque owner tag used for
// bulk cancellation, and expose their latest result through the returned
// handle.
//
// # Architecture
//
//	 Schedule/ScheduleAt          Erase(pred)          FirstMatching(pred)
//	        │                         │                        │
//	        ▼                         ▼                        ▼
//	┌──────────────────────────────────────────────────────────────────┐
//	│                            Scheduler                              │
//	│                                                                   │
//	│  ┌────────────────────┐           ┌─────────────────────────┐     │
//	│  │  pending queue     │  pop due  │  active set             │     │
//	│  │  (min-heap on      │──────────▶│  (tasks being executed) │     │
//	│  │   due, sequence)   │◀──────────│                         │     │
//	│  └────────────────────┘  requeue  └─────────────────────────┘     │
//	│            ▲                                 │                    │
//	│            │ wake (broadcast)                ▼                    │
//	│  ┌────────────────────────────────────────────────────────────┐   │
//	│  │ worker 1 │ worker 2 │ ... │ worker N   (recover, observe)  │   │
//	│  └────────────────────────────────────────────────────────────┘   │
//	└──────────────────────────────────────────────────────────────────┘
//
// # Guarantees
//
//   - Due tasks are dispatched in non-decreasing due-time order; ties are
//     broken by schedule order.
//   - A task never runs concurrently with itself. The next due time is
//     computed when a run completes, so an overrunning task does not pile up.
//   - Erase removes pending tasks and stops active ones from being requeued.
//     It never preempts a running closure.
//   - A panic inside a closure is recovered, reported to the Observer as
//     ErrWorkerFault, and the task is requeued as if it had returned.
//
// # Usage
//
//	s := scheduler.New(scheduler.Options{Workers: 4, Logger: log})
//	s.Start()
//	defer s.Stop()
//
//	task := s.Schedule(100*time.Millisecond, 3, owner, "poll", func(ctx context.Context, t *scheduler.Task) (any, error) {
//	    return poll(ctx)
//	})
//	result, err := task.Await(ctx)
//
//	s.Erase(scheduler.ByOwner(owner))
package scheduler
