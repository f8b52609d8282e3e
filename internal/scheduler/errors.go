package scheduler

import "errors"

// Sentinel errors for scheduler operations.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, scheduler.ErrWorkerFault) {
//	    // a closure panicked
//	}
var (
	// ErrWorkerFault wraps a panic recovered from a task closure.
	ErrWorkerFault = errors.New("scheduler: worker fault")

	// ErrTaskCancelled is returned by Await when the task was erased before
	// it ever produced a result.
	ErrTaskCancelled = errors.New("scheduler: task cancelled")

	// ErrSchedulerStopped is returned by Await for tasks scheduled after Stop.
	ErrSchedulerStopped = errors.New("scheduler: stopped")
)
