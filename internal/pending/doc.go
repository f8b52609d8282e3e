// Package pending provides the Pending-Update Registry: a per-reference
// rendezvous that turns "send a command, maybe hear back" into a bounded
// call with at most one in-flight command per target.
//
// # Lifecycle of an entry
//
//	          Acquire (free)                      Release / expiry task
//	┌──────┐ ───────────────▶ ┌──────────────┐ ───────────────────────▶ ┌──────┐
//	│ free │                  │ busy         │                          │ free │
//	└──────┘ ◀─── waiters ─── │ source       │                          └──────┘
//	   ▲       (block window) │ payload      │
//	   │                      │ expiry task  │──── wait window ────┐
//	   │                      └──────────────┘                     │
//	   └───────────────────────── forced clear ◀───────────────────┘
//
// Entries taken with Acquire are kept after they are cleared so repeated
// correlation on the same reference allocates nothing. Filter entries taken
// with TryAcquire are dropped once cleared.
//
// Expiry is a one-shot scheduler task. Tests drive it with the scheduler's
// fake clock instead of real waits.
//
// # Usage
//
//	reg := pending.New(sched, pending.Options{})
//
//	// Adapter sending a command:
//	if !reg.Acquire(ctx, ref, source, value, 3*time.Second, 30*time.Second) {
//	    return false, pending.ErrTargetBusy
//	}
//	publish(command)
//
//	// Adapter receiving the hardware report:
//	if src, want, ok := reg.Release(ref); ok {
//	    // confirmation of a command sent with src
//	}
package pending
