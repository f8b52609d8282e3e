package pending

import "errors"

// Sentinel errors for pending-update outcomes.
//
// Acquire and Release report these outcomes as booleans; the errors exist
// for logging and diagnostics:
//
//	if !reg.Acquire(ctx, ref, src, payload, block, wait) {
//	    journal.Record(ref, pending.ErrTargetBusy)
//	}
var (
	// ErrTargetBusy means Acquire gave up after its block window.
	ErrTargetBusy = errors.New("pending: target busy")

	// ErrStaleConfirmation means Release or Peek found no in-flight update.
	ErrStaleConfirmation = errors.New("pending: stale confirmation")
)
