package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/scheduler"
)

// Outcome is the result of one pass through the update pipeline.
type Outcome string

// Pipeline outcomes.
const (
	OutcomeApplied               Outcome = "applied"
	OutcomeDeferred              Outcome = "deferred"
	OutcomeRateLimited           Outcome = "rate_limited"
	OutcomeDuplicate             Outcome = "duplicate"
	OutcomeDisabled              Outcome = "disabled"
	OutcomeAuthorizationRejected Outcome = "authorization_rejected"
	OutcomeValidationRejected    Outcome = "validation_rejected"
	OutcomeAdapterRejected       Outcome = "adapter_rejected"
)

// Outcomes reported by adapters after the hardware round-trip.
const (
	// OutcomeWrongValue: the hardware confirmed a value other than the one
	// commanded.
	OutcomeWrongValue Outcome = "wrong_value"
	// OutcomeUnconfirmed: the hardware never confirmed a command.
	OutcomeUnconfirmed Outcome = "unconfirmed"
)

// Rejected reports whether the outcome left the device untouched because
// of a failure.
func (o Outcome) Rejected() bool {
	switch o {
	case OutcomeAuthorizationRejected, OutcomeValidationRejected, OutcomeAdapterRejected:
		return true
	default:
		return false
	}
}

// History is the persistence contract the pipeline writes through.
type History interface {
	// AppendOrMerge stores value in the bucket containing at.
	AppendOrMerge(ctx context.Context, deviceID int64, kind Kind, value any, at time.Time) error

	// ReadLatest returns the most recent stored value and its time. ok is
	// false when the device has no history.
	ReadLatest(ctx context.Context, deviceID int64, kind Kind) (value any, at time.Time, ok bool, err error)
}

// Diagnostic describes a pipeline outcome worth keeping for later
// inspection.
type Diagnostic struct {
	At        time.Time
	DeviceID  int64
	AdapterID string
	Reference string
	Outcome   Outcome
	Source    UpdateSource
	Value     string
	Err       error
}

// Diagnostics receives rejected and deferred outcomes.
type Diagnostics interface {
	RecordDiagnostic(ctx context.Context, d Diagnostic)
}

// Metrics receives pipeline instrumentation.
type Metrics interface {
	UpdateOutcome(kind KindName, outcome Outcome)
}

type noopMetrics struct{}

func (noopMetrics) UpdateOutcome(KindName, Outcome) {}

// UpdateValue passes a value change through the pipeline:
// authorize, deduplicate, rate-limit, hardware round-trip, persist, publish.
//
// Parameters:
//   - ctx: Context for the adapter call and persistence
//   - source: Origin of the change
//   - raw: The new value; converted to the device kind's native type
//
// Returns:
//   - bool: false when the update was rejected. Duplicates, deferred and
//     rate-limited updates return true.
func (d *Device) UpdateValue(ctx context.Context, source UpdateSource, raw any) bool {
	value, err := d.kind.Convert(raw)
	if err != nil {
		d.reject(ctx, OutcomeValidationRejected, source, fmt.Sprint(raw), err)
		return false
	}

	d.mu.Lock()
	if !d.enabled {
		d.mu.Unlock()
		d.reg.logger.Debug("update on disabled device dropped", "device", d.id, "reference", d.reference)
		d.reg.metrics.UpdateOutcome(d.kind.Name(), OutcomeDisabled)
		return false
	}

	settings := d.settings
	if !settings.Allowed().Allows(source) {
		d.mu.Unlock()
		d.reject(ctx, OutcomeAuthorizationRejected, source, d.kind.Format(value),
			fmt.Errorf("%w: %s not in %s", ErrAuthorizationRejected, source, settings.Allowed()))
		return false
	}

	if err := d.kind.Validate(value, settings); err != nil {
		d.mu.Unlock()
		d.reject(ctx, OutcomeValidationRejected, source, d.kind.Format(value), err)
		return false
	}

	// A value equal to the current one still supersedes a deferred value.
	ready := d.adapter.State() == StateReady
	if ready && settings.DedupEnabled() && d.limiter.task == nil && valuesEqual(d.value, value) {
		d.mu.Unlock()
		d.reg.logger.Debug("ignoring duplicate value", "device", d.id, "value", d.kind.Format(value))
		d.reg.metrics.UpdateOutcome(d.kind.Name(), OutcomeDuplicate)
		return true
	}

	if ready && settings.RateLimit > 0 {
		next := d.updated.Add(settings.RateLimit)
		if next.After(d.reg.clock.Now()) {
			d.limiter.value = value
			d.limiter.source = source
			if d.limiter.task == nil {
				d.limiter.task = d.reg.sched.ScheduleAt(next, 0, 1, d, "rate-limit", d.applyLimited)
			}
			d.mu.Unlock()
			d.reg.logger.Debug("update rate limited", "device", d.id, "value", d.kind.Format(value), "due", next)
			d.reg.metrics.UpdateOutcome(d.kind.Name(), OutcomeRateLimited)
			return true
		}
	}
	d.mu.Unlock()

	return d.process(ctx, source, value)
}

// applyLimited is the deferred rate-limit task: it passes whatever value
// was requested last back through UpdateValue. The interval has elapsed by
// the time it runs, so the value cannot be deferred a second time.
func (d *Device) applyLimited(ctx context.Context, _ *scheduler.Task) (any, error) {
	d.mu.Lock()
	value, source := d.limiter.value, d.limiter.source
	d.limiter.task = nil
	d.mu.Unlock()

	return d.UpdateValue(ctx, source, value), nil
}

// process performs the hardware round-trip and, when the adapter applies
// the change, commits, persists and publishes it.
func (d *Device) process(ctx context.Context, source UpdateSource, value any) bool {
	formatted := d.kind.Format(value)

	if !source.Has(SourceHardware) {
		apply, err := d.adapter.UpdateDevice(ctx, source, d, value)
		if err != nil {
			if !errors.Is(err, ErrAdapterRejected) {
				err = fmt.Errorf("%w: %w", ErrAdapterRejected, err)
			}
			d.reject(ctx, OutcomeAdapterRejected, source, formatted, err)
			return false
		}
		if !apply {
			d.reg.logger.Debug("update awaiting hardware confirmation", "device", d.id, "value", formatted, "source", source.String())
			d.reg.metrics.UpdateOutcome(d.kind.Name(), OutcomeDeferred)
			return true
		}
	}

	now := d.reg.clock.Now()

	d.mu.Lock()
	previous := d.value
	d.previous = previous
	d.value = value
	d.updated = now
	d.lastSource = source
	if value == OptionActivate {
		d.value = OptionIdle
	}
	label := d.label
	d.mu.Unlock()

	if err := d.reg.history.AppendOrMerge(ctx, d.id, d.kind, value, now); err != nil {
		d.reg.logger.Error("persisting device value failed", "device", d.id, "value", formatted, "error", err)
	}

	if d.adapter.State() >= StateReady {
		ev := Event{
			DeviceID:  d.id,
			Reference: d.reference,
			AdapterID: d.adapter.ID(),
			Label:     label,
			Kind:      d.kind.Name(),
			Value:     value,
			Previous:  previous,
			Source:    source,
			At:        now,
		}
		if err := d.reg.publisher.Publish(ctx, ev); err != nil {
			d.reg.logger.Warn("publishing device event failed", "device", d.id, "error", err)
		}
	}

	if value == OptionActivate {
		d.reg.logger.Info("device activated", "device", d.id, "source", source.String())
	} else {
		d.reg.logger.Info("device value updated", "device", d.id, "value", formatted, "source", source.String())
	}
	d.reg.metrics.UpdateOutcome(d.kind.Name(), OutcomeApplied)
	return true
}

// reject logs, counts and journals a rejected update. The device is left
// untouched.
func (d *Device) reject(ctx context.Context, outcome Outcome, source UpdateSource, value string, err error) {
	d.reg.logger.Warn("device update rejected",
		"device", d.id,
		"reference", d.reference,
		"outcome", string(outcome),
		"source", source.String(),
		"value", value,
		"error", err,
	)
	d.reg.metrics.UpdateOutcome(d.kind.Name(), outcome)
	if d.reg.diagnostics != nil {
		d.reg.diagnostics.RecordDiagnostic(ctx, Diagnostic{
			At:        d.reg.clock.Now(),
			DeviceID:  d.id,
			AdapterID: d.adapter.ID(),
			Reference: d.reference,
			Outcome:   outcome,
			Source:    source,
			Value:     value,
			Err:       err,
		})
	}
}

// PendingRateLimit reports whether a deferred rate-limit task is queued.
func (d *Device) PendingRateLimit() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.limiter.task != nil
}
