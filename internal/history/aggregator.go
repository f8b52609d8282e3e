package history

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nerrad567/gray-logic-hub/internal/device"
	"github.com/nerrad567/gray-logic-hub/internal/scheduler"
)

// Aggregator defaults.
const (
	DefaultInterval    = 5 * time.Minute
	DefaultStagger     = 10 * time.Second
	DefaultTrendBucket = time.Hour
)

// taskLabel names the per-device aggregation task.
const taskLabel = "history-aggregate"

// Logger defines the logging interface used by the Aggregator.
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

// Store is the persistence the Aggregator reads and writes.
type Store interface {
	Bucket() time.Duration
	Since(ctx context.Context, deviceID int64, kind device.Kind, since time.Time) ([]Sample, error)
	PurgeHistoryBefore(ctx context.Context, deviceID int64, kind device.Kind, cutoff time.Time) (int64, error)
	PutCounterTrend(ctx context.Context, deviceID int64, t CounterTrend) error
	PutLevelTrend(ctx context.Context, deviceID int64, t LevelTrend) error
	LastCounterTrendBefore(ctx context.Context, deviceID int64, before time.Time) (CounterTrend, bool, error)
	PurgeTrendsBefore(ctx context.Context, deviceID int64, kind device.Kind, cutoff time.Time) (int64, error)
}

// AggregatorOptions configures an Aggregator. Zero values use the defaults.
type AggregatorOptions struct {
	// Interval between runs for one device.
	Interval time.Duration

	// Stagger is added to each newly tracked device's first run so devices
	// do not all aggregate at once.
	Stagger time.Duration

	// TrendBucket is the trend row width.
	TrendBucket time.Duration

	Logger Logger
}

// Aggregator is the History/Trend Aggregator. Each tracked device gets one
// repeating scheduler task that rolls completed history buckets into trend
// rows and purges history and trends past their retention.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Aggregator struct {
	sched  *scheduler.Scheduler
	store  Store
	clock  clockwork.Clock
	opts   AggregatorOptions
	logger Logger

	mu      sync.Mutex
	offset  time.Duration
	tracked map[int64]*scheduler.Task
}

// NewAggregator creates an aggregator whose tasks run on sched.
func NewAggregator(sched *scheduler.Scheduler, store Store, opts AggregatorOptions) *Aggregator {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Stagger <= 0 {
		opts.Stagger = DefaultStagger
	}
	if opts.TrendBucket <= 0 {
		opts.TrendBucket = DefaultTrendBucket
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Aggregator{
		sched:   sched,
		store:   store,
		clock:   sched.Clock(),
		opts:    opts,
		logger:  logger,
		tracked: make(map[int64]*scheduler.Task),
	}
}

// Track starts the repeating aggregation task for d. Tracking a device twice
// is a no-op.
func (a *Aggregator) Track(d *device.Device) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.tracked[d.ID()]; ok {
		return
	}

	a.offset += a.opts.Stagger
	first := a.clock.Now().Add(a.offset % a.opts.Interval)

	a.tracked[d.ID()] = a.sched.ScheduleAt(first, a.opts.Interval, scheduler.Infinite, a, taskLabel,
		func(ctx context.Context, _ *scheduler.Task) (any, error) {
			return nil, a.Run(ctx, d)
		})
	a.logger.Debug("history aggregation tracked", "device_id", d.ID(), "first_run", first)
}

// Untrack erases d's aggregation task. A run in progress finishes.
func (a *Aggregator) Untrack(deviceID int64) {
	a.mu.Lock()
	task, ok := a.tracked[deviceID]
	delete(a.tracked, deviceID)
	a.mu.Unlock()
	if !ok {
		return
	}
	id := task.ID()
	a.sched.Erase(func(m scheduler.Meta) bool { return m.ID == id })
}

// Tracked returns the number of tracked devices.
func (a *Aggregator) Tracked() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.tracked)
}

// Close erases every aggregation task.
func (a *Aggregator) Close() {
	a.mu.Lock()
	a.tracked = make(map[int64]*scheduler.Task)
	a.mu.Unlock()
	a.sched.Erase(scheduler.ByOwner(a))
}

// Run performs one aggregation pass for d: trends for numeric kinds, then
// retention purges. Purges still run when the trend step fails.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - d: Device to aggregate
//
// Returns:
//   - error: Every step's failure joined, or nil
func (a *Aggregator) Run(ctx context.Context, d *device.Device) error {
	now := a.clock.Now()
	kind := d.Kind()
	settings := d.Settings()

	var errs []error
	switch kind.Name() {
	case device.KindCounter:
		errs = append(errs, a.counterTrends(ctx, d.ID(), now))
	case device.KindLevel:
		errs = append(errs, a.levelTrends(ctx, d.ID(), now))
	}

	purged, err := a.store.PurgeHistoryBefore(ctx, d.ID(), kind, now.Add(-settings.HistoryRetention(kind)))
	if err != nil {
		errs = append(errs, err)
	}
	var trendsPurged int64
	if kind.Numeric() {
		trendsPurged, err = a.store.PurgeTrendsBefore(ctx, d.ID(), kind, now.Add(-settings.TrendRetention()))
		if err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("aggregating device %d: %w", d.ID(), err)
	}
	if purged > 0 || trendsPurged > 0 {
		a.logger.Debug("history purged", "device_id", d.ID(), "history_rows", purged, "trend_rows", trendsPurged)
	}
	return nil
}

// completedSamples returns the samples of every completed raw bucket from
// the start of the previous trend bucket, grouped by trend bucket in time
// order.
func (a *Aggregator) completedSamples(ctx context.Context, deviceID int64, kind device.Kind, now time.Time) ([]time.Time, map[time.Time][]Sample, error) {
	from := now.UTC().Truncate(a.opts.TrendBucket).Add(-a.opts.TrendBucket)
	open := now.UTC().Truncate(a.store.Bucket())

	samples, err := a.store.Since(ctx, deviceID, kind, from)
	if err != nil {
		return nil, nil, err
	}

	var order []time.Time
	groups := make(map[time.Time][]Sample)
	for _, s := range samples {
		if !s.At.Before(open) {
			break
		}
		key := s.At.UTC().Truncate(a.opts.TrendBucket)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], s)
	}
	return order, groups, nil
}

// counterTrends writes last and delta per trend bucket. The delta is taken
// against the previous bucket's last value, or the bucket's first sample
// when there is no previous trend.
func (a *Aggregator) counterTrends(ctx context.Context, deviceID int64, now time.Time) error {
	order, groups, err := a.completedSamples(ctx, deviceID, device.Counter, now)
	if err != nil || len(order) == 0 {
		return err
	}

	prev, hasPrev, err := a.store.LastCounterTrendBefore(ctx, deviceID, order[0])
	if err != nil {
		return err
	}

	for _, at := range order {
		samples := groups[at]
		last := counterValue(samples[len(samples)-1].Value)
		base := counterValue(samples[0].Value)
		if hasPrev {
			base = prev.Last
		}

		trend := CounterTrend{At: at, Last: last, Diff: last - base}
		if err := a.store.PutCounterTrend(ctx, deviceID, trend); err != nil {
			return err
		}
		prev, hasPrev = trend, true
	}
	return nil
}

// levelTrends writes min, max and the sample-weighted mean per trend bucket.
func (a *Aggregator) levelTrends(ctx context.Context, deviceID int64, now time.Time) error {
	order, groups, err := a.completedSamples(ctx, deviceID, device.Level, now)
	if err != nil {
		return err
	}

	for _, at := range order {
		trend := LevelTrend{At: at, Min: math.Inf(1), Max: math.Inf(-1)}
		var sum float64
		var count int
		for _, s := range groups[at] {
			v, _ := device.AsFloat(s.Value)
			trend.Min = math.Min(trend.Min, v)
			trend.Max = math.Max(trend.Max, v)
			sum += v * float64(s.Samples)
			count += s.Samples
		}
		if count > 0 {
			trend.Average = sum / float64(count)
		}
		if err := a.store.PutLevelTrend(ctx, deviceID, trend); err != nil {
			return err
		}
	}
	return nil
}

func counterValue(v any) int64 {
	n, _ := v.(int64)
	return n
}
