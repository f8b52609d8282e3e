package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-hub/internal/device"
)

const namespace = "grayhub"

// Pending wait event labels.
const (
	pendingAcquired = "acquired"
	pendingBusy     = "busy"
	pendingReleased = "released"
	pendingStale    = "stale"
	pendingExpired  = "expired"
)

// shutdownTimeout bounds the graceful stop of the metrics endpoint.
const shutdownTimeout = 5 * time.Second

// Collector gathers hub metrics.
//
// Thread Safety:
//   - All methods are safe for concurrent use; prometheus metric types
//     are atomic.
type Collector struct {
	registry *prometheus.Registry

	tasksScheduled prometheus.Counter
	taskDuration   *prometheus.HistogramVec
	taskFaults     *prometheus.CounterVec
	tasksPending   prometheus.Gauge
	tasksActive    prometheus.Gauge

	pendingEvents *prometheus.CounterVec

	deviceUpdates *prometheus.CounterVec
}

// NewCollector creates a Collector with its own registry, including the
// standard Go runtime and process collectors.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		tasksScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_scheduled_total",
			Help:      "Total number of tasks added to the scheduler",
		}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Task run time in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"label"}),
		taskFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_faults_total",
			Help:      "Task runs that returned an error or panicked",
		}, []string{"label"}),
		tasksPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_pending",
			Help:      "Tasks waiting for their due time",
		}),
		tasksActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_active",
			Help:      "Tasks currently running",
		}),
		pendingEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pending_events_total",
			Help:      "Pending-update registry events",
		}, []string{"event"}),
		deviceUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_updates_total",
			Help:      "Device update pipeline outcomes",
		}, []string{"kind", "outcome"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.tasksScheduled,
		c.taskDuration,
		c.taskFaults,
		c.tasksPending,
		c.tasksActive,
		c.pendingEvents,
		c.deviceUpdates,
	)
	return c
}

// Registry returns the registry the collector's metrics live on.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// TaskScheduled implements scheduler.Metrics.
func (c *Collector) TaskScheduled() {
	c.tasksScheduled.Inc()
}

// TaskExecuted implements scheduler.Metrics.
func (c *Collector) TaskExecuted(label string, duration time.Duration) {
	c.taskDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// TaskFault implements scheduler.Metrics.
func (c *Collector) TaskFault(label string) {
	c.taskFaults.WithLabelValues(label).Inc()
}

// QueueDepth implements scheduler.Metrics.
func (c *Collector) QueueDepth(pending, active int) {
	c.tasksPending.Set(float64(pending))
	c.tasksActive.Set(float64(active))
}

// PendingAcquired implements pending.Metrics.
func (c *Collector) PendingAcquired() { c.pendingEvents.WithLabelValues(pendingAcquired).Inc() }

// PendingBusy implements pending.Metrics.
func (c *Collector) PendingBusy() { c.pendingEvents.WithLabelValues(pendingBusy).Inc() }

// PendingReleased implements pending.Metrics.
func (c *Collector) PendingReleased() { c.pendingEvents.WithLabelValues(pendingReleased).Inc() }

// PendingStale implements pending.Metrics.
func (c *Collector) PendingStale() { c.pendingEvents.WithLabelValues(pendingStale).Inc() }

// PendingExpired implements pending.Metrics.
func (c *Collector) PendingExpired() { c.pendingEvents.WithLabelValues(pendingExpired).Inc() }

// UpdateOutcome implements device.Metrics.
func (c *Collector) UpdateOutcome(kind device.KindName, outcome device.Outcome) {
	c.deviceUpdates.WithLabelValues(string(kind), string(outcome)).Inc()
}

// Handler returns the /metrics HTTP handler for this collector.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Serve exposes /metrics on listen until ctx is cancelled.
//
// Parameters:
//   - ctx: Stops the server when done
//   - listen: host:port to listen on
//
// Returns:
//   - error: nil after a clean shutdown, otherwise the listen error
func (c *Collector) Serve(ctx context.Context, listen string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
