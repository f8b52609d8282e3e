// Package metrics exposes hub instrumentation in Prometheus format.
//
// A single Collector implements the Metrics interfaces of the scheduler,
// pending and device packages, so one value is passed to all of them:
//
//	collector := metrics.NewCollector()
//	sched := scheduler.New(scheduler.Options{Metrics: collector})
//	waits := pending.New(sched, pending.Options{Metrics: collector})
//	devices := device.NewRegistry(device.Options{Metrics: collector, ...})
//	go collector.Serve(ctx, cfg.Metrics.Listen)
//
// Exposed series:
//
//	grayhub_tasks_scheduled_total                  counter
//	grayhub_task_duration_seconds{label}           histogram
//	grayhub_task_faults_total{label}               counter
//	grayhub_tasks_pending / grayhub_tasks_active   gauges
//	grayhub_pending_events_total{event}            counter
//	grayhub_device_updates_total{kind,outcome}     counter
//
// Collectors register on their own registry, never the global default, so
// tests and multiple hubs in one process do not collide.
package metrics
