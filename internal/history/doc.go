// Package history persists device values and derives hourly trends from
// them.
//
// # Tables
//
//	device_counter_history   5-minute buckets: mean value + sample count
//	device_level_history     5-minute buckets: mean value + sample count
//	device_switch_history    one row per value
//	device_text_history      one row per value
//	device_counter_trends    hourly: last value, delta against previous hour
//	device_level_trends      hourly: min, max, sample-weighted average
//
// SQLiteStore implements device.History, so the update pipeline writes
// through it and the registry restores starting values from it.
//
// # Aggregation
//
//	Track(dev) ──▶ scheduler task, first run staggered by 10s per device
//	                    │
//	                    ▼ every 5 minutes
//	   ┌──────────────────────────────────────────────────┐
//	   │ completed buckets since previous hour ─▶ trends  │
//	   │ history older than keep_history_days  ─▶ delete  │
//	   │ trends older than keep_trends_days    ─▶ delete  │
//	   └──────────────────────────────────────────────────┘
//
// Trend rows are upserted, so a run can be repeated or interrupted without
// corrupting them, and they can be recomputed from history while it is
// retained.
package history
