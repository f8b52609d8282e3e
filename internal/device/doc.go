// Package device provides the device model and the update pipeline every
// value change passes through.
//
// Devices are declared by their owning adapter and live in the Registry for
// the adapter's lifetime. A device holds one typed value (counter, level,
// switch or text); the Kind capability interface keeps the pipeline single
// and shared across kinds.
//
// # Architecture
//
//	  adapter report / timer / script / API / link
//	                     │
//	                     ▼  UpdateValue(ctx, source, value)
//	┌─────────────────────────────────────────────────────────────────────┐
//	│                        Update Pipeline                               │
//	│                                                                      │
//	│  authorize ─▶ validate ─▶ deduplicate ─▶ rate-limit ──┐              │
//	│  (allowed      (kind +     (adapter       (latest     │ deferred     │
//	│   sources)      bounds)     ready)         value wins)│ task         │
//	│                                                       ▼              │
//	│            ┌───────────── hardware round-trip ◀───────┘              │
//	│            │              Adapter.UpdateDevice                       │
//	│            │   reject ─▶ untouched    defer ─▶ await echo            │
//	│            ▼ apply                                                   │
//	│  commit + stamp ─▶ persist (History) ─▶ publish (Publisher)          │
//	└─────────────────────────────────────────────────────────────────────┘
//	         │                    │                      │
//	         ▼                    ▼                      ▼
//	   Diagnostics/Metrics   SQLite buckets      EventBus subscribers
//
// # Key Types
//
//   - Device: A live device and its value slot
//   - Kind: Counter, Level, Switch and Text value capabilities
//   - UpdateSource: Bitmask naming who originated a change
//   - Settings: Allowed sources, dedup, rate limit, bounds, retention
//   - Adapter: Hardware adapter contract
//   - Registry: Declaration, lookup and the pipeline's collaborators
//   - EventBus: In-process fan-out of applied changes
//
// # Usage
//
//	reg := device.NewRegistry(device.Options{
//	    Scheduler:  sched,
//	    Repository: device.NewSQLiteRepository(db.DB),
//	    History:    store,
//	    Publisher:  bus,
//	    Logger:     log,
//	})
//
//	dev, err := reg.Declare(ctx, adapter, device.Declaration{
//	    Reference: "kitchen-dimmer",
//	    Kind:      device.Level,
//	    Settings:  device.Settings{RateLimit: 2 * time.Second},
//	})
//
//	dev.UpdateValue(ctx, device.SourceAPI, 75.0)
//
// # Thread Safety
//
// Registry and Device are safe for concurrent use. Device locks guard only
// the value slot and are never held across adapter calls, persistence or
// publishing.
package device
