// Package journal keeps a durable record of the hub's notable failures.
//
// Entries are appended to a file as a stream of CBOR maps with integer
// keys. Each process run gets a session ID so entries from different runs
// can be told apart after a restart.
//
// A Journal implements device.Diagnostics (rejected updates, wrong values
// reported by adapters) and scheduler.Observer (task errors and panics):
//
//	j, err := journal.Open(cfg.Journal.Path, journal.Options{})
//	sched := scheduler.New(scheduler.Options{Observer: j})
//	devices := device.NewRegistry(device.Options{Diagnostics: j, ...})
//
// Entries are read back with a Reader, optionally filtered:
//
//	r, _ := journal.NewReader(path, journal.Filter{DeviceID: 12})
//	for e, err := r.Next(); err == nil; e, err = r.Next() { ... }
package journal
