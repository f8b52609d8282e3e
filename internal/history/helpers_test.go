package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nerrad567/gray-logic-hub/internal/device"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-hub/internal/scheduler"
	_ "github.com/nerrad567/gray-logic-hub/migrations"
)

// testStart is a fixed wall time for fake-clock tests: 20 minutes past an
// hour.
var testStart = time.Date(2024, 3, 10, 11, 20, 0, 0, time.UTC)

// stubAdapter is a ready adapter that applies every update.
type stubAdapter struct{}

func (stubAdapter) ID() string                 { return "stub" }
func (stubAdapter) State() device.AdapterState { return device.StateReady }
func (stubAdapter) UpdateDevice(context.Context, device.UpdateSource, *device.Device, any) (bool, error) {
	return true, nil
}

// testEnv is a migrated database, a store and a registry on a fake clock.
type testEnv struct {
	db    *database.DB
	store *SQLiteStore
	clock *clockwork.FakeClock
	sched *scheduler.Scheduler
	reg   *device.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.Open(context.Background(), database.Config{
		Path:        filepath.Join(t.TempDir(), "history.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	clock := clockwork.NewFakeClockAt(testStart)
	sched := scheduler.New(scheduler.Options{Workers: 1, Clock: clock})
	sched.Start()
	t.Cleanup(sched.Stop)

	store := NewSQLiteStore(db.DB, DefaultBucket)
	reg := device.NewRegistry(device.Options{
		Scheduler:  sched,
		Repository: device.NewSQLiteRepository(db.DB),
		History:    store,
	})

	return &testEnv{db: db, store: store, clock: clock, sched: sched, reg: reg}
}

func (e *testEnv) declare(t *testing.T, ref string, kind device.Kind, s device.Settings) *device.Device {
	t.Helper()
	dev, err := e.reg.Declare(context.Background(), stubAdapter{}, device.Declaration{Reference: ref, Kind: kind, Settings: s})
	if err != nil {
		t.Fatalf("Declare() error = %v", err)
	}
	return dev
}

func (e *testEnv) put(t *testing.T, dev *device.Device, value any, at time.Time) {
	t.Helper()
	if err := e.store.AppendOrMerge(context.Background(), dev.ID(), dev.Kind(), value, at); err != nil {
		t.Fatalf("AppendOrMerge() error = %v", err)
	}
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func approx(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}
