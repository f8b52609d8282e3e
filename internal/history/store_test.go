package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/device"
)

func TestAppendOrMergeAveragesBucket(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	dev := env.declare(t, "temp", device.Level, device.Settings{})

	bucket := testStart.Truncate(DefaultBucket)
	env.put(t, dev, 10.0, bucket.Add(10*time.Second))
	env.put(t, dev, 20.0, bucket.Add(2*time.Minute))
	env.put(t, dev, 30.0, bucket.Add(4*time.Minute))
	env.put(t, dev, 50.0, bucket.Add(DefaultBucket))

	samples, err := env.store.Since(ctx, dev.ID(), device.Level, bucket)
	if err != nil {
		t.Fatalf("Since() error = %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("Since() returned %d rows, want 2", len(samples))
	}
	if !samples[0].At.Equal(bucket) || samples[0].Value != 20.0 || samples[0].Samples != 3 {
		t.Errorf("first bucket = %+v, want {%v 20 3}", samples[0], bucket)
	}
	if samples[1].Value != 50.0 || samples[1].Samples != 1 {
		t.Errorf("second bucket = %+v, want value 50 with 1 sample", samples[1])
	}
}

func TestReadLatest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	counter := env.declare(t, "meter", device.Counter, device.Settings{})
	if _, _, ok, err := env.store.ReadLatest(ctx, counter.ID(), device.Counter); err != nil || ok {
		t.Fatalf("ReadLatest() on empty history = ok %v, error %v", ok, err)
	}

	env.put(t, counter, int64(1200), testStart.Add(-time.Hour))
	env.put(t, counter, int64(1250), testStart)

	value, at, ok, err := env.store.ReadLatest(ctx, counter.ID(), device.Counter)
	if err != nil {
		t.Fatalf("ReadLatest() error = %v", err)
	}
	if !ok || value != int64(1250) {
		t.Errorf("ReadLatest() = %v (%T), %v; want 1250", value, value, ok)
	}
	if !at.Equal(testStart.Truncate(DefaultBucket)) {
		t.Errorf("ReadLatest() at = %v, want bucket start", at)
	}
}

func TestSwitchAndTextAppendEveryValue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sw := env.declare(t, "relay", device.Switch, device.Settings{})
	env.put(t, sw, device.OptionOn, testStart)
	env.put(t, sw, device.OptionOff, testStart)
	env.put(t, sw, device.OptionOn, testStart)

	samples, err := env.store.Since(ctx, sw.ID(), device.Switch, testStart.Add(-time.Minute))
	if err != nil {
		t.Fatalf("Since() error = %v", err)
	}
	if len(samples) != 3 {
		t.Fatalf("switch rows = %d, want 3", len(samples))
	}
	value, _, _, err := env.store.ReadLatest(ctx, sw.ID(), device.Switch)
	if err != nil {
		t.Fatalf("ReadLatest() error = %v", err)
	}
	if value != device.OptionOn {
		t.Errorf("ReadLatest() = %v, want On", value)
	}

	text := env.declare(t, "status", device.Text, device.Settings{})
	env.put(t, text, "idle", testStart)
	env.put(t, text, "charging", testStart.Add(time.Millisecond))
	value, _, _, err = env.store.ReadLatest(ctx, text.ID(), device.Text)
	if err != nil {
		t.Fatalf("ReadLatest() error = %v", err)
	}
	if value != "charging" {
		t.Errorf("ReadLatest() = %v, want charging", value)
	}
}

func TestPurgeHistoryBefore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	dev := env.declare(t, "power", device.Level, device.Settings{})

	env.put(t, dev, 1.0, testStart.Add(-48*time.Hour))
	env.put(t, dev, 2.0, testStart.Add(-24*time.Hour))
	env.put(t, dev, 3.0, testStart)

	n, err := env.store.PurgeHistoryBefore(ctx, dev.ID(), device.Level, testStart.Add(-30*time.Hour))
	if err != nil {
		t.Fatalf("PurgeHistoryBefore() error = %v", err)
	}
	if n != 1 {
		t.Errorf("PurgeHistoryBefore() = %d, want 1", n)
	}
	samples, _ := env.store.Since(ctx, dev.ID(), device.Level, time.Time{})
	if len(samples) != 2 {
		t.Errorf("remaining rows = %d, want 2", len(samples))
	}
}

func TestTrendUpsert(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	dev := env.declare(t, "meter", device.Counter, device.Settings{})
	hour := testStart.Truncate(time.Hour)

	if err := env.store.PutCounterTrend(ctx, dev.ID(), CounterTrend{At: hour, Last: 10, Diff: 2}); err != nil {
		t.Fatalf("PutCounterTrend() error = %v", err)
	}
	if err := env.store.PutCounterTrend(ctx, dev.ID(), CounterTrend{At: hour, Last: 14, Diff: 6}); err != nil {
		t.Fatalf("PutCounterTrend() error = %v", err)
	}

	trends, err := env.store.CounterTrendsSince(ctx, dev.ID(), hour)
	if err != nil {
		t.Fatalf("CounterTrendsSince() error = %v", err)
	}
	if len(trends) != 1 || trends[0].Last != 14 || trends[0].Diff != 6 {
		t.Errorf("CounterTrendsSince() = %+v, want one row {14 6}", trends)
	}

	prev, ok, err := env.store.LastCounterTrendBefore(ctx, dev.ID(), hour.Add(time.Hour))
	if err != nil || !ok || prev.Last != 14 {
		t.Errorf("LastCounterTrendBefore() = %+v, %v, %v", prev, ok, err)
	}
	if _, ok, _ := env.store.LastCounterTrendBefore(ctx, dev.ID(), hour); ok {
		t.Error("LastCounterTrendBefore() found a row at the cutoff")
	}
}

func TestPurgeTrendsRejectsKindsWithoutTrends(t *testing.T) {
	env := newTestEnv(t)
	dev := env.declare(t, "relay", device.Switch, device.Settings{})

	_, err := env.store.PurgeTrendsBefore(context.Background(), dev.ID(), device.Switch, testStart)
	if !errors.Is(err, ErrNoTrends) {
		t.Errorf("PurgeTrendsBefore() error = %v, want ErrNoTrends", err)
	}
}

func TestPipelinePersistsAndRestores(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	dev := env.declare(t, "dimmer", device.Level, device.Settings{})

	if !dev.UpdateValue(ctx, device.SourceHardware, 42.5) {
		t.Fatal("UpdateValue() = false")
	}
	if !dev.UpdateValue(ctx, device.SourceHardware, 57.5) {
		t.Fatal("UpdateValue() = false")
	}

	samples, err := env.store.Since(ctx, dev.ID(), device.Level, time.Time{})
	if err != nil {
		t.Fatalf("Since() error = %v", err)
	}
	if len(samples) != 1 || samples[0].Value != 50.0 || samples[0].Samples != 2 {
		t.Errorf("history = %+v, want one bucket of 50 with 2 samples", samples)
	}

	// A fresh registry on the same database restores id and value.
	reg := device.NewRegistry(device.Options{
		Scheduler:  env.sched,
		Repository: device.NewSQLiteRepository(env.db.DB),
		History:    env.store,
	})
	again, err := reg.Declare(ctx, stubAdapter{}, device.Declaration{Reference: "dimmer", Kind: device.Level})
	if err != nil {
		t.Fatalf("Declare() error = %v", err)
	}
	if again.ID() != dev.ID() {
		t.Errorf("restored id = %d, want %d", again.ID(), dev.ID())
	}
	if again.Value() != 50.0 {
		t.Errorf("restored value = %v, want 50", again.Value())
	}
}
