package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/scheduler"
)

func TestDeclareIsIdempotent(t *testing.T) {
	env := newTestEnv(t, scheduler.Options{Workers: 1})
	ctx := context.Background()

	first, err := env.reg.Declare(ctx, env.adapter, Declaration{Reference: "lamp", Label: "Lamp", Kind: Switch})
	if err != nil {
		t.Fatalf("Declare() error = %v", err)
	}
	second, err := env.reg.Declare(ctx, env.adapter, Declaration{
		Reference: "lamp",
		Label:     "Hall Lamp",
		Kind:      Switch,
		Settings:  Settings{AllowedSources: SourceTimer},
	})
	if err != nil {
		t.Fatalf("Declare() again error = %v", err)
	}

	if first != second {
		t.Error("Declare() returned a different device for the same reference")
	}
	if got := second.Label(); got != "Hall Lamp" {
		t.Errorf("Label() = %q, want Hall Lamp", got)
	}
	if got := second.Settings().AllowedSources; got != SourceTimer {
		t.Errorf("AllowedSources = %v, want timer", got)
	}
	if st := env.reg.GetStats(); st.TotalDevices != 1 {
		t.Errorf("TotalDevices = %d, want 1", st.TotalDevices)
	}
}

func TestDeclareKindConflict(t *testing.T) {
	env := newTestEnv(t, scheduler.Options{Workers: 1})
	env.declare(t, "x", Level, Settings{})

	_, err := env.reg.Declare(context.Background(), env.adapter, Declaration{Reference: "x", Kind: Counter})
	if !errors.Is(err, ErrDeviceExists) {
		t.Errorf("Declare() error = %v, want ErrDeviceExists", err)
	}
}

func TestDeclareInvalid(t *testing.T) {
	env := newTestEnv(t, scheduler.Options{Workers: 1})
	tests := []struct {
		name string
		decl Declaration
	}{
		{"missing reference", Declaration{Kind: Level}},
		{"missing kind", Declaration{Reference: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.reg.Declare(context.Background(), env.adapter, tt.decl); !errors.Is(err, ErrInvalidDevice) {
				t.Errorf("Declare() error = %v, want ErrInvalidDevice", err)
			}
		})
	}
}

func TestDeclareReusesStoredID(t *testing.T) {
	sched := scheduler.New(scheduler.Options{Workers: 1})
	t.Cleanup(sched.Stop)
	repo := NewMemoryRepository()
	adapter := newFakeAdapter("bridge")
	ctx := context.Background()

	reg1 := NewRegistry(Options{Scheduler: sched, Repository: repo})
	reg1.Declare(ctx, adapter, Declaration{Reference: "a", Kind: Level})
	dev1, _ := reg1.Declare(ctx, adapter, Declaration{Reference: "b", Kind: Level})

	reg2 := NewRegistry(Options{Scheduler: sched, Repository: repo})
	dev2, err := reg2.Declare(ctx, adapter, Declaration{Reference: "b", Kind: Level})
	if err != nil {
		t.Fatalf("Declare() error = %v", err)
	}
	if dev2.ID() != dev1.ID() {
		t.Errorf("ID() = %d after restart, want %d", dev2.ID(), dev1.ID())
	}
}

func TestDeclareRestoresStartingValue(t *testing.T) {
	env := newTestEnv(t, scheduler.Options{Workers: 1})
	at := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	// Ids are assigned from 1 by the memory repository.
	env.history.latest[1] = historyRow{deviceID: 1, value: "Activate", at: at}
	env.history.latest[2] = historyRow{deviceID: 2, value: 1234.0, at: at}

	sw := env.declare(t, "scene", Switch, Settings{})
	meter := env.declare(t, "meter", Counter, Settings{})

	if got := sw.Value(); got != OptionIdle {
		t.Errorf("switch Value() = %v, want Idle", got)
	}
	if got := meter.Value(); got != int64(1234) {
		t.Errorf("counter Value() = %v (%T), want int64 1234", got, got)
	}
	if !meter.Updated().Equal(at) {
		t.Errorf("Updated() = %v, want %v", meter.Updated(), at)
	}
}

func TestRegistryLookupAndList(t *testing.T) {
	env := newTestEnv(t, scheduler.Options{Workers: 1})
	other := newFakeAdapter("other")
	ctx := context.Background()

	a := env.declare(t, "a", Level, Settings{})
	b, _ := env.reg.Declare(ctx, other, Declaration{Reference: "a", Kind: Text})

	got, err := env.reg.Lookup("other", "a")
	if err != nil || got != b {
		t.Errorf("Lookup(other, a) = %v, %v; want second device", got, err)
	}
	if got, _ := env.reg.Get(a.ID()); got != a {
		t.Error("Get() returned the wrong device")
	}
	if _, err := env.reg.Lookup("test", "missing"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Lookup() error = %v, want ErrDeviceNotFound", err)
	}

	all := env.reg.List()
	if len(all) != 2 || all[0] != a || all[1] != b {
		t.Errorf("List() = %v, want [a b] in id order", all)
	}
	if devs := env.reg.ListByAdapter("other"); len(devs) != 1 || devs[0] != b {
		t.Errorf("ListByAdapter(other) = %v", devs)
	}

	stats := env.reg.GetStats()
	if stats.ByKind[KindLevel] != 1 || stats.ByKind[KindText] != 1 || stats.ByAdapter["other"] != 1 {
		t.Errorf("GetStats() = %+v", stats)
	}
}

func TestRegistryConcurrentUpdates(t *testing.T) {
	env := newTestEnv(t, scheduler.Options{Workers: 2})
	dev := env.declare(t, "counter", Counter, Settings{IgnoreDuplicates: ptr(false)})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(v int64) {
			defer wg.Done()
			dev.UpdateValue(ctx, SourceHardware, v)
		}(int64(i))
	}
	wg.Wait()

	if rows := env.history.rowsFor(dev.ID()); len(rows) != 50 {
		t.Errorf("history rows = %d, want 50", len(rows))
	}
}

func TestEventBusSubscribeUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	var got []int64
	unsubscribe := bus.Subscribe(func(_ context.Context, ev Event) error {
		got = append(got, ev.DeviceID)
		return nil
	})
	failing := errors.New("handler failed")
	bus.Subscribe(func(context.Context, Event) error { return failing })

	err := bus.Publish(context.Background(), Event{DeviceID: 1})
	if !errors.Is(err, failing) {
		t.Errorf("Publish() error = %v, want wrapped handler error", err)
	}

	unsubscribe()
	_ = bus.Publish(context.Background(), Event{DeviceID: 2})

	if len(got) != 1 || got[0] != 1 {
		t.Errorf("delivered = %v, want [1]", got)
	}
	if bus.Len() != 1 {
		t.Errorf("Len() = %d, want 1", bus.Len())
	}
}

// slowRepository blocks GetByReference until release is closed.
type slowRepository struct {
	*MemoryRepository
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (r *slowRepository) GetByReference(ctx context.Context, adapterID, reference string) (*Record, error) {
	r.once.Do(func() { close(r.entered) })
	<-r.release
	return r.MemoryRepository.GetByReference(ctx, adapterID, reference)
}

func TestDeclareDoesNotBlockReaders(t *testing.T) {
	sched := scheduler.New(scheduler.Options{Workers: 1})
	sched.Start()
	t.Cleanup(sched.Stop)

	repo := &slowRepository{
		MemoryRepository: NewMemoryRepository(),
		entered:          make(chan struct{}),
		release:          make(chan struct{}),
	}
	reg := NewRegistry(Options{Scheduler: sched, Repository: repo})
	adapter := newFakeAdapter("test")

	declared := make(chan error, 1)
	go func() {
		_, err := reg.Declare(context.Background(), adapter, Declaration{Reference: "lamp", Kind: Switch})
		declared <- err
	}()
	<-repo.entered

	listed := make(chan int, 1)
	go func() { listed <- len(reg.List()) }()
	select {
	case n := <-listed:
		if n != 0 {
			t.Errorf("List() = %d devices while declaring, want 0", n)
		}
	case <-time.After(time.Second):
		t.Fatal("List() blocked behind a repository read")
	}

	close(repo.release)
	if err := <-declared; err != nil {
		t.Fatalf("Declare() error = %v", err)
	}
	if _, err := reg.Lookup("test", "lamp"); err != nil {
		t.Errorf("Lookup() error = %v", err)
	}
}

func TestConcurrentDeclareSameReference(t *testing.T) {
	env := newTestEnv(t, scheduler.Options{Workers: 1})

	const n = 8
	devs := make([]*Device, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			dev, err := env.reg.Declare(context.Background(), env.adapter, Declaration{Reference: "lamp", Kind: Switch})
			if err != nil {
				t.Errorf("Declare() error = %v", err)
				return
			}
			devs[i] = dev
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if devs[i] != devs[0] {
			t.Fatalf("declaration %d returned a different device", i)
		}
	}
	if got := len(env.reg.List()); got != 1 {
		t.Errorf("List() = %d devices, want 1", got)
	}
}
