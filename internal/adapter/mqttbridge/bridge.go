package mqttbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/nerrad567/gray-logic-hub/internal/adapter"
	"github.com/nerrad567/gray-logic-hub/internal/device"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-hub/internal/pending"
	"github.com/nerrad567/gray-logic-hub/internal/scheduler"
)

// Defaults for command retries.
const (
	DefaultRetryInterval = 5 * time.Second
	DefaultMaxRetries    = 5
	defaultQoS           = 1
)

// Client is the MQTT connection the bridge talks through. *mqtt.Client
// satisfies it.
type Client interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
	OnConnect(callback func())
	OnDisconnect(callback func(err error))
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Bridge.
type Options struct {
	// ID is the adapter ID. Defaults to Protocol.
	ID string

	// Protocol is the topic segment the bridge uses, e.g. "zwave".
	Protocol string

	Client    Client
	Registry  *device.Registry
	Scheduler *scheduler.Scheduler
	Pending   *pending.Registry

	// BlockWindow and WaitWindow bound the pending entry of each command.
	BlockWindow time.Duration
	WaitWindow  time.Duration

	// RetryInterval and MaxRetries bound command retries while the
	// broker is unreachable.
	RetryInterval time.Duration
	MaxRetries    int

	// DuplicateFilter drops repeated reports of the same value within
	// this window. Zero disables it.
	DuplicateFilter time.Duration

	// QoS for commands and subscriptions. Default: 1.
	QoS byte

	// Diagnostics receives wrong-value and unconfirmed outcomes. Optional.
	Diagnostics device.Diagnostics

	// Logger is optional.
	Logger adapter.Logger
}

// inflight is the pending payload of a published command.
type inflight struct {
	id    string
	value any
}

// Bridge is a device adapter for a protocol bridge reachable over MQTT.
//
// Commands are published to the bridge and held in the Pending-Update
// Registry until the bridge reports the device state. The report releases
// the entry and re-enters the update pipeline with the Hardware source.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	*adapter.Base

	protocol      string
	client        Client
	registry      *device.Registry
	sched         *scheduler.Scheduler
	clock         clockwork.Clock
	retryInterval time.Duration
	maxRetries    int
	dupWindow     time.Duration
	qos           byte
	diagnostics   device.Diagnostics
	logger        adapter.Logger

	mu        sync.Mutex
	connected bool
	health    HealthStatus
	stopped   bool

	// Bridge-level context for report handling, cancelled on Stop.
	ctx       context.Context
	ctxCancel context.CancelFunc
	stopOnce  sync.Once
	cancelExp func()
}

// New creates a bridge adapter in the init state.
//
// Returns:
//   - *Bridge: Ready to Start
//   - error: adapter.ErrNoPending without a pending registry, or a missing
//     client, registry, scheduler or protocol
func New(opts Options) (*Bridge, error) {
	switch {
	case opts.Pending == nil:
		return nil, adapter.ErrNoPending
	case opts.Client == nil:
		return nil, fmt.Errorf("mqttbridge: client is required")
	case opts.Registry == nil:
		return nil, fmt.Errorf("mqttbridge: device registry is required")
	case opts.Scheduler == nil:
		return nil, fmt.Errorf("mqttbridge: scheduler is required")
	case opts.Protocol == "":
		return nil, fmt.Errorf("mqttbridge: protocol is required")
	}
	if opts.ID == "" {
		opts.ID = opts.Protocol
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.QoS == 0 {
		opts.QoS = defaultQoS
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		Base: adapter.NewBase(opts.ID, adapter.Options{
			Pending:     opts.Pending,
			BlockWindow: opts.BlockWindow,
			WaitWindow:  opts.WaitWindow,
			Logger:      opts.Logger,
		}),
		protocol:      opts.Protocol,
		client:        opts.Client,
		registry:      opts.Registry,
		sched:         opts.Scheduler,
		clock:         opts.Scheduler.Clock(),
		retryInterval: opts.RetryInterval,
		maxRetries:    opts.MaxRetries,
		dupWindow:     opts.DuplicateFilter,
		qos:           opts.QoS,
		diagnostics:   opts.Diagnostics,
		logger:        opts.Logger,
		ctx:           ctx,
		ctxCancel:     cancel,
	}, nil
}

// Protocol returns the bridge's topic segment.
func (b *Bridge) Protocol() string {
	return b.protocol
}

// Start declares decls, subscribes to the bridge's state and health topics
// and moves the adapter to ready when the broker is connected.
//
// Retained state reports arrive while the adapter is still in init, so
// they restore device values without publishing them.
//
// Returns:
//   - []*device.Device: The devices declared successfully
//   - error: Failed declarations joined with any subscription failure
func (b *Bridge) Start(ctx context.Context, decls []device.Declaration) ([]*device.Device, error) {
	devices, declErr := adapter.DeclareAll(ctx, b.registry, b, decls)

	topics := mqtt.Topics{}
	var errs []error
	if err := b.client.Subscribe(topics.BridgeStates(b.protocol), b.qos, b.handleState); err != nil {
		errs = append(errs, fmt.Errorf("subscribing to %s state: %w", b.protocol, err))
	}
	if err := b.client.Subscribe(topics.BridgeHealth(b.protocol), b.qos, b.handleHealth); err != nil {
		errs = append(errs, fmt.Errorf("subscribing to %s health: %w", b.protocol, err))
	}

	b.client.OnConnect(func() { b.setConnected(true) })
	b.client.OnDisconnect(func(error) { b.setConnected(false) })
	b.cancelExp = b.OnUnconfirmed(b.unconfirmed)
	b.setConnected(b.client.IsConnected())

	b.logger.Info("bridge adapter started",
		"adapter", b.ID(),
		"protocol", b.protocol,
		"devices", len(devices),
		"state", b.State().String(),
	)
	return devices, errors.Join(append([]error{declErr}, errs...)...)
}

// Stop disables the adapter, drops queued retries, unsubscribes and
// releases its devices. Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopped = true
		b.mu.Unlock()

		b.SetState(device.StateDisabled)
		b.sched.Erase(scheduler.ByOwner(b))
		if b.cancelExp != nil {
			b.cancelExp()
		}

		topics := mqtt.Topics{}
		for _, topic := range []string{topics.BridgeStates(b.protocol), topics.BridgeHealth(b.protocol)} {
			if err := b.client.Unsubscribe(topic); err != nil {
				b.logger.Debug("unsubscribe failed", "adapter", b.ID(), "topic", topic, "error", err)
			}
		}

		n := b.registry.Release(b.ID())
		b.ctxCancel()
		b.logger.Info("bridge adapter stopped", "adapter", b.ID(), "devices_released", n)
	})
}

// UpdateDevice implements device.Adapter. It publishes a command and
// defers the change until the bridge reports the new state.
func (b *Bridge) UpdateDevice(ctx context.Context, source device.UpdateSource, dev *device.Device, value any) (bool, error) {
	if b.State() == device.StateDisabled {
		return false, adapter.ErrDisabled
	}

	if dev.Settings().PreventRace {
		if source&(device.SourceTimer|device.SourceScript) != 0 {
			b.GuardRace(dev.Reference(), source, value)
		} else {
			b.ClearRaceGuard(dev.Reference())
		}
	}

	if err := b.command(ctx, dev, source, value); err != nil {
		return false, err
	}
	return false, nil
}

// command takes the pending entry for dev and publishes value to the
// bridge, falling back to a retry task when publishing fails.
func (b *Bridge) command(ctx context.Context, dev *device.Device, source device.UpdateSource, value any) error {
	ref := dev.Reference()
	msg := CommandMessage{
		ID:        uuid.NewString(),
		Timestamp: b.clock.Now().UTC(),
		Device:    ref,
		Value:     wireValue(dev.Kind(), value),
		Source:    source.String(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding command: %w", err)
	}

	if !b.Acquire(ctx, ref, source, inflight{id: msg.ID, value: value}) {
		return fmt.Errorf("%w: %s", pending.ErrTargetBusy, b.Key(ref))
	}

	topic := mqtt.Topics{}.BridgeCommand(b.protocol, ref)
	if err := b.client.Publish(topic, payload, b.qos, false); err != nil {
		b.logger.Warn("command publish failed, retrying",
			"adapter", b.ID(),
			"reference", ref,
			"command_id", msg.ID,
			"error", err,
		)
		b.retry(dev, source, msg, topic, payload)
		return nil
	}

	b.logger.Debug("command published", "adapter", b.ID(), "reference", ref, "command_id", msg.ID, "value", dev.Kind().Format(value))
	return nil
}

// retry republishes a command every retry interval until it goes out, the
// pending entry moves on, or the retries run out.
func (b *Bridge) retry(dev *device.Device, source device.UpdateSource, msg CommandMessage, topic string, payload []byte) {
	ref := dev.Reference()
	b.sched.Schedule(b.retryInterval, uint(b.maxRetries), b, "command-retry", func(_ context.Context, t *scheduler.Task) (any, error) {
		_, p, ok := b.Peek(ref)
		if cmd, same := p.(inflight); !ok || !same || cmd.id != msg.ID {
			t.Stop()
			return nil, nil
		}

		err := b.client.Publish(topic, payload, b.qos, false)
		if err == nil {
			t.Stop()
			b.logger.Info("command published after retry", "adapter", b.ID(), "reference", ref, "command_id", msg.ID, "attempt", t.Iteration()+1)
			return msg.ID, nil
		}

		if t.Iteration()+1 >= uint(b.maxRetries) {
			b.Release(ref)
			b.diagnose(dev, device.OutcomeUnconfirmed, source, fmt.Sprint(msg.Value),
				fmt.Errorf("%w: gave up after %d retries: %w", ErrUnconfirmed, b.maxRetries, err))
			return nil, nil
		}
		b.logger.Debug("command retry failed", "adapter", b.ID(), "reference", ref, "attempt", t.Iteration()+1, "error", err)
		return nil, nil
	})
}

// handleState processes a state report from the bridge.
func (b *Bridge) handleState(topic string, payload []byte) error {
	ref, ok := mqtt.Topics{}.ReferenceFromState(b.protocol, topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnexpectedTopic, topic)
	}

	var msg StateMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if msg.Value == nil {
		return fmt.Errorf("%w: %s: missing value", ErrInvalidMessage, topic)
	}

	dev, err := b.registry.Lookup(b.ID(), ref)
	if err != nil {
		b.logger.Debug("state for undeclared reference ignored", "adapter", b.ID(), "reference", ref)
		return nil
	}

	kind := dev.Kind()
	value, err := kind.Convert(msg.Value)
	if err != nil {
		return fmt.Errorf("state for %s: %w", b.Key(ref), err)
	}
	formatted := kind.Format(value)

	if b.DuplicateReport(ref, formatted, b.dupWindow) {
		b.logger.Debug("duplicate state report dropped", "adapter", b.ID(), "reference", ref, "value", formatted)
		return nil
	}

	source := device.SourceHardware
	if origin, p, ok := b.Release(ref); ok {
		source |= origin
		if cmd, ok := p.(inflight); ok {
			if msg.CommandID != "" && msg.CommandID != cmd.id {
				b.logger.Debug("state answers an older command", "adapter", b.ID(), "reference", ref, "command_id", msg.CommandID)
			}
			if want := kind.Format(cmd.value); want != formatted {
				b.diagnose(dev, device.OutcomeWrongValue, origin, formatted,
					fmt.Errorf("%w: commanded %s", ErrWrongValue, want))
			}
		}
	} else if dev.Settings().PreventRace {
		if guardSource, guarded, ok := b.RaceGuard(ref); ok && kind.Format(guarded) != formatted {
			b.logger.Info("reverting report that contradicts automation",
				"adapter", b.ID(),
				"reference", ref,
				"reported", formatted,
				"guarded", kind.Format(guarded),
			)
			if err := b.command(b.ctx, dev, guardSource, guarded); err != nil {
				return fmt.Errorf("reverting %s: %w", b.Key(ref), err)
			}
			return nil
		}
	}

	dev.UpdateValue(b.ctx, source, value)
	return nil
}

// handleHealth records the bridge's reported status.
func (b *Bridge) handleHealth(_ string, payload []byte) error {
	var msg HealthMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}

	b.mu.Lock()
	b.health = msg.Status
	b.mu.Unlock()

	if msg.Status != HealthHealthy {
		b.logger.Warn("bridge reported status", "adapter", b.ID(), "status", string(msg.Status), "reason", msg.Reason)
	}
	b.refreshState()
	return nil
}

func (b *Bridge) setConnected(connected bool) {
	b.mu.Lock()
	b.connected = connected
	b.mu.Unlock()
	b.refreshState()
}

// refreshState derives the adapter state from the broker connection and
// the bridge's last health report. State listeners run without b.mu held;
// the loop re-checks so concurrent refreshes settle on the latest inputs.
func (b *Bridge) refreshState() {
	want, ok := b.wantedState()
	for ok {
		if !b.SetStateUnlessDisabled(want) {
			return
		}
		var again device.AdapterState
		again, ok = b.wantedState()
		if again == want {
			return
		}
		want = again
	}
}

// wantedState returns the state the inputs call for, or false once the
// bridge is stopped.
func (b *Bridge) wantedState() (device.AdapterState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return 0, false
	}
	if !b.connected {
		return device.StateFailed, true
	}
	return b.health.AdapterState(), true
}

// unconfirmed handles a command whose pending entry expired.
func (b *Bridge) unconfirmed(ref string, source device.UpdateSource, payload any) {
	dev, err := b.registry.Lookup(b.ID(), ref)
	if err != nil {
		return
	}
	value := ""
	if cmd, ok := payload.(inflight); ok {
		value = dev.Kind().Format(cmd.value)
	}
	_, wait := b.Windows()
	b.diagnose(dev, device.OutcomeUnconfirmed, source, value,
		fmt.Errorf("%w: no state report within %v", ErrUnconfirmed, wait))
}

func (b *Bridge) diagnose(dev *device.Device, outcome device.Outcome, source device.UpdateSource, value string, err error) {
	b.logger.Warn("device command problem",
		"adapter", b.ID(),
		"reference", dev.Reference(),
		"outcome", string(outcome),
		"source", source.String(),
		"value", value,
		"error", err,
	)
	if b.diagnostics == nil {
		return
	}
	b.diagnostics.RecordDiagnostic(b.ctx, device.Diagnostic{
		At:        b.clock.Now(),
		DeviceID:  dev.ID(),
		AdapterID: b.ID(),
		Reference: dev.Reference(),
		Outcome:   outcome,
		Source:    source,
		Value:     value,
		Err:       err,
	})
}

var _ device.Adapter = (*Bridge)(nil)
