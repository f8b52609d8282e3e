package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Event is published for every applied value change once the owning
// adapter has left its initialization phase.
type Event struct {
	DeviceID  int64        `json:"device_id"`
	Reference string       `json:"reference"`
	AdapterID string       `json:"adapter"`
	Label     string       `json:"label"`
	Kind      KindName     `json:"kind"`
	Value     any          `json:"value"`
	Previous  any          `json:"previous"`
	Source    UpdateSource `json:"source"`
	At        time.Time    `json:"at"`
}

// Formatted returns the value and previous value rendered by the device kind.
func (e Event) Formatted() (value, previous string) {
	kind, err := KindByName(string(e.Kind))
	if err != nil {
		return fmt.Sprint(e.Value), fmt.Sprint(e.Previous)
	}
	return kind.Format(e.Value), kind.Format(e.Previous)
}

// Handler receives published events. Handlers run on the publishing
// goroutine and must not block for long.
type Handler func(ctx context.Context, ev Event) error

// Publisher is the event-bus contract the update pipeline writes to.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// EventBus is a thread-safe in-process fan-out of device events.
type EventBus struct {
	mu       sync.RWMutex
	handlers []handlerEntry
	nextID   int
}

type handlerEntry struct {
	id      int
	handler Handler
}

// NewEventBus creates an empty event bus.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Publish delivers ev to every subscriber. Handlers are collected under the
// lock and invoked outside it; every handler runs even when an earlier one
// fails.
func (b *EventBus) Publish(ctx context.Context, ev Event) error {
	b.mu.RLock()
	targets := make([]Handler, 0, len(b.handlers))
	for _, e := range b.handlers {
		targets = append(targets, e.handler)
	}
	b.mu.RUnlock()

	var errs []error
	for _, h := range targets {
		if err := h(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("publishing device %d event: %w", ev.DeviceID, errors.Join(errs...))
	}
	return nil
}

// Subscribe registers handler. The returned function unsubscribes it.
func (b *EventBus) Subscribe(handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, handlerEntry{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		filtered := b.handlers[:0]
		for _, e := range b.handlers {
			if e.id != id {
				filtered = append(filtered, e)
			}
		}
		b.handlers = filtered
	}
}

// Len returns the number of subscribers.
func (b *EventBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}
