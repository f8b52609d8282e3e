package mqtt

import (
	"fmt"
	"slices"
	"strings"
)

// Subscribe registers handler for messages matching filter.
//
// A bridge adapter subscribes to its protocol's state and health topics:
//   - graylogic/state/{protocol}/+ carries device values
//   - graylogic/health/{protocol} carries the bridge's own health
//
// Subscriptions are remembered and restored after a reconnect. handler
// runs on the paho callback goroutine; panics are recovered and returned
// errors are logged.
//
// Parameters:
//   - filter: Topic filter, + and # must occupy a whole level and # must be last
//   - qos: Maximum QoS for delivered messages (0, 1 or 2)
//   - handler: Callback for each message
//
// Returns:
//   - error: ErrInvalidTopic or ErrInvalidQoS for bad arguments,
//     ErrNotConnected while the broker is down, otherwise a wrapped
//     ErrSubscribeFailed
//
// Example:
//
//	err := client.Subscribe(mqtt.Topics{}.BridgeStates("zwave"), 1,
//	    func(topic string, payload []byte) error {
//	        ref, _ := mqtt.Topics{}.ReferenceFromState("zwave", topic)
//	        return bridge.handleState(ref, payload)
//	    })
func (c *Client) Subscribe(filter string, qos byte, handler MessageHandler) error {
	if err := validateFilter(filter); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: %s: nil handler", ErrSubscribeFailed, filter)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.track(subscription{topic: filter, qos: qos, handler: handler})
	token := c.client.Subscribe(filter, qos, c.wrapHandler(handler))
	if !token.WaitTimeout(defaultPublishTimeout) {
		c.untrack(filter)
		return fmt.Errorf("%w: %s: timeout after %v", ErrSubscribeFailed, filter, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		c.untrack(filter)
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, filter, err)
	}
	return nil
}

// Unsubscribe drops the subscription for filter. Messages already in
// flight may still reach the handler.
//
// The filter is forgotten even when the broker cannot be reached, so a
// stopped bridge is not resubscribed on the next reconnect.
func (c *Client) Unsubscribe(filter string) error {
	if filter == "" {
		return ErrInvalidTopic
	}
	c.untrack(filter)
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Unsubscribe(filter)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %s: timeout after %v", ErrUnsubscribeFailed, filter, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUnsubscribeFailed, filter, err)
	}
	return nil
}

// Subscriptions returns the tracked topic filters in sorted order.
func (c *Client) Subscriptions() []string {
	c.subMu.RLock()
	filters := make([]string, 0, len(c.subscriptions))
	for filter := range c.subscriptions {
		filters = append(filters, filter)
	}
	c.subMu.RUnlock()
	slices.Sort(filters)
	return filters
}

func (c *Client) track(sub subscription) {
	c.subMu.Lock()
	c.subscriptions[sub.topic] = sub
	c.subMu.Unlock()
}

func (c *Client) untrack(filter string) {
	c.subMu.Lock()
	delete(c.subscriptions, filter)
	c.subMu.Unlock()
}

// validateFilter checks filter against the MQTT wildcard rules.
func validateFilter(filter string) error {
	if filter == "" {
		return ErrInvalidTopic
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch {
		case level == "#" && i != len(levels)-1:
			return fmt.Errorf("%w: %q: # must be the last level", ErrInvalidTopic, filter)
		case level != "+" && level != "#" && strings.ContainsAny(level, "+#"):
			return fmt.Errorf("%w: %q: wildcard must fill a whole level", ErrInvalidTopic, filter)
		}
	}
	return nil
}
