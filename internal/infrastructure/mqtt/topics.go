package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes.
//
// Bridge topics use the flat scheme graylogic/{category}/{protocol}/{reference},
// hub topics live under graylogic/hub.
const (
	// TopicPrefixBridge is the base for all bridge topics.
	TopicPrefixBridge = "graylogic"

	// TopicPrefixHub is the base for topics the hub publishes.
	TopicPrefixHub = "graylogic/hub"
)

// Topics provides builders for hub MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.BridgeCommand("zwave", "node-7") // graylogic/command/zwave/node-7
type Topics struct{}

// BridgeCommand returns the topic the hub publishes device commands on.
//
// Example: graylogic/command/zwave/node-7
func (Topics) BridgeCommand(protocol, reference string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefixBridge, protocol, reference)
}

// BridgeState returns the topic a bridge reports device values on.
//
// Example: graylogic/state/zwave/node-7
func (Topics) BridgeState(protocol, reference string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefixBridge, protocol, reference)
}

// BridgeStates returns a pattern matching every state report of one protocol.
//
// Pattern: graylogic/state/zwave/+
func (Topics) BridgeStates(protocol string) string {
	return fmt.Sprintf("%s/state/%s/+", TopicPrefixBridge, protocol)
}

// BridgeHealth returns the topic a bridge reports its own status on.
//
// Example: graylogic/health/zwave
func (Topics) BridgeHealth(protocol string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefixBridge, protocol)
}

// DeviceState returns the retained topic carrying a device's current value.
//
// Example: graylogic/hub/device/12/state
func (Topics) DeviceState(deviceID int64) string {
	return fmt.Sprintf("%s/device/%d/state", TopicPrefixHub, deviceID)
}

// AllDeviceStates returns a pattern matching every published device value.
//
// Pattern: graylogic/hub/device/+/state
func (Topics) AllDeviceStates() string {
	return TopicPrefixHub + "/device/+/state"
}

// SystemStatus returns the hub status topic carrying online/offline and LWT.
//
// Example: graylogic/hub/status
func (Topics) SystemStatus() string {
	return TopicPrefixHub + "/status"
}

// ReferenceFromState extracts the device reference from a bridge state
// topic. It reports false when topic is not a state topic of protocol.
func (Topics) ReferenceFromState(protocol, topic string) (string, bool) {
	prefix := fmt.Sprintf("%s/state/%s/", TopicPrefixBridge, protocol)
	ref, ok := strings.CutPrefix(topic, prefix)
	if !ok || ref == "" || strings.Contains(ref, "/") {
		return "", false
	}
	return ref, true
}
