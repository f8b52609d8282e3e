// Package mqttbridge provides a device adapter for protocol bridges
// (Z-Wave, KNX, Zigbee gateways) that talk to the hub over MQTT.
//
// Command round-trip:
//
//	device.UpdateValue(api, 21.5)
//	    │
//	    ▼
//	Bridge.UpdateDevice ── Acquire "zwave/node-7" ──▶ graylogic/command/zwave/node-7
//	    │ apply=false                                         │
//	    ▼                                                     ▼
//	value unchanged                                     bridge drives device
//	                                                          │
//	graylogic/state/zwave/node-7  ◀───────────────────────────┘
//	    │
//	    ▼
//	Release "zwave/node-7" ─▶ UpdateValue(hardware|api, 21.5) ─▶ persist, publish
//
// A report with no pending entry is an unsolicited physical change and
// enters the pipeline with the Hardware source alone. Reports are checked
// against the commanded value (wrong_value) and entries that expire are
// reported as unconfirmed.
//
// Adapter state follows the broker connection and the bridge's retained
// health report on graylogic/health/{protocol}.
package mqttbridge
