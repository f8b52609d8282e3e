// Package telemetry forwards applied device values to outside systems.
//
// Both forwarders are device event bus handlers:
//
//	device.EventBus ──┬──▶ StatePublisher ──▶ MQTT graylogic/hub/device/{id}/state (retained)
//	                  └──▶ Recorder       ──▶ InfluxDB device_values
//
// Handlers run on the publishing goroutine. Neither blocks: the MQTT
// publish is bounded by the client's publish timeout and InfluxDB writes
// are batched asynchronously.
package telemetry
