// Package mqtt provides MQTT client connectivity for the hub.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// MQTT connects the hub to protocol bridges. A bridge adapter publishes
// commands and waits for the bridge to report the applied value on the
// matching state topic. The hub republishes every accepted device value
// as a retained message.
//
//	hub ──▶ graylogic/command/{protocol}/{reference} ──▶ bridge
//	hub ◀── graylogic/state/{protocol}/{reference}   ◀── bridge
//	hub ──▶ graylogic/hub/device/{id}/state (retained)
//	hub ──▶ graylogic/hub/status (retained, LWT)
//
// # Security Considerations
//
//   - TLS should be enabled for anything beyond a local broker (cfg.Broker.TLS=true)
//   - Credentials are best supplied via GRAYLOGIC_MQTT_USERNAME/PASSWORD
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.OnConnect(func() { logger.Info("broker connected") })
//	topic := mqtt.Topics{}.BridgeCommand("zwave", "node-7")
//	err = client.Publish(topic, payload, 1, false)
package mqtt
