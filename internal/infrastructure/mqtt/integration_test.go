//go:build integration

package mqtt

import (
	"context"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
)

// Integration tests require a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func integrationConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: clientID,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func TestIntegration_MessageRoundtrip(t *testing.T) {
	client, err := Connect(context.Background(), integrationConfig("grayhub-int-roundtrip"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	received := make(chan string, 1)
	err = client.Subscribe(Topics{}.BridgeStates("inttest"), 1, func(topic string, payload []byte) error {
		ref, _ := Topics{}.ReferenceFromState("inttest", topic)
		received <- ref + "=" + string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	states := Topics{}.BridgeStates("inttest")
	if got := client.Subscriptions(); len(got) != 1 || got[0] != states {
		t.Errorf("Subscriptions() = %v, want the inttest state filter", got)
	}

	if err := client.Publish(Topics{}.BridgeState("inttest", "node-1"), []byte("42"), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if got != "node-1=42" {
			t.Errorf("received %q, want node-1=42", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	if err := client.Unsubscribe(Topics{}.BridgeStates("inttest")); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
}

func TestIntegration_RetainedDeviceState(t *testing.T) {
	client, err := Connect(context.Background(), integrationConfig("grayhub-int-retained"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	topic := Topics{}.DeviceState(99999)
	if err := client.PublishDeviceState(99999, []byte(`{"value":1}`)); err != nil {
		t.Fatalf("PublishDeviceState() error = %v", err)
	}
	defer client.PublishDeviceState(99999, nil) //nolint:errcheck // Clears the retained message

	received := make(chan []byte, 1)
	if err := client.Subscribe(topic, 1, func(_ string, payload []byte) error {
		received <- payload
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	select {
	case got := <-received:
		if string(got) != `{"value":1}` {
			t.Errorf("retained payload = %s", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("retained message not delivered")
	}
}

func TestIntegration_ConnectCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := integrationConfig("grayhub-int-cancel")
	cfg.Broker.Port = 19999
	if _, err := Connect(ctx, cfg); err == nil {
		t.Fatal("Connect() with cancelled context succeeded")
	}
}
