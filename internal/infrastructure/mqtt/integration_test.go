//go:build integration

package mqtt

import (
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-senseme/internal/infrastructure/config"
)

// These tests need a broker at 127.0.0.1:1883:
//
//	go test -tags=integration -count=1 ./internal/infrastructure/mqtt/...

func integrationConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Broker:    config.MQTTBrokerConfig{Host: "127.0.0.1", Port: 1883, ClientID: clientID},
		QoS:       1,
		Reconnect: config.MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 5},
	}
}

func connect(t *testing.T, clientID string) *Client {
	t.Helper()
	c, err := Connect(integrationConfig(clientID))
	if err != nil {
		t.Fatalf("Connect(%s) error = %v", clientID, err)
	}
	t.Cleanup(func() { c.Close() }) //nolint:errcheck // test cleanup
	return c
}

func TestIntegration_CommandRoundtrip(t *testing.T) {
	sub := connect(t, "senseme-int-sub")
	pub := connect(t, "senseme-int-pub")

	received := make(chan string, 1)
	err := sub.Subscribe(Topics{}.AllCommands(), 1, func(topic string, p []byte) error {
		if id, ok := FanIDFromTopic(topic); ok && id == "int-fan" {
			select {
			case received <- string(p):
			default:
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if n := sub.Stats().Subscriptions; n != 1 {
		t.Errorf("Subscriptions = %d, want 1", n)
	}

	time.Sleep(100 * time.Millisecond)

	if err := pub.Publish(Topics{}.Command("int-fan"), []byte(`{"command":"fan_on"}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case msg := <-received:
		if msg != `{"command":"fan_on"}` {
			t.Errorf("received %q", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for command")
	}
	if pub.Stats().Published != 1 {
		t.Errorf("Published = %d, want 1", pub.Stats().Published)
	}
}

// TestIntegration_RetainedState checks a late subscriber sees the last
// retained value.
func TestIntegration_RetainedState(t *testing.T) {
	pub := connect(t, "senseme-int-retain-pub")

	topic := Topics{}.State("int-fan", "fan_speed")
	if err := pub.Publish(topic, []byte(`{"value":"3"}`), 1, true); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	defer pub.Publish(topic, nil, 1, true) //nolint:errcheck // clear retained

	sub := connect(t, "senseme-int-retain-sub")

	received := make(chan string, 1)
	err := sub.Subscribe(Topics{}.AllStates(), 1, func(tp string, p []byte) error {
		if tp == topic {
			select {
			case received <- string(p):
			default:
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	select {
	case msg := <-received:
		if msg != `{"value":"3"}` {
			t.Errorf("retained payload = %q", msg)
		}
	case <-time.After(5 * time.Second):
		t.Error("timeout waiting for retained state")
	}
}
