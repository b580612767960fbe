package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/gray-logic-senseme/internal/infrastructure/config"
)

type mockLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

// fakeMessage implements pahomqtt.Message.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestTopicBuilders(t *testing.T) {
	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"State", Topics{}.State("bedroom", "fan_speed"), "senseme/state/bedroom/fan_speed"},
		{"Event", Topics{}.Event("bedroom"), "senseme/event/bedroom"},
		{"Command", Topics{}.Command("bedroom"), "senseme/command/bedroom"},
		{"Ack", Topics{}.Ack("bedroom"), "senseme/ack/bedroom"},
		{"Health", Topics{}.Health(), "senseme/health"},
		{"Status", Topics{}.Status(), "senseme/status"},
		{"AllCommands", Topics{}.AllCommands(), "senseme/command/+"},
		{"AllStates", Topics{}.AllStates(), "senseme/state/+/+"},
		{"AllEvents", Topics{}.AllEvents(), "senseme/event/+"},
		{"AllTopics", Topics{}.AllTopics(), "senseme/#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s() = %q, want %q", tt.name, tt.got, tt.expected)
			}
		})
	}
}

func TestFanIDFromTopic(t *testing.T) {
	tests := []struct {
		topic  string
		wantID string
		wantOK bool
	}{
		{"senseme/command/bedroom", "bedroom", true},
		{"senseme/state/porch/fan_speed", "porch", true},
		{"senseme/command/", "", false},
		{"senseme/health", "", false},
		{"other/command/bedroom", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			id, ok := FanIDFromTopic(tt.topic)
			if id != tt.wantID || ok != tt.wantOK {
				t.Errorf("FanIDFromTopic(%q) = (%q, %v), want (%q, %v)", tt.topic, id, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker:    config.MQTTBrokerConfig{Host: "broker.local", Port: 8883, TLS: true, ClientID: "senseme-test"},
		Auth:      config.MQTTAuthConfig{Username: "fan", Password: "secret"},
		Reconnect: config.MQTTReconnectConfig{InitialDelay: 2, MaxDelay: 30},
	}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://broker.local:8883" {
		t.Errorf("Servers = %v, want [ssl://broker.local:8883]", opts.Servers)
	}
	if opts.ClientID != "senseme-test" {
		t.Errorf("ClientID = %q, want senseme-test", opts.ClientID)
	}
	if opts.Username != "fan" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q, want fan/secret", opts.Username, opts.Password)
	}
	if !opts.AutoReconnect || !opts.CleanSession {
		t.Errorf("AutoReconnect = %v, CleanSession = %v, want both true", opts.AutoReconnect, opts.CleanSession)
	}
	if opts.MaxReconnectInterval.Seconds() != 30 {
		t.Errorf("MaxReconnectInterval = %v, want 30s", opts.MaxReconnectInterval)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLSConfig not set with minimum version")
	}

	plain := buildClientOptions(config.MQTTConfig{Broker: config.MQTTBrokerConfig{Host: "h", Port: 1883}})
	if plain.Servers[0].Scheme != "tcp" || plain.Username != "" {
		t.Errorf("plain options = %v / %q", plain.Servers[0], plain.Username)
	}
}

func TestSetWill(t *testing.T) {
	opts := buildClientOptions(config.MQTTConfig{Broker: config.MQTTBrokerConfig{Host: "h", Port: 1883}})
	setWill(opts, "senseme-bridge")

	if !opts.WillEnabled || !opts.WillRetained {
		t.Fatalf("WillEnabled = %v, WillRetained = %v", opts.WillEnabled, opts.WillRetained)
	}
	if opts.WillTopic != "senseme/status" {
		t.Errorf("WillTopic = %q, want senseme/status", opts.WillTopic)
	}

	var msg StatusMessage
	if err := json.Unmarshal(opts.WillPayload, &msg); err != nil {
		t.Fatalf("will payload: %v", err)
	}
	if msg.Status != "offline" || msg.Reason != "unexpected_disconnect" || msg.ClientID != "senseme-bridge" {
		t.Errorf("will = %+v", msg)
	}
}

func TestStatusPayload(t *testing.T) {
	var msg StatusMessage
	if err := json.Unmarshal(statusPayload("c1", "online", ""), &msg); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if msg.Status != "online" || msg.ClientID != "c1" || msg.Reason != "" || msg.Timestamp == "" {
		t.Errorf("online = %+v", msg)
	}
}

func TestDisconnectedClient(t *testing.T) {
	client := newClient(config.MQTTConfig{})

	if client.IsConnected() {
		t.Error("IsConnected() = true for a client that never connected")
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() cancelled error = %v, want context.Canceled", err)
	}
}

func TestPublishValidation(t *testing.T) {
	client := newClient(config.MQTTConfig{})

	tests := []struct {
		name    string
		topic   string
		qos     byte
		payload []byte
		wantErr error
	}{
		{"empty topic", "", 1, nil, ErrInvalidTopic},
		{"invalid qos", "senseme/x", 3, nil, ErrInvalidQoS},
		{"oversized", "senseme/x", 1, make([]byte, maxPayloadSize+1), ErrPublishFailed},
		{"disconnected", "senseme/x", 1, []byte("{}"), ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
	if client.Stats().Published != 0 {
		t.Error("failed publishes were counted")
	}
}

func TestSubscribeValidation(t *testing.T) {
	client := newClient(config.MQTTConfig{})
	handler := func(string, []byte) error { return nil }

	if err := client.Subscribe("", 1, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v, want ErrInvalidTopic", err)
	}
	if err := client.Subscribe("senseme/x", 3, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("bad qos error = %v, want ErrInvalidQoS", err)
	}
	if err := client.Subscribe("senseme/x", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v, want ErrSubscribeFailed", err)
	}
	if err := client.Subscribe("senseme/x", 1, handler); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected error = %v, want ErrNotConnected", err)
	}
	if n := client.Stats().Subscriptions; n != 0 {
		t.Errorf("Subscriptions = %d, want 0", n)
	}
}

func TestDispatch(t *testing.T) {
	client := newClient(config.MQTTConfig{})
	logger := &mockLogger{}
	client.SetLogger(logger)

	var got []string
	ok := client.dispatch(func(topic string, payload []byte) error {
		got = append(got, topic+"="+string(payload))
		return nil
	})
	failing := client.dispatch(func(string, []byte) error { return errors.New("bad command") })
	panicking := client.dispatch(func(string, []byte) error { panic("boom") })

	ok(nil, fakeMessage{topic: "senseme/command/bedroom", payload: []byte("{}")})
	failing(nil, fakeMessage{topic: "senseme/command/bedroom"})
	panicking(nil, fakeMessage{topic: "senseme/command/bedroom"})

	if len(got) != 1 || got[0] != "senseme/command/bedroom={}" {
		t.Errorf("handler saw %v", got)
	}
	stats := client.Stats()
	if stats.Received != 3 || stats.HandlerErrors != 2 {
		t.Errorf("stats = %+v, want 3 received, 2 handler errors", stats)
	}
	if len(logger.warns) != 1 || len(logger.errors) != 1 {
		t.Errorf("warns = %v, errors = %v", logger.warns, logger.errors)
	}

	// Without a logger failures are still counted.
	client.SetLogger(nil)
	failing(nil, fakeMessage{topic: "senseme/command/bedroom"})
	if client.Stats().HandlerErrors != 3 {
		t.Errorf("HandlerErrors = %d, want 3", client.Stats().HandlerErrors)
	}
}

func TestSessionCallbacks(t *testing.T) {
	client := newClient(config.MQTTConfig{})

	var lost error
	client.SetOnDisconnect(func(err error) { lost = err })
	client.setConnected(true)

	want := errors.New("broker went away")
	client.sessionLost(want)

	if !errors.Is(lost, want) {
		t.Errorf("OnDisconnect got %v, want %v", lost, want)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after session lost")
	}
}
