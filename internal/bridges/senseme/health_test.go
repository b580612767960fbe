package senseme

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

// mockPublisher implements HealthPublisher.
type mockPublisher struct {
	mu        sync.Mutex
	connected bool
	messages  []HealthMessage
	topics    []string
}

func (m *mockPublisher) Publish(topic string, payload []byte, _ byte, _ bool) error {
	var msg HealthMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return err
	}
	m.mu.Lock()
	m.topics = append(m.topics, topic)
	m.messages = append(m.messages, msg)
	m.mu.Unlock()
	return nil
}

func (m *mockPublisher) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockPublisher) last() (HealthMessage, string, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) == 0 {
		return HealthMessage{}, "", 0
	}
	return m.messages[len(m.messages)-1], m.topics[len(m.topics)-1], len(m.messages)
}

type staticSource struct {
	managed, connected int
	stats              BridgeStatistics
}

func (s staticSource) HealthSnapshot() (int, int, BridgeStatistics) {
	return s.managed, s.connected, s.stats
}

func TestHealthReporter_Status(t *testing.T) {
	tests := []struct {
		name      string
		mqttUp    bool
		source    staticSource
		want      HealthStatus
		wantCount int
	}{
		{"healthy", true, staticSource{managed: 2, connected: 2}, HealthHealthy, 2},
		{"fan down", true, staticSource{managed: 2, connected: 1}, HealthDegraded, 2},
		{"mqtt down", false, staticSource{managed: 1, connected: 1}, HealthDegraded, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &mockPublisher{connected: tt.mqttUp}
			h := NewHealthReporter(HealthReporterConfig{
				BridgeID:  "senseme-bridge",
				Version:   "1.2.3",
				Publisher: pub,
				Source:    tt.source,
				Clock:     clockwork.NewFakeClock(),
			})

			if err := h.PublishNow(); err != nil {
				t.Fatalf("PublishNow() error = %v", err)
			}
			msg, topic, _ := pub.last()
			if topic != "senseme/health" {
				t.Errorf("topic = %q", topic)
			}
			if msg.Status != tt.want {
				t.Errorf("Status = %q, want %q (reason %q)", msg.Status, tt.want, msg.Reason)
			}
			if msg.DevicesManaged != tt.wantCount || msg.Version != "1.2.3" {
				t.Errorf("msg = %+v", msg)
			}
		})
	}
}

func TestHealthReporter_Loop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	pub := &mockPublisher{connected: true}
	h := NewHealthReporter(HealthReporterConfig{
		BridgeID:  "senseme-bridge",
		Interval:  10 * time.Second,
		Publisher: pub,
		Source:    staticSource{stats: BridgeStatistics{FramesProcessed: 7}},
		Clock:     clock,
	})

	if err := h.PublishStarting(); err != nil {
		t.Fatalf("PublishStarting() error = %v", err)
	}
	if msg, _, _ := pub.last(); msg.Status != HealthStarting {
		t.Errorf("Status = %q, want starting", msg.Status)
	}

	h.Start(context.Background())
	eventually(t, "initial publish", func() bool { _, _, n := pub.last(); return n == 2 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("ticker not armed: %v", err)
	}
	clock.Advance(10 * time.Second)
	eventually(t, "tick publish", func() bool { _, _, n := pub.last(); return n == 3 })

	h.Stop()
	h.Stop()
	msg, _, n := pub.last()
	if n != 4 || msg.Status != HealthStopping {
		t.Errorf("final = %+v (count %d), want stopping", msg, n)
	}
	if msg.Statistics == nil || msg.Statistics.FramesProcessed != 7 {
		t.Errorf("Statistics = %+v", msg.Statistics)
	}
}

func TestHealthReporter_LWTPayload(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{BridgeID: "senseme-bridge"})
	payload, err := h.LWTPayload()
	if err != nil {
		t.Fatalf("LWTPayload() error = %v", err)
	}

	var msg HealthMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if msg.Status != HealthOffline {
		t.Errorf("Status = %q, want offline", msg.Status)
	}
}

func TestHealthReporter_NoPublisher(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{})
	if err := h.PublishNow(); err != nil {
		t.Errorf("PublishNow() without publisher error = %v", err)
	}
}
