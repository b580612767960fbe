package influxdb

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-senseme/internal/infrastructure/config"
)

// mockWriter records points instead of sending them.
type mockWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (m *mockWriter) WritePoint(p *write.Point) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = append(m.points, p)
}

func (m *mockWriter) Flush() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
}

func newMockClient() (*Client, *mockWriter) {
	w := &mockWriter{}
	return &Client{writer: w, connected: true}, w
}

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(context.Background(), config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION") == "" {
		t.Skip("set RUN_INTEGRATION to exercise network failures")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := Connect(ctx, config.InfluxDBConfig{Enabled: true, URL: "http://127.0.0.1:59999"})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestFanStatePoint(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name      string
		value     string
		wantField string
		wantValue any
	}{
		{"numeric", "3", "value", 3.0},
		{"temperature", "25.5", "value", 25.5},
		{"on", "ON", "value", 1.0},
		{"off", "OFF", "value", 0.0},
		{"occupancy", "OCCUPIED", "value", 1.0},
		{"text", "FWD", "text", "FWD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := FanStatePoint("bedroom", "fan_speed", tt.value, ts)
			if p == nil {
				t.Fatal("FanStatePoint() = nil")
			}
			if p.Name() != MeasurementFanState {
				t.Errorf("Name() = %q, want %q", p.Name(), MeasurementFanState)
			}
			if !p.Time().Equal(ts) {
				t.Errorf("Time() = %v, want %v", p.Time(), ts)
			}

			tags := map[string]string{}
			for _, tag := range p.TagList() {
				tags[tag.Key] = tag.Value
			}
			if tags["fan_id"] != "bedroom" || tags["attribute"] != "fan_speed" {
				t.Errorf("tags = %v", tags)
			}

			fields := p.FieldList()
			if len(fields) != 1 {
				t.Fatalf("fields = %d, want 1", len(fields))
			}
			if fields[0].Key != tt.wantField || fields[0].Value != tt.wantValue {
				t.Errorf("field = %s=%v, want %s=%v", fields[0].Key, fields[0].Value, tt.wantField, tt.wantValue)
			}
		})
	}
}

func TestFanStatePoint_Empty(t *testing.T) {
	if p := FanStatePoint("bedroom", "fan_speed", "", time.Now()); p != nil {
		t.Errorf("FanStatePoint(empty) = %v, want nil", p)
	}
}

func TestWriteFanState(t *testing.T) {
	c, w := newMockClient()

	c.WriteFanState("bedroom", "light_level", "8", time.Now())
	c.WriteFanState("bedroom", "light_level", "", time.Now())

	if len(w.points) != 1 {
		t.Fatalf("points = %d, want 1", len(w.points))
	}
}

func TestWriteFanState_Disconnected(t *testing.T) {
	c, w := newMockClient()
	c.connected = false

	c.WriteFanState("bedroom", "fan_speed", "3", time.Now())

	if len(w.points) != 0 {
		t.Errorf("points = %d, want 0 when disconnected", len(w.points))
	}
}

func TestClose_FlushesOnce(t *testing.T) {
	c, w := newMockClient()

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if w.flushes != 1 {
		t.Errorf("flushes = %d, want 1", w.flushes)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}

	c.Flush()
	if w.flushes != 1 {
		t.Errorf("Flush() after Close() flushed")
	}
}

func TestClose_Nil(t *testing.T) {
	var c *Client
	if err := c.Close(); err != nil {
		t.Errorf("nil Close() error = %v", err)
	}
	if c.IsConnected() {
		t.Error("nil IsConnected() = true")
	}
}

func TestHealthCheck_NotConnected(t *testing.T) {
	c, _ := newMockClient()
	c.connected = false

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestHandleWriteErrors(t *testing.T) {
	c, _ := newMockClient()

	got := make(chan error, 1)
	c.SetOnError(func(err error) { got <- err })

	errs := make(chan error, 1)
	errs <- errors.New("batch rejected")
	close(errs)
	c.handleWriteErrors(errs)

	select {
	case err := <-got:
		if !errors.Is(err, ErrWriteFailed) {
			t.Errorf("callback error = %v, want ErrWriteFailed", err)
		}
	default:
		t.Fatal("callback not invoked")
	}
}
