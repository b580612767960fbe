package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-senseme/internal/bridges/senseme"
	"github.com/nerrad567/gray-logic-senseme/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-senseme/internal/infrastructure/logging"
)

func writeConfig(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("SENSEME_CONFIG", path)
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestRun_InvalidConfigPath(t *testing.T) {
	t.Setenv("SENSEME_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with a missing config file")
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	writeConfig(t, `
database:
  path: ""
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with an empty database path")
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("SENSEME_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("SENSEME_CONFIG", "/custom/config.yaml")
	if got := getConfigPath(); got != "/custom/config.yaml" {
		t.Errorf("getConfigPath() = %q, want /custom/config.yaml", got)
	}
}

// TestRun_StartupAndShutdown runs the bridge without MQTT or InfluxDB.
// The seeded fan points at a closed local port, so it keeps retrying.
func TestRun_StartupAndShutdown(t *testing.T) {
	port := freePort(t)
	dbPath := filepath.Join(t.TempDir(), "senseme.db")
	writeConfig(t, fmt.Sprintf(`
database:
  path: %q
mqtt:
  enabled: false
api:
  enabled: true
  host: "127.0.0.1"
  port: %d
logging:
  level: error
  format: text
  output: stderr
senseme:
  reconnect_delay: 1
  retry_delay: 1
  fans:
    - id: office
      name: Office
      ip: 127.0.0.1
`, dbPath, port))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/api/v1/health", port)
	var health struct {
		Managed int `json:"fans_managed"`
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			err = json.NewDecoder(resp.Body).Decode(&health)
			resp.Body.Close()
			if err == nil {
				break
			}
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("API did not come up: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}
	if health.Managed != 1 {
		t.Errorf("fans_managed = %d, want 1", health.Managed)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}

func TestBridgeOptions(t *testing.T) {
	cfg := &config.Config{
		Bridge: config.BridgeConfig{ID: "bridge-1", HealthInterval: 15},
		SenseME: config.SenseMEConfig{
			QueueSize:       50,
			ReconnectDelay:  0,
			RetryDelay:      30,
			PollInterval:    5,
			ConfirmTimeout:  8,
			TemperatureUnit: "F",
			UDPAddress:      ":31415",
		},
	}
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, "test")

	opts, err := bridgeOptions(cfg, nil, nil, nil, log)
	if err != nil {
		t.Fatalf("bridgeOptions() error = %v", err)
	}
	if opts.BridgeID != "bridge-1" || opts.QueueSize != 50 {
		t.Errorf("opts = %+v", opts)
	}
	if opts.ReconnectDelay >= 0 {
		t.Errorf("ReconnectDelay = %v, want negative for immediate reconnect", opts.ReconnectDelay)
	}
	if opts.ConfirmTimeout != 8*time.Second || opts.HealthInterval != 15*time.Second {
		t.Errorf("timeouts = %v, %v", opts.ConfirmTimeout, opts.HealthInterval)
	}
	if opts.TemperatureUnit != senseme.Fahrenheit {
		t.Errorf("TemperatureUnit = %q, want F", opts.TemperatureUnit)
	}
	if opts.UDPAddress != "" {
		t.Errorf("UDPAddress = %q, want empty when listen_udp is off", opts.UDPAddress)
	}

	cfg.SenseME.ListenUDP = true
	if opts, _ := bridgeOptions(cfg, nil, nil, nil, log); opts.UDPAddress != ":31415" {
		t.Errorf("UDPAddress = %q, want :31415", opts.UDPAddress)
	}
}

func TestBridgeOptions_TemperatureUnit(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, "test")

	tests := []struct {
		unit    string
		want    senseme.TemperatureUnit
		display string
	}{
		{"f", senseme.Fahrenheit, "77"},
		{"F", senseme.Fahrenheit, "77"},
		{"c", senseme.Celsius, "25"},
		{"", senseme.Celsius, "25"},
	}
	for _, tt := range tests {
		cfg := &config.Config{SenseME: config.SenseMEConfig{TemperatureUnit: tt.unit}}
		opts, err := bridgeOptions(cfg, nil, nil, nil, log)
		if err != nil {
			t.Fatalf("bridgeOptions(%q) error = %v", tt.unit, err)
		}
		if opts.TemperatureUnit != tt.want {
			t.Errorf("unit %q: TemperatureUnit = %q, want %q", tt.unit, opts.TemperatureUnit, tt.want)
		}
		if got, _ := senseme.ConvertTemperature("2500", opts.TemperatureUnit); got != tt.display {
			t.Errorf("unit %q: 2500 displayed as %q, want %q", tt.unit, got, tt.display)
		}
	}

	cfg := &config.Config{SenseME: config.SenseMEConfig{TemperatureUnit: "K"}}
	if _, err := bridgeOptions(cfg, nil, nil, nil, log); err == nil {
		t.Error("bridgeOptions(K) error = nil")
	}
}

func TestInfluxObserver_Disconnected(t *testing.T) {
	// A nil client is treated as disconnected and drops the write.
	influxObserver{}.ObserveState(senseme.StateChange{
		DeviceID:  "office",
		Attribute: senseme.AttrFanSpeed,
		Value:     "3",
		Timestamp: time.Now(),
	})
}
