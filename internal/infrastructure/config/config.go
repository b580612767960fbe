package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the SenseME bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge    BridgeConfig    `yaml:"bridge"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	SenseME   SenseMEConfig   `yaml:"senseme"`
}

// BridgeConfig identifies this bridge instance.
type BridgeConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	// HealthInterval is how often health is published, in seconds.
	HealthInterval int `yaml:"health_interval"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings, in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SenseMEConfig contains fan protocol settings.
type SenseMEConfig struct {
	// QueueSize is the event queue capacity.
	QueueSize int `yaml:"queue_size"`

	// ReconnectDelay is waited before reconnecting to a fan, in seconds.
	ReconnectDelay int `yaml:"reconnect_delay"`

	// RetryDelay is waited after a failed dial, in seconds.
	RetryDelay int `yaml:"retry_delay"`

	// PollInterval is the socket read deadline, in seconds.
	PollInterval int `yaml:"poll_interval"`

	// ConfirmTimeout bounds send-and-confirm commands, in seconds.
	ConfirmTimeout int `yaml:"confirm_timeout"`

	// TemperatureUnit is the default display unit: "C" or "F".
	TemperatureUnit string `yaml:"temperature_unit"`

	// ListenUDP enables the broadcast listener on the fan port.
	ListenUDP bool `yaml:"listen_udp"`

	// UDPAddress is the listener bind address.
	UDPAddress string `yaml:"udp_address"`

	// Fans seeds the fan registry on startup. Existing fans are kept.
	Fans []FanConfig `yaml:"fans"`
}

// FanConfig describes one fan in the YAML file.
type FanConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	IP   string `yaml:"ip"`

	// IdleTimeout recycles a silent session after this many minutes.
	// 0 disables it.
	IdleTimeout int `yaml:"idle_timeout"`

	// TemperatureUnit overrides senseme.temperature_unit for this fan.
	TemperatureUnit string `yaml:"temperature_unit"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SENSEME_SECTION_KEY
// For example: SENSEME_DATABASE_PATH, SENSEME_MQTT_HOST
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)
	normalizeUnits(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:             "senseme-bridge-01",
			Name:           "SenseME Bridge",
			HealthInterval: 30,
		},
		Database: DatabaseConfig{
			Path:        "./data/senseme.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "senseme-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		SenseME: SenseMEConfig{
			QueueSize:       1000,
			ReconnectDelay:  5,
			RetryDelay:      60,
			PollInterval:    5,
			ConfirmTimeout:  10,
			TemperatureUnit: "C",
			UDPAddress:      ":31415",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SENSEME_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SENSEME_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("SENSEME_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SENSEME_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("SENSEME_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SENSEME_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("SENSEME_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("SENSEME_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("SENSEME_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("SENSEME_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SENSEME_TEMPERATURE_UNIT"); v != "" {
		cfg.SenseME.TemperatureUnit = v
	}
}

// Validate checks the configuration for errors. Fan entries with a bad
// address or a blank name are rejected here, before any connection is made.
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if !validUnit(c.SenseME.TemperatureUnit) {
		errs = append(errs, fmt.Sprintf("senseme.temperature_unit %q must be C or F", c.SenseME.TemperatureUnit))
	}
	if c.SenseME.QueueSize < 1 {
		errs = append(errs, "senseme.queue_size must be positive")
	}

	seen := make(map[string]bool, len(c.SenseME.Fans))
	for i, fan := range c.SenseME.Fans {
		prefix := fmt.Sprintf("senseme.fans[%d]", i)
		switch {
		case strings.TrimSpace(fan.ID) == "":
			errs = append(errs, prefix+".id is required")
		case seen[fan.ID]:
			errs = append(errs, fmt.Sprintf("%s.id %q is duplicated", prefix, fan.ID))
		}
		seen[fan.ID] = true

		if strings.TrimSpace(fan.Name) == "" {
			errs = append(errs, prefix+".name is required")
		}
		if net.ParseIP(fan.IP) == nil {
			errs = append(errs, fmt.Sprintf("%s.ip %q is not a valid IP address", prefix, fan.IP))
		}
		if fan.IdleTimeout < 0 {
			errs = append(errs, prefix+".idle_timeout cannot be negative")
		}
		if fan.TemperatureUnit != "" && !validUnit(fan.TemperatureUnit) {
			errs = append(errs, fmt.Sprintf("%s.temperature_unit %q must be C or F", prefix, fan.TemperatureUnit))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// normalizeUnits upper-cases temperature units so "f" and "F" agree.
func normalizeUnits(cfg *Config) {
	cfg.SenseME.TemperatureUnit = strings.ToUpper(strings.TrimSpace(cfg.SenseME.TemperatureUnit))
	for i := range cfg.SenseME.Fans {
		fan := &cfg.SenseME.Fans[i]
		fan.TemperatureUnit = strings.ToUpper(strings.TrimSpace(fan.TemperatureUnit))
	}
}

func validUnit(u string) bool {
	switch strings.ToUpper(u) {
	case "C", "F":
		return true
	default:
		return false
	}
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetHealthInterval returns the health publish interval.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// seconds converts a config value in seconds; negative values pass
// through so callers can use them to disable a delay.
func seconds(v int) time.Duration {
	return time.Duration(v) * time.Second
}

// GetReconnectDelay returns the fan reconnect delay. A configured 0 means
// reconnect immediately.
func (s SenseMEConfig) GetReconnectDelay() time.Duration {
	if s.ReconnectDelay == 0 {
		return -1
	}
	return seconds(s.ReconnectDelay)
}

// GetRetryDelay returns the delay after a failed dial.
func (s SenseMEConfig) GetRetryDelay() time.Duration { return seconds(s.RetryDelay) }

// GetPollInterval returns the socket poll interval.
func (s SenseMEConfig) GetPollInterval() time.Duration { return seconds(s.PollInterval) }

// GetConfirmTimeout returns the send-and-confirm timeout.
func (s SenseMEConfig) GetConfirmTimeout() time.Duration { return seconds(s.ConfirmTimeout) }

// GetIdleTimeout returns the fan's staleness timeout.
func (f FanConfig) GetIdleTimeout() time.Duration {
	return time.Duration(f.IdleTimeout) * time.Minute
}
