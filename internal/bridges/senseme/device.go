package senseme

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// DeviceConfig is the persisted configuration of one fan as the bridge
// needs it. It is fixed for the lifetime of the fan's connection.
type DeviceConfig struct {
	// ID is the registry key for the fan.
	ID string

	// Name is the user-configured name. The fan answers to it until its
	// hardware identity has been learned.
	Name string

	// LearnedID is the hardware identity reported by DEVICE;ID, if seen.
	LearnedID string

	IP   string
	Port int

	// IdleTimeout recycles a silent session. Zero disables it.
	IdleTimeout time.Duration

	// TemperatureUnit is the display unit for ideal temperatures.
	TemperatureUnit TemperatureUnit
}

// Identity returns the token outbound requests are addressed to: the
// learned identity once known, otherwise the configured name.
func (d DeviceConfig) Identity() string {
	if d.LearnedID != "" {
		return d.LearnedID
	}
	return d.Name
}

// Validate rejects configurations that cannot be connected.
func (d DeviceConfig) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(d.Identity()) == "" {
		return fmt.Errorf("%w: %s: name is required", ErrInvalidConfig, d.ID)
	}
	if net.ParseIP(d.IP) == nil {
		return fmt.Errorf("%w: %s: invalid ip address %q", ErrInvalidConfig, d.ID, d.IP)
	}
	if d.Port < 0 || d.Port > 65535 {
		return fmt.Errorf("%w: %s: invalid port %d", ErrInvalidConfig, d.ID, d.Port)
	}
	if d.IdleTimeout < 0 {
		return fmt.Errorf("%w: %s: idle timeout must not be negative", ErrInvalidConfig, d.ID)
	}
	if d.TemperatureUnit != "" && d.TemperatureUnit != Celsius && d.TemperatureUnit != Fahrenheit {
		return fmt.Errorf("%w: %s: temperature unit %q", ErrInvalidConfig, d.ID, d.TemperatureUnit)
	}
	return nil
}

// unit returns the configured unit, defaulting to fallback.
func (d DeviceConfig) unit(fallback TemperatureUnit) TemperatureUnit {
	if d.TemperatureUnit != "" {
		return d.TemperatureUnit
	}
	if fallback != "" {
		return fallback
	}
	return Celsius
}
