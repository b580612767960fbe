package senseme

import (
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"
)

// Unknown is the sentinel for an attribute that has not been observed
// since start or the last REINIT.
const Unknown = ""

// TemperatureUnit selects how centi-degree temperatures are displayed.
type TemperatureUnit string

// Supported temperature units.
const (
	Celsius    TemperatureUnit = "C"
	Fahrenheit TemperatureUnit = "F"
)

// ParseTemperatureUnit accepts "C", "F" and their long names.
func ParseTemperatureUnit(s string) (TemperatureUnit, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "C", "CELSIUS":
		return Celsius, nil
	case "F", "FAHRENHEIT":
		return Fahrenheit, nil
	default:
		return "", fmt.Errorf("%w: temperature unit %q", ErrInvalidConfig, s)
	}
}

// ConvertTemperature converts a raw centi-Celsius value into whole display
// degrees. Results are truncated toward zero, not rounded:
// 2500 becomes "25" in Celsius and "77" in Fahrenheit.
func ConvertTemperature(raw string, unit TemperatureUnit) (string, error) {
	centi, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return "", fmt.Errorf("parse temperature %q: %w", raw, err)
	}

	celsius := centi / 100.0
	if unit == Fahrenheit {
		return strconv.Itoa(int(celsius*9/5) + 32), nil
	}
	return strconv.Itoa(int(celsius)), nil
}

// FanState is the canonical mirror of one fan.
type FanState struct {
	DeviceID  string               `json:"device_id"`
	Identity  string               `json:"identity"`
	Values    map[Attribute]string `json:"values"`
	Summary   string               `json:"summary"`
	UpdatedAt time.Time            `json:"updated_at"`
}

func newFanState(deviceID, identity string) *FanState {
	return &FanState{
		DeviceID: deviceID,
		Identity: identity,
		Values:   make(map[Attribute]string),
	}
}

// Get returns the canonical value of attr, or Unknown.
func (s *FanState) Get(attr Attribute) string {
	return s.Values[attr]
}

// reset forgets every observed value. Identity survives.
func (s *FanState) reset() {
	clear(s.Values)
	s.Summary = Unknown
}

func (s *FanState) clone() FanState {
	out := *s
	out.Values = maps.Clone(s.Values)
	return out
}

// summarize renders the human-readable status line, e.g.
// "Fan speed 3, Light 8/16". It returns Unknown until fan or light state
// has been observed.
func summarize(values map[Attribute]string) string {
	var parts []string

	speed := values[AttrFanSpeed]
	switch {
	case values[AttrFanPower] == "OFF" || speed == "0":
		parts = append(parts, "Fan off")
	case speed != Unknown:
		parts = append(parts, "Fan speed "+speed)
	case values[AttrFanPower] == "ON":
		parts = append(parts, "Fan on")
	}

	level := values[AttrLightLevel]
	switch {
	case values[AttrLightPower] == "OFF" || level == "0":
		parts = append(parts, "Light off")
	case level != Unknown:
		parts = append(parts, "Light "+level+"/16")
	case values[AttrLightPower] == "ON":
		parts = append(parts, "Light on")
	}

	return strings.Join(parts, ", ")
}
