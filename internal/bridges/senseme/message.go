package senseme

import "strings"

// Attribute names one field of a fan's canonical state.
type Attribute string

// Attributes reported by SenseME fans.
const (
	AttrLightLevel       Attribute = "light_level"
	AttrFanSpeed         Attribute = "fan_speed"
	AttrFanAuto          Attribute = "fan_auto"
	AttrLightAuto        Attribute = "light_auto"
	AttrLightPower       Attribute = "light_power"
	AttrFanPower         Attribute = "fan_power"
	AttrIdentity         Attribute = "identity"
	AttrSmartMode        Attribute = "smart_mode"
	AttrOccupancy        Attribute = "occupancy"
	AttrWhoosh           Attribute = "whoosh"
	AttrBeeper           Attribute = "beeper"
	AttrIndicators       Attribute = "indicators"
	AttrDirection        Attribute = "direction"
	AttrCoolingIdealTemp Attribute = "cooling_ideal_temp"
	AttrSleepIdealTemp   Attribute = "sleep_ideal_temp"
	AttrSleepMode        Attribute = "sleep_mode"

	// AttrStatus is the derived human-readable summary.
	AttrStatus Attribute = "status"
)

// valueKind says how the raw last token is turned into a canonical value.
type valueKind int

const (
	valueText valueKind = iota
	valueTemperature
	valueDirection
)

// dispatchRule maps distinguishing substrings to an attribute.
type dispatchRule struct {
	patterns []string
	attr     Attribute
	kind     valueKind
}

// dispatchTable is checked in order and the first match wins. Several
// patterns overlap, so the order is part of the protocol contract.
var dispatchTable = []dispatchRule{
	{patterns: []string{";LIGHT;LEVEL;ACTUAL;"}, attr: AttrLightLevel},
	{patterns: []string{";FAN;SPD;CURR;", ";FAN;SPD;ACTUAL;"}, attr: AttrFanSpeed},
	{patterns: []string{";FAN;AUTO;"}, attr: AttrFanAuto},
	{patterns: []string{";LIGHT;AUTO;"}, attr: AttrLightAuto},
	{patterns: []string{";LIGHT;PWR;"}, attr: AttrLightPower},
	{patterns: []string{";FAN;PWR;"}, attr: AttrFanPower},
	{patterns: []string{";DEVICE;ID;"}, attr: AttrIdentity},
	{patterns: []string{";SMARTMODE;ACTUAL"}, attr: AttrSmartMode},
	{patterns: []string{";SNSROCC;STATUS;"}, attr: AttrOccupancy},
	{patterns: []string{";FAN;WHOOSH;STATUS;"}, attr: AttrWhoosh},
	{patterns: []string{";DEVICE;BEEPER;"}, attr: AttrBeeper},
	{patterns: []string{";DEVICE;INDICATORS;"}, attr: AttrIndicators},
	{patterns: []string{";FAN;DIR;"}, attr: AttrDirection, kind: valueDirection},
	{patterns: []string{";LEARN;ZEROTEMP;"}, attr: AttrCoolingIdealTemp, kind: valueTemperature},
	{patterns: []string{";SMARTSLEEP;IDEALTEMP;"}, attr: AttrSleepIdealTemp, kind: valueTemperature},
	{patterns: []string{";SLEEP;STATE;"}, attr: AttrSleepMode},
}

// Message is one parsed inbound frame.
type Message struct {
	// Device is token 0: the fan's name or MAC, whichever it advertises.
	Device string

	// Fields are the remaining tokens in wire order.
	Fields []string

	// Raw is the unparsed payload.
	Raw string
}

// ParseMessage splits a frame payload on the field separator.
func ParseMessage(payload string) Message {
	tokens := strings.Split(payload, fieldSeparator)
	return Message{
		Device: tokens[0],
		Fields: tokens[1:],
		Raw:    payload,
	}
}

// Value returns the last token of the frame, which carries the value for
// every attribute in the dispatch table.
func (m Message) Value() string {
	if len(m.Fields) == 0 {
		return ""
	}
	return m.Fields[len(m.Fields)-1]
}

// MatchAttribute looks up the attribute a payload reports. It returns
// false for frames no rule recognises; those are ignored, not errors.
func MatchAttribute(payload string) (Attribute, bool) {
	rule, ok := matchRule(payload)
	if !ok {
		return "", false
	}
	return rule.attr, true
}

func matchRule(payload string) (dispatchRule, bool) {
	for _, rule := range dispatchTable {
		for _, p := range rule.patterns {
			if strings.Contains(payload, p) {
				return rule, true
			}
		}
	}
	return dispatchRule{}, false
}

// Direction values.
const (
	DirectionForward = "FWD"
	DirectionReverse = "REV"
)

// Reading is the canonical outcome of decoding one frame.
type Reading struct {
	Device    string
	Attribute Attribute
	Value     string
}

// Decode resolves a payload to a canonical reading. Temperatures are
// converted to unit. ok is false when the frame is not recognised or its
// value cannot be represented (unknown direction, malformed temperature).
func Decode(payload string, unit TemperatureUnit) (Reading, bool) {
	rule, ok := matchRule(payload)
	if !ok {
		return Reading{}, false
	}

	msg := ParseMessage(payload)
	value := msg.Value()
	if value == Unknown {
		return Reading{}, false
	}

	switch rule.kind {
	case valueDirection:
		if value != DirectionForward && value != DirectionReverse {
			return Reading{}, false
		}
	case valueTemperature:
		converted, err := ConvertTemperature(value, unit)
		if err != nil {
			return Reading{}, false
		}
		value = converted
	}

	return Reading{Device: msg.Device, Attribute: rule.attr, Value: value}, true
}
