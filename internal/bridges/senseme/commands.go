package senseme

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Value ranges accepted by the fan.
const (
	MinFanSpeed   = 0
	MaxFanSpeed   = 6
	MinLightLevel = 0
	MaxLightLevel = 16
)

// CommandRawName is the catalogue name for a caller-supplied raw request.
const CommandRawName = "raw"

// Request is an encoded command ready to send.
type Request struct {
	// Raw is the wire form, e.g. "<Bedroom;FAN;PWR;ON>".
	Raw string

	// Confirm lists the substrings of which a confirming frame contains
	// at least one. Empty when the command has no observable confirmation.
	Confirm []string
}

// CommandSpec describes one named command.
type CommandSpec struct {
	Name string

	// NeedsValue is true for commands that take a numeric argument.
	NeedsValue bool
	Min, Max   int

	// path builds the request tokens after the identity.
	path func(value int) []string

	// confirm builds the confirming predicates; nil means none.
	confirm func(value int) []string
}

func fixed(tokens ...string) func(int) []string {
	return func(int) []string { return tokens }
}

func expect(s ...string) func(int) []string {
	return func(int) []string { return s }
}

// speedReports are the two forms a fan uses to report its speed.
var speedReports = []string{"FAN;SPD;CURR;", "FAN;SPD;ACTUAL;"}

func speedIs(v int) []string {
	out := make([]string, len(speedReports))
	for i, p := range speedReports {
		out[i] = p + strconv.Itoa(v) + ")"
	}
	return out
}

func toggle(name string, on, off []string, confirmOn, confirmOff string) []CommandSpec {
	return []CommandSpec{
		{Name: name + "_on", path: fixed(on...), confirm: expect(confirmOn)},
		{Name: name + "_off", path: fixed(off...), confirm: expect(confirmOff)},
	}
}

// commandCatalogue is built once at init.
var commandCatalogue = buildCatalogue()

func buildCatalogue() map[string]CommandSpec {
	specs := []CommandSpec{
		{Name: "fan_on", path: fixed("FAN", "PWR", "ON"), confirm: expect("FAN;PWR;ON")},
		{Name: "fan_off", path: fixed("FAN", "PWR", "OFF"), confirm: expect("FAN;PWR;OFF")},
		{
			Name: "fan_speed", NeedsValue: true, Min: MinFanSpeed, Max: MaxFanSpeed,
			path:    func(v int) []string { return []string{"FAN", "SPD", "SET", strconv.Itoa(v)} },
			confirm: speedIs,
		},
		{Name: "fan_speed_up", path: fixed("FAN", "SPD", "INC", "1"), confirm: expect(";FAN;SPD;CURR;", ";FAN;SPD;ACTUAL;")},
		{Name: "fan_speed_down", path: fixed("FAN", "SPD", "DEC", "1"), confirm: expect(";FAN;SPD;CURR;", ";FAN;SPD;ACTUAL;")},
		{Name: "light_on", path: fixed("LIGHT", "PWR", "ON"), confirm: expect("LIGHT;PWR;ON")},
		{Name: "light_off", path: fixed("LIGHT", "PWR", "OFF"), confirm: expect("LIGHT;PWR;OFF")},
		{
			Name: "light_level", NeedsValue: true, Min: MinLightLevel, Max: MaxLightLevel,
			path:    func(v int) []string { return []string{"LIGHT", "LEVEL", "SET", strconv.Itoa(v)} },
			confirm: func(v int) []string { return []string{"LIGHT;LEVEL;ACTUAL;" + strconv.Itoa(v) + ")"} },
		},
		{Name: "direction_forward", path: fixed("FAN", "DIR", "SET", "FWD"), confirm: expect("FAN;DIR;FWD")},
		{Name: "direction_reverse", path: fixed("FAN", "DIR", "SET", "REV"), confirm: expect("FAN;DIR;REV")},
		{Name: "smart_mode_cooling", path: fixed("SMARTMODE", "STATE", "SET", "COOLING"), confirm: expect("SMARTMODE;ACTUAL;COOLING")},
		{Name: "smart_mode_heating", path: fixed("SMARTMODE", "STATE", "SET", "HEATING"), confirm: expect("SMARTMODE;ACTUAL;HEATING")},
		{Name: "smart_mode_off", path: fixed("SMARTMODE", "STATE", "SET", "OFF"), confirm: expect("SMARTMODE;ACTUAL;OFF")},
	}
	specs = append(specs, toggle("fan_auto",
		[]string{"FAN", "AUTO", "ON"}, []string{"FAN", "AUTO", "OFF"}, "FAN;AUTO;ON", "FAN;AUTO;OFF")...)
	specs = append(specs, toggle("light_auto",
		[]string{"LIGHT", "AUTO", "ON"}, []string{"LIGHT", "AUTO", "OFF"}, "LIGHT;AUTO;ON", "LIGHT;AUTO;OFF")...)
	specs = append(specs, toggle("whoosh",
		[]string{"FAN", "WHOOSH", "ON"}, []string{"FAN", "WHOOSH", "OFF"}, "FAN;WHOOSH;STATUS;ON", "FAN;WHOOSH;STATUS;OFF")...)
	specs = append(specs, toggle("beeper",
		[]string{"DEVICE", "BEEPER", "ON"}, []string{"DEVICE", "BEEPER", "OFF"}, "DEVICE;BEEPER;ON", "DEVICE;BEEPER;OFF")...)
	specs = append(specs, toggle("indicators",
		[]string{"DEVICE", "INDICATORS", "ON"}, []string{"DEVICE", "INDICATORS", "OFF"}, "DEVICE;INDICATORS;ON", "DEVICE;INDICATORS;OFF")...)
	specs = append(specs, toggle("sleep",
		[]string{"SLEEP", "STATE", "ON"}, []string{"SLEEP", "STATE", "OFF"}, "SLEEP;STATE;ON", "SLEEP;STATE;OFF")...)

	out := make(map[string]CommandSpec, len(specs))
	for _, s := range specs {
		out[s.Name] = s
	}
	return out
}

// Commands returns the catalogue names in sorted order.
func Commands() []string {
	names := make([]string, 0, len(commandCatalogue))
	for name := range commandCatalogue {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LookupCommand returns the catalogue entry for name.
func LookupCommand(name string) (CommandSpec, bool) {
	spec, ok := commandCatalogue[name]
	return spec, ok
}

// BuildCommand validates value and encodes command for the fan addressed
// by identity. value is ignored for commands that take no argument.
func BuildCommand(identity, command string, value *int) (Request, error) {
	spec, ok := commandCatalogue[command]
	if !ok {
		return Request{}, fmt.Errorf("%w: %q", ErrUnknownCommand, command)
	}

	v := 0
	if spec.NeedsValue {
		if value == nil {
			return Request{}, fmt.Errorf("%w: %s requires a value", ErrInvalidValue, command)
		}
		v = *value
		if v < spec.Min || v > spec.Max {
			return Request{}, fmt.Errorf("%w: %s must be between %d and %d, got %d",
				ErrInvalidValue, command, spec.Min, spec.Max, v)
		}
	}

	req := Request{Raw: EncodeRequest(append([]string{identity}, spec.path(v)...)...)}
	if spec.confirm != nil {
		req.Confirm = spec.confirm(v)
	}
	return req, nil
}

// BuildRaw wraps a caller-supplied request body such as "FAN;SPD;GET" for
// the fan addressed by identity. A complete "<...>" request is sent as is.
// The returned request has no confirmation; the caller supplies one.
func BuildRaw(identity, body string) (Request, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return Request{}, fmt.Errorf("%w: raw request is empty", ErrInvalidValue)
	}
	if strings.HasPrefix(body, requestOpen) && strings.HasSuffix(body, requestClose) {
		return Request{Raw: body}, nil
	}
	tokens := append([]string{identity}, strings.Split(body, fieldSeparator)...)
	return Request{Raw: EncodeRequest(tokens...)}, nil
}
