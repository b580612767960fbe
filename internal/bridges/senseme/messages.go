package senseme

import (
	"errors"
	"time"
)

// MQTT payloads exchanged with home automation controllers.

// CommandMessage asks the bridge to act on a fan.
// Topic: senseme/command/{fan_id}
type CommandMessage struct {
	// ID correlates the command with its ack. Generated when empty.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`

	// DeviceID is taken from the topic when omitted.
	DeviceID string `json:"device_id,omitempty"`

	// Command is a catalogue name such as "fan_speed", or "raw".
	Command string `json:"command"`

	// Value is the argument for commands that take one.
	Value *int `json:"value,omitempty"`

	// Raw is the request body for the "raw" command, e.g. "FAN;PWR;ON".
	// It is wrapped as <identity;...> before sending.
	Raw string `json:"raw,omitempty"`

	// Predicate is the substring that confirms a "raw" command.
	Predicate string `json:"predicate,omitempty"`

	// Confirm waits for the fan to report the change before acking.
	Confirm bool `json:"confirm,omitempty"`

	// Source records where the command came from ("mqtt", "api").
	Source string `json:"source,omitempty"`
}

// AckStatus is the outcome reported for a command.
type AckStatus string

const (
	// AckAccepted means the request was written to the fan.
	AckAccepted AckStatus = "accepted"

	// AckConfirmed means the fan reported the requested change.
	AckConfirmed AckStatus = "confirmed"

	// AckFailed means the command was rejected or could not be sent.
	AckFailed AckStatus = "failed"

	// AckTimeout means the fan did not confirm in time.
	AckTimeout AckStatus = "timeout"
)

// AckMessage reports the outcome of a command.
// Topic: senseme/ack/{fan_id}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Command   string    `json:"command"`
	Status    AckStatus `json:"status"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError details a failed command.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeDeviceNotFound    = "DEVICE_NOT_FOUND"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidValue      = "INVALID_VALUE"
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeSuperseded        = "SUPERSEDED"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// ErrorCode maps a command error onto an ack error code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrDeviceNotFound):
		return ErrCodeDeviceNotFound
	case errors.Is(err, ErrUnknownCommand):
		return ErrCodeInvalidCommand
	case errors.Is(err, ErrInvalidValue):
		return ErrCodeInvalidValue
	case errors.Is(err, ErrConfirmTimeout):
		return ErrCodeTimeout
	case errors.Is(err, ErrWatchSuperseded):
		return ErrCodeSuperseded
	case errors.Is(err, ErrNotConnected), errors.Is(err, ErrConnectionFailed):
		return ErrCodeDeviceUnreachable
	default:
		return ErrCodeBridgeError
	}
}

// StateMessage carries one canonical attribute value.
// Topic: senseme/state/{fan_id}/{attribute}
// QoS: 1, Retained: Yes
type StateMessage struct {
	DeviceID  string    `json:"device_id"`
	Attribute Attribute `json:"attribute"`
	Value     string    `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// EventMessage is published for changes that should notify users, i.e.
// not for the baseline values seen after a (re)connect.
// Topic: senseme/event/{fan_id}
type EventMessage struct {
	DeviceID  string    `json:"device_id"`
	Attribute Attribute `json:"attribute"`
	Value     string    `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthStatus is the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthOffline  HealthStatus = "offline"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports bridge status.
// Topic: senseme/health
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge           string            `json:"bridge"`
	Timestamp        time.Time         `json:"timestamp"`
	Status           HealthStatus      `json:"status"`
	Version          string            `json:"version,omitempty"`
	UptimeSeconds    int64             `json:"uptime_seconds"`
	DevicesManaged   int               `json:"devices_managed"`
	DevicesConnected int               `json:"devices_connected"`
	Statistics       *BridgeStatistics `json:"statistics,omitempty"`
	Reason           string            `json:"reason,omitempty"`
}

// BridgeStatistics is the counter snapshot carried in health messages.
type BridgeStatistics struct {
	FramesProcessed   uint64 `json:"frames_processed"`
	Duplicates        uint64 `json:"duplicates"`
	Changes           uint64 `json:"changes"`
	Reinits           uint64 `json:"reinits"`
	QueueDepth        int    `json:"queue_depth"`
	QueueAccepted     uint64 `json:"queue_accepted"`
	QueueDropped      uint64 `json:"queue_dropped"`
	CommandsReceived  uint64 `json:"commands_received"`
	CommandsFailed    uint64 `json:"commands_failed"`
	DatagramsReceived uint64 `json:"datagrams_received"`
}

// NewAckMessage creates an ack for cmd.
func NewAckMessage(cmd CommandMessage, status AckStatus) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Command:   cmd.Command,
		Status:    status,
	}
}

// NewAckError creates a failure ack for cmd from err.
func NewAckError(cmd CommandMessage, err error) AckMessage {
	code := ErrorCode(err)
	status := AckFailed
	if code == ErrCodeTimeout {
		status = AckTimeout
	}
	ack := NewAckMessage(cmd, status)
	ack.Error = &AckError{Code: code, Message: err.Error()}
	return ack
}

// NewLWTMessage is the health payload the broker publishes if the bridge
// disappears.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}
