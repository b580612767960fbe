package senseme

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("x: %w", ErrDeviceNotFound), ErrCodeDeviceNotFound},
		{ErrUnknownCommand, ErrCodeInvalidCommand},
		{ErrInvalidValue, ErrCodeInvalidValue},
		{ErrConfirmTimeout, ErrCodeTimeout},
		{ErrWatchSuperseded, ErrCodeSuperseded},
		{fmt.Errorf("%w: udp", ErrNotConnected), ErrCodeDeviceUnreachable},
		{errors.New("boom"), ErrCodeBridgeError},
	}
	for _, tt := range tests {
		if got := ErrorCode(tt.err); got != tt.want {
			t.Errorf("ErrorCode(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestNewAckError(t *testing.T) {
	cmd := CommandMessage{ID: "c1", DeviceID: "bedroom", Command: "fan_on"}

	ack := NewAckError(cmd, fmt.Errorf("%w: bedroom", ErrConfirmTimeout))
	if ack.Status != AckTimeout || ack.Error == nil || ack.Error.Code != ErrCodeTimeout {
		t.Errorf("timeout ack = %+v", ack)
	}

	ack = NewAckError(cmd, ErrInvalidValue)
	if ack.Status != AckFailed || ack.CommandID != "c1" || ack.Command != "fan_on" {
		t.Errorf("failed ack = %+v", ack)
	}
}

func TestCommandMessage_JSON(t *testing.T) {
	var cmd CommandMessage
	payload := `{"id":"c1","command":"fan_speed","value":3,"confirm":true}`
	if err := json.Unmarshal([]byte(payload), &cmd); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if cmd.Value == nil || *cmd.Value != 3 || !cmd.Confirm || cmd.Command != "fan_speed" {
		t.Errorf("cmd = %+v", cmd)
	}
}

func TestNewLWTMessage(t *testing.T) {
	msg := NewLWTMessage("senseme-bridge")
	if msg.Status != HealthOffline || msg.Bridge != "senseme-bridge" || msg.Reason == "" {
		t.Errorf("LWT = %+v", msg)
	}
}
