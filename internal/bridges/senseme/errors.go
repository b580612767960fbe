package senseme

import "errors"

// Domain errors for the SenseME bridge package.
var (
	// ErrNotConnected is returned when an operation needs an open session
	// with the fan and there is none.
	ErrNotConnected = errors.New("senseme: not connected to fan")

	// ErrConnectionFailed is returned when dialing a fan fails. It is
	// transient; the connection manager keeps retrying.
	ErrConnectionFailed = errors.New("senseme: connection to fan failed")

	// ErrStale is reported when a session saw no traffic for longer than
	// the fan's idle timeout and was recycled.
	ErrStale = errors.New("senseme: connection stale")

	// ErrConfirmTimeout is returned by SendAndConfirm when no confirming
	// frame arrived in time.
	ErrConfirmTimeout = errors.New("senseme: command confirmation timed out")

	// ErrWatchSuperseded is returned to a SendAndConfirm caller whose watch
	// was replaced by a newer command for the same fan.
	ErrWatchSuperseded = errors.New("senseme: watch superseded by newer command")

	// ErrInvalidConfig is returned when a fan configuration is rejected
	// before any connection is attempted.
	ErrInvalidConfig = errors.New("senseme: invalid device configuration")

	// ErrDeviceNotFound is returned when no running fan has the given ID.
	ErrDeviceNotFound = errors.New("senseme: device not found")

	// ErrUnknownCommand is returned for a command name not in the catalogue.
	ErrUnknownCommand = errors.New("senseme: unknown command")

	// ErrInvalidValue is returned when a command argument is out of range.
	ErrInvalidValue = errors.New("senseme: invalid command value")

	// ErrQueryFailed is returned when a one-shot query gets no usable reply.
	ErrQueryFailed = errors.New("senseme: query failed")
)
