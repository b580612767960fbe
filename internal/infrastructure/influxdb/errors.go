package influxdb

import "errors"

// Sentinel errors for InfluxDB operations. Check with errors.Is.
var (
	ErrNotConnected     = errors.New("influxdb: not connected")
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrWriteFailed wraps asynchronous batch failures passed to the
	// SetOnError callback.
	ErrWriteFailed = errors.New("influxdb: write failed")

	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
