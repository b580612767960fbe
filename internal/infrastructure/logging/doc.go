// Package logging provides structured logging for the SenseME bridge.
//
// It wraps log/slog so every entry carries the service name and build
// version, and so every component logs the same way.
//
// Configuration (config.yaml):
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, or a file path
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	fanLogger := logger.Component("senseme").With("fan", "bedroom")
//	fanLogger.Info("connected", "address", addr)
//
// Never log secrets such as the InfluxDB token or MQTT password.
package logging
