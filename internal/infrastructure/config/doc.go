// Package config handles loading and validating the SenseME bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with SENSEME_* environment variables
//   - Validation of required fields and fan entries
//   - Default value handling
//
// Sensitive values (MQTT password, InfluxDB token) should be set via
// environment variables and the config file kept at 0600.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, fan := range cfg.SenseME.Fans {
//	    fmt.Println(fan.Name, fan.IP)
//	}
package config
