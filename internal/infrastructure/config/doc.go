// Package config handles loading and validating the knxnetip daemon
// configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with KNXNETIP_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token, JWT secret) should be
//     set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/knxnetip.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	timings := cfg.KNX.ConnectionTimings()
package config
