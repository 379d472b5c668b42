// Package config loads and validates gridctl configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with GRIDCTL_* environment variables (a malformed value is
//     an error, not silently ignored)
//   - Per-device defaults (reconnect interval, queue capacity, on-connect commands)
//   - Validation of every section, reporting all problems at once
//
// Security Considerations:
//   - Broker passwords and InfluxDB tokens should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/gridctl.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	bank, err := cfg.Device("bank")
package config
