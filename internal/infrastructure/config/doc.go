// Package config handles loading and validating racelights configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (RACELIGHTS_*)
//   - Validation of required fields
//   - Default value handling
//
// Durations are written as Go duration strings ("5s", "100ms", "720h").
//
// Security Considerations:
//   - Secrets (MQTT password, InfluxDB token, JWT secret) should be set via
//     environment variables rather than committed to the config file
//   - The JWT secret is only required when api.auth.enabled is true
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Relay.Port)
package config
