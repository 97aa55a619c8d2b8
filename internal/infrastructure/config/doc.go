// Package config handles loading and validating cdp control plane configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (CDP_*)
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Secrets (JWT secret, MQTT password, InfluxDB token) should be set via environment variables
//   - Access keys are stored only as Argon2id hashes (see internal/auth)
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/cdp.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Devices.Policy)
package config
