// Package config handles loading and validating reolinkd configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with REOLINK_* environment variables
//   - Validation of required fields and engine limits
//   - Default value handling
//
// Security Considerations:
//   - Camera and broker passwords should be set via environment variables
//     or a config file with restricted permissions (0600)
//   - The JWT secret has no default and must be at least 32 characters
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Reolink.BatchSize)
package config
