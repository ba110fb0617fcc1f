// Package config provides configuration loading for the Caseta bridge.
//
// Configuration is loaded from a YAML file with three layers of precedence:
//
//  1. Hardcoded defaults (lowest)
//  2. YAML file values
//  3. CASETA_* environment variables (highest)
//
// The configuration is loaded once at startup and is immutable for the
// process lifetime. Validation failures are fatal: the bridge refuses to
// start with a partial or inconsistent configuration.
//
// Example:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.Hub.Host)
package config
