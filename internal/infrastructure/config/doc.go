// Package config handles loading and validating AutoTouch Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with AUTOTOUCH_* environment variables
//   - Validation of required fields (all problems are reported together)
//   - Default value handling
//
// Timing fields for the engine and adb are expressed in milliseconds because
// the template descriptors use the same unit; accessor methods convert them
// to time.Duration.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Templates.Root)
package config
