// Package config handles loading and validating PowerWatch Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields and operational limits
//   - Resolving configuration into immutable runtime snapshots
//
// The Config struct mirrors the YAML file and is only used at load and
// reload time. The running system works exclusively from Snapshot, a
// fully resolved read-only view held in a Store and replaced atomically
// on reload. A reload that fails validation leaves the previous
// snapshot active.
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	snap, err := config.BuildSnapshot(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	store := config.NewStore(snap)
package config
