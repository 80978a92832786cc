// Package config provides configuration loading and validation for the
// capture agent. It handles YAML-based configuration with struct
// validation, environment-driven endpoint selection, and environment
// variable overrides for deployment-specific values.
package config
