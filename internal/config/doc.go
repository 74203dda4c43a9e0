// Package config provides configuration loading and validation for the scribe
// service binaries. It handles YAML-based configuration with per-section struct
// validation for both the orchestrator daemon and the capture client.
package config
