// Package config loads, validates, and normalizes the TOML configuration for
// the flixor download daemon.
package config
