// Package config loads the monitor configuration from a YAML file, a .env
// file, command-line flags and environment variables, and validates it.
//
// Precedence, highest first: DB_* environment variables, command-line flags,
// other environment variables, the config file, built-in defaults.
package config
