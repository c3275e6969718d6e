// Package config loads billingd configuration from environment variables,
// with an optional YAML overlay file for deployments that prefer files over
// env injection.
package config
