// Package config provides configuration loading and validation for the A2F service.
// Configuration is read from YAML on top of Default values, secrets and model paths
// can be overridden from the environment (optionally seeded from a .env file), and
// every section validates itself before the service starts.
package config
