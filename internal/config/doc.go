// Package config loads process settings from the environment and the model
// provider catalogue from an optional YAML file.
package config
