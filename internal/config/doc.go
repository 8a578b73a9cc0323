// Package config provides configuration loading and validation for the tikun listener.
// It reads an optional .env file, a YAML configuration file and TIKUN_* environment
// overrides, and validates every section before the listener starts.
package config
