// Package config provides configuration loading and validation for the ASR
// probe and the mock ASR server. Values come from built-in defaults, are
// overlaid by an optional YAML file and finally by command line flags.
package config
