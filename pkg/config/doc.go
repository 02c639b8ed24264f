// Package config handles server-side configuration loading from a YAML file,
// environment overrides for secrets, defaults and validation.
package config
