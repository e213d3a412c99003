// Package config loads, normalizes, and validates the adweave configuration.
//
// Configuration comes from a TOML file (default ~/.config/adweave/config.toml
// or ./adweave.toml) with a fixed set of environment overrides applied on top
// at load time. The resulting Config is read-only for the rest of the process.
package config
