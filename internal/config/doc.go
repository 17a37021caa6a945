// Package config loads, normalizes, and validates Loom configuration.
//
// Configuration is TOML with a single file resolved from an explicit path,
// ~/.config/loom/config.toml, or ./loom.toml. Defaults live in defaults.go;
// normalize expands paths and applies env-var credential overrides; Validate
// rejects unusable values before anything opens the database or dials a
// provider. Config values are passed explicitly into constructors; there is
// no process-wide mutable configuration.
package config
