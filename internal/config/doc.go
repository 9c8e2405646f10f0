// Package config provides configuration loading and validation for the
// whisper bridge. It handles YAML-based configuration with struct validation,
// merges file values over built-in defaults, and exposes typed duration
// accessors for time-valued settings.
package config
