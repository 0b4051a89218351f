// Package config defines the kiosk settings and provides helpers to load,
// validate and save them in YAML format, apply environment overrides and
// watch the settings file for changes.
package config
